// Package conversationstore defines the persistence port for conversation history.
package conversationstore

import (
	"context"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
)

// Store keeps ordered message histories keyed by conversation id. A
// conversation is created by its first Append. Implementations apply the
// configured message cap after every Append.
type Store interface {
	Append(ctx context.Context, conversationID string, msgs ...conversation.Message) error
	History(ctx context.Context, conversationID string) ([]conversation.Message, error)
	Clear(ctx context.Context, conversationID string) error
	Close() error
}
