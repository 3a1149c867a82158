// Package tooltransport defines the port for reaching remote tool services.
package tooltransport

import (
	"context"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/mcp"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
)

// Operation is one tool as advertised by a service, before namespacing.
type Operation struct {
	Name        string
	Description string
	InputSchema []byte
}

// Transport lists and invokes the operations of remote tool services.
// Implementations are safe for concurrent use: several calls to the same
// service may be in flight at once.
type Transport interface {
	// ListTools returns the operations the service currently offers.
	ListTools(ctx context.Context, server mcp.ServerDef) ([]Operation, error)

	// Call invokes operation on the service. A tool-level failure is reported
	// as a Result with IsError set; a non-nil error means the call itself
	// could not be completed.
	Call(ctx context.Context, server mcp.ServerDef, operation string, args map[string]any) (tool.Result, error)

	// Close releases all open connections.
	Close() error
}
