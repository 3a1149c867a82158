// Package llm defines the chat model port used by the conversation loop.
package llm

import (
	"context"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
)

// Request is one model invocation: system prompt, full history and the
// complete tool catalog the model may call.
type Request struct {
	System    string
	Messages  []conversation.Message
	Tools     []tool.Descriptor
	MaxTokens int
}

// Response is the model's reply. A response with ToolCalls asks the caller to
// run them and call the model again; otherwise Text is the final answer.
type Response struct {
	Text      string
	ToolCalls []conversation.ToolCall
	Model     string
	TokensIn  int
	TokensOut int
}

// ChatModel completes a conversation. Implementations must be safe for
// concurrent use across conversations.
type ChatModel interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}
