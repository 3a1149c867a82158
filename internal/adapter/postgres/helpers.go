package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// nullJSON returns nil for an empty payload so the column stays NULL.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// encodeToolCalls marshals tool calls, or returns nil when there are none.
func encodeToolCalls(calls []conversation.ToolCall) ([]byte, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("marshal tool calls: %w", err)
	}
	return b, nil
}

// scanMessage reads one conversation_messages row in messageColumns order.
func scanMessage(row scannable) (conversation.Message, error) {
	var (
		m         conversation.Message
		role      string
		toolCalls []byte
		data      []byte
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &toolCalls,
		&m.ToolCallID, &m.ToolName, &m.IsError, &data,
		&m.TokensIn, &m.TokensOut, &m.Model, &m.CreatedAt); err != nil {
		return m, err
	}
	m.Role = conversation.Role(role)
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return m, fmt.Errorf("decode tool calls of %s: %w", m.ID, err)
		}
	}
	if len(data) > 0 {
		m.Data = json.RawMessage(data)
	}
	return m, nil
}

const messageColumns = `id, conversation_id, role, content, tool_calls,
	tool_call_id, tool_name, is_error, data,
	tokens_in, tokens_out, model, created_at`
