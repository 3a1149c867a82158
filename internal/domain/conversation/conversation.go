// Package conversation defines messages, tool calls and the turn state machine.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrProtocolViolation is returned when a tool result does not answer a tool
// call of the immediately preceding assistant message.
var ErrProtocolViolation = errors.New("conversation protocol violation")

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool" // tool result
	RoleSystem    Role = "system"
)

// Message is one entry in a conversation's history.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID     string          `json:"tool_call_id,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	IsError        bool            `json:"is_error,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	TokensIn       int             `json:"tokens_in,omitempty"`
	TokensOut      int             `json:"tokens_out,omitempty"`
	Model          string          `json:"model,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// HasToolCalls reports whether m is an assistant message requesting tools.
func (m *Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ValidateSequence checks that every tool result answers a tool call issued by
// the assistant message that opened its block. Tool results may only follow
// that assistant message or other results of the same block.
func ValidateSequence(msgs []Message) error {
	var pending map[string]bool
	for i := range msgs {
		m := &msgs[i]
		switch {
		case m.Role == RoleTool:
			if !pending[m.ToolCallID] {
				return fmt.Errorf("%w: message %d answers unknown tool call %q", ErrProtocolViolation, i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)
		case m.HasToolCalls():
			pending = make(map[string]bool, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				pending[tc.ID] = true
			}
		default:
			pending = nil
		}
	}
	return nil
}

// Trim returns the newest messages of msgs that fit in max, starting at a
// user message so that no tool exchange is cut in half. When the current
// turn alone exceeds max it is kept whole. max <= 0 disables trimming.
func Trim(msgs []Message, max int) []Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	start := len(msgs) - max
	for i := start; i < len(msgs); i++ {
		if msgs[i].Role == RoleUser {
			return msgs[i:]
		}
	}
	for i := start - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i:]
		}
	}
	return msgs[start:]
}

// CountUserTurns returns the number of user messages in msgs.
func CountUserTurns(msgs []Message) int {
	n := 0
	for i := range msgs {
		if msgs[i].Role == RoleUser {
			n++
		}
	}
	return n
}

// SendMessageRequest is the request body for sending a message over the API.
type SendMessageRequest struct {
	Content string `json:"content"`
}
