// Package anthropic implements llm.ChatModel on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/llm"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 4096
)

// Model calls Claude through the official SDK.
type Model struct {
	client    anthropic.Client
	model     string
	maxTokens int
	apiKey    func() string
}

var _ llm.ChatModel = (*Model)(nil)

// Config configures the adapter. APIKey is read on every request so rotated
// keys take effect without a restart.
type Config struct {
	Model     string
	MaxTokens int
	BaseURL   string
	APIKey    func() string
}

// New creates an Anthropic chat model.
func New(cfg Config) *Model {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Model{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		apiKey:    cfg.APIKey,
	}
}

func (m *Model) Name() string { return providerName + "/" + m.model }

// Complete sends the conversation and returns text or tool calls.
func (m *Model) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if m.apiKey == nil || m.apiKey() == "" {
		return nil, errors.New("anthropic: api key not configured")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
		Tools:     convertTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := m.client.Messages.New(ctx, params, option.WithAPIKey(m.apiKey()))
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	resp := &llm.Response{
		Model:     string(msg.Model),
		TokensIn:  int(msg.Usage.InputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += b.Text
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic tool input for %s: %w", b.Name, err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	return resp, nil
}

// convertMessages maps history to Anthropic turns. Tool results become
// tool_result blocks in a user turn, and adjacent turns of the same role are
// merged since the API expects alternating roles.
func convertMessages(msgs []conversation.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case conversation.RoleUser:
			push(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
		case conversation.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks...)
		case conversation.RoleTool:
			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		}
	}
	return out
}

func convertTools(tools []tool.Descriptor) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: tools[i].Properties()}
		if req := tools[i].Required(); len(req) > 0 {
			schema.Required = req
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, tools[i].Name)
		if tools[i].Description != "" {
			out[i].OfTool.Description = anthropic.String(tools[i].Description)
		}
	}
	return out
}
