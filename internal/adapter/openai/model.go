// Package openai implements llm.ChatModel on OpenAI-compatible chat completions.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/llm"
)

const providerName = "openai"

// Config configures the adapter. APIKey is read on every request.
type Config struct {
	Model     string
	MaxTokens int
	BaseURL   string
	APIKey    func() string
}

// Model calls the chat completions endpoint.
type Model struct {
	client    openai.Client
	model     string
	maxTokens int
	apiKey    func() string
}

var _ llm.ChatModel = (*Model)(nil)

// New creates an OpenAI chat model.
func New(cfg Config) *Model {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Model{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		apiKey:    cfg.APIKey,
	}
}

func (m *Model) Name() string { return providerName + "/" + m.model }

// Complete sends the conversation and returns text or tool calls.
func (m *Model) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if m.apiKey == nil || m.apiKey() == "" {
		return nil, errors.New("openai: api key not configured")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.model),
		Messages: convertMessages(req.System, req.Messages),
		Tools:    convertTools(req.Tools),
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	completion, err := m.client.Chat.Completions.New(ctx, params, option.WithAPIKey(m.apiKey()))
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai chat: no choices returned")
	}

	msg := completion.Choices[0].Message
	resp := &llm.Response{
		Text:      msg.Content,
		Model:     completion.Model,
		TokensIn:  int(completion.Usage.PromptTokens),
		TokensOut: int(completion.Usage.CompletionTokens),
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("openai tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return resp, nil
}

func convertMessages(system string, msgs []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case conversation.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case conversation.RoleAssistant:
			if !m.HasToolCalls() {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(args),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

func convertTools(tools []tool.Descriptor) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i := range tools {
		out[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tools[i].Name,
			Description: openai.String(tools[i].Description),
			Parameters:  openai.FunctionParameters(tools[i].Schema()),
		})
	}
	return out
}
