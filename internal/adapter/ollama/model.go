// Package ollama implements llm.ChatModel on a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/llm"
)

const providerName = "ollama"

// Model calls the Ollama chat endpoint without streaming.
type Model struct {
	client *api.Client
	model  string
}

var _ llm.ChatModel = (*Model)(nil)

// New creates an Ollama chat model for the server at baseURL.
func New(baseURL, model string) (*Model, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	if model == "" {
		model = "llama3.1:latest"
	}
	return &Model{client: api.NewClient(u, http.DefaultClient), model: model}, nil
}

func (m *Model) Name() string { return providerName + "/" + m.model }

// Complete sends the conversation and returns text or tool calls. Ollama
// does not issue call ids, so ids are generated here.
func (m *Model) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model:    m.model,
		Messages: convertMessages(req.System, req.Messages),
		Tools:    convertTools(req.Tools),
		Stream:   &stream,
	}
	if req.MaxTokens > 0 {
		chatReq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var final api.ChatResponse
	err := m.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	resp := &llm.Response{
		Text:      final.Message.Content,
		Model:     final.Model,
		TokensIn:  final.PromptEvalCount,
		TokensOut: final.EvalCount,
	}
	for _, tc := range final.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: map[string]any(tc.Function.Arguments),
		})
	}
	return resp, nil
}

func convertMessages(system string, msgs []conversation.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case conversation.RoleUser:
			out = append(out, api.Message{Role: "user", Content: m.Content})
		case conversation.RoleAssistant:
			am := api.Message{Role: "assistant", Content: m.Content}
			for _, tc := range m.ToolCalls {
				am.ToolCalls = append(am.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
			out = append(out, am)
		case conversation.RoleTool:
			out = append(out, api.Message{Role: "tool", Content: m.Content, ToolName: m.ToolName})
		}
	}
	return out
}

// convertTools decodes each input schema straight into Ollama's parameter
// type, which shares the JSON schema field names.
func convertTools(tools []tool.Descriptor) []api.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]api.Tool, 0, len(tools))
	for i := range tools {
		var params api.ToolFunctionParameters
		raw, _ := json.Marshal(tools[i].Schema())
		_ = json.Unmarshal(raw, &params)
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tools[i].Name,
				Description: tools[i].Description,
				Parameters:  params,
			},
		})
	}
	return out
}
