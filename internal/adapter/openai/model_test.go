package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/llm"
)

func key() string { return "sk-test" }

func TestCompleteToolCalls(t *testing.T) {
	var body struct {
		Messages []map[string]any `json:"messages"`
		Tools    []map[string]any `json:"tools"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{
				"role":"assistant","content":null,
				"tool_calls":[{"id":"call_1","type":"function","function":{"name":"meta_get_spend","arguments":"{\"days\":3}"}}]
			}}],
			"usage":{"prompt_tokens":20,"completion_tokens":4,"total_tokens":24}
		}`))
	}))
	defer srv.Close()

	m := New(Config{Model: "gpt-test", BaseURL: srv.URL, APIKey: key})
	resp, err := m.Complete(context.Background(), llm.Request{
		System: "sys",
		Messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: "spend?"},
			{Role: conversation.RoleAssistant, ToolCalls: []conversation.ToolCall{{ID: "old", Name: "meta_get_spend", Arguments: map[string]any{"days": 1}}}},
			{Role: conversation.RoleTool, ToolCallID: "old", Content: "10 USD"},
			{Role: conversation.RoleAssistant, Content: "10 USD yesterday"},
			{Role: conversation.RoleUser, Content: "and 3 days?"},
		},
		Tools: []tool.Descriptor{{Name: "meta_get_spend", Description: "ad spend"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Arguments["days"] != float64(3) {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.TokensIn != 20 || resp.TokensOut != 4 || resp.Model != "gpt-test" {
		t.Errorf("unexpected metadata %+v", resp)
	}

	if len(body.Messages) != 6 {
		t.Fatalf("expected system plus 5 messages, got %d", len(body.Messages))
	}
	if body.Messages[0]["role"] != "system" || body.Messages[3]["role"] != "tool" {
		t.Errorf("unexpected roles %v / %v", body.Messages[0]["role"], body.Messages[3]["role"])
	}
	if len(body.Tools) != 1 {
		t.Errorf("expected 1 tool, got %d", len(body.Tools))
	}
}

func TestCompleteText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hola"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	m := New(Config{Model: "gpt-test", BaseURL: srv.URL, APIKey: key})
	resp, err := m.Complete(context.Background(), llm.Request{
		Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hola" || len(resp.ToolCalls) != 0 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestCompleteMissingKey(t *testing.T) {
	m := New(Config{Model: "gpt-test"})
	if _, err := m.Complete(context.Background(), llm.Request{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
