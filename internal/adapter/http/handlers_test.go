package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	cbhttp "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/http"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/memory"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/mcp"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/middleware"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/llm"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/tooltransport"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/service"
)

type stubTransport struct{}

func (stubTransport) ListTools(context.Context, mcp.ServerDef) ([]tooltransport.Operation, error) {
	return []tooltransport.Operation{{Name: "get_orders", Description: "Orders"}}, nil
}

func (stubTransport) Call(context.Context, mcp.ServerDef, string, map[string]any) (tool.Result, error) {
	return tool.Result{Text: "3 orders"}, nil
}

func (stubTransport) Close() error { return nil }

// echoModel calls shopify_get_orders once, then echoes the last tool result.
type echoModel struct{}

func (echoModel) Name() string { return "echo" }

func (echoModel) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	if last.Role == conversation.RoleUser {
		return &llm.Response{ToolCalls: []conversation.ToolCall{{ID: "c1", Name: "shopify_get_orders"}}}, nil
	}
	return &llm.Response{Text: "You have " + last.Content}, nil
}

type chanDeliverer struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
}

func (d *chanDeliverer) Deliver(_ context.Context, to, text string) (int, error) {
	d.mu.Lock()
	d.sent = append(d.sent, to+"|"+text)
	d.mu.Unlock()
	d.done <- struct{}{}
	return 1, nil
}

type fixture struct {
	router    http.Handler
	deliverer *chanDeliverer
	store     *memory.Store
}

func newFixture(t *testing.T, cfg cbhttp.RouteConfig) *fixture {
	t.Helper()
	reg := service.NewRegistryService(stubTransport{}, nil, service.RegistryConfig{})
	reg.SetServers([]mcp.ServerDef{{Name: "shopify", Transport: mcp.TransportStreamableHTTP, URL: "http://x", Enabled: true}})

	store := memory.NewStore(0)
	agent := service.NewAgentService(store, reg, echoModel{}, nil, service.AgentConfig{})
	d := &chanDeliverer{done: make(chan struct{}, 4)}
	inbound := service.NewInboundService(agent, d, nil, nil, service.InboundConfig{})
	t.Cleanup(func() { _ = inbound.Stop(context.Background()) })

	h := &cbhttp.Handlers{
		Agent:    agent,
		Registry: reg,
		Inbound:  inbound,
		Service:  "cerebro",
		Version:  "test",
		Limits:   cbhttp.Limits{MaxRequestBodySize: 1 << 20},
	}
	r := chi.NewRouter()
	cbhttp.MountRoutes(r, h, cfg)
	return &fixture{router: r, deliverer: d, store: store}
}

func (f *fixture) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestTwilioWebhookAcksAndReplies(t *testing.T) {
	f := newFixture(t, cbhttp.RouteConfig{})
	form := url.Values{"From": {"whatsapp:+573001112233"}, "Body": {"orders?"}, "MessageSid": {"SM1"}}

	rec := f.do(http.MethodPost, "/webhook/twilio", form.Encode(), map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("expected text/xml, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<Response></Response>") {
		t.Errorf("expected empty TwiML, got %s", rec.Body.String())
	}

	select {
	case <-f.deliverer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reply not delivered")
	}
	f.deliverer.mu.Lock()
	defer f.deliverer.mu.Unlock()
	if f.deliverer.sent[0] != "whatsapp:+573001112233|You have 3 orders" {
		t.Errorf("unexpected delivery %q", f.deliverer.sent[0])
	}
}

func TestTwilioWebhookSignature(t *testing.T) {
	token := func() string { return "tok" }
	f := newFixture(t, cbhttp.RouteConfig{TwilioAuthToken: token, PublicURL: "https://bot.example.com"})
	form := url.Values{"From": {"whatsapp:+57300"}, "Body": {"hi"}}
	hdr := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	if rec := f.do(http.MethodPost, "/webhook/twilio", form.Encode(), hdr); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected unsigned request rejected, got %d", rec.Code)
	}

	hdr["X-Twilio-Signature"] = middleware.TwilioSign("tok", "https://bot.example.com/webhook/twilio", form)
	if rec := f.do(http.MethodPost, "/webhook/twilio", form.Encode(), hdr); rec.Code != http.StatusOK {
		t.Errorf("expected signed request accepted, got %d", rec.Code)
	}
}

func TestTwilioWebhookBodyLimitAppliesBeforeSignature(t *testing.T) {
	token := func() string { return "tok" }
	f := newFixture(t, cbhttp.RouteConfig{TwilioAuthToken: token, PublicURL: "https://bot.example.com"})
	form := url.Values{"From": {"whatsapp:+57300"}, "Body": {strings.Repeat("x", 2<<20)}}
	hdr := map[string]string{
		"Content-Type":       "application/x-www-form-urlencoded",
		"X-Twilio-Signature": middleware.TwilioSign("tok", "https://bot.example.com/webhook/twilio", form),
	}

	if rec := f.do(http.MethodPost, "/webhook/twilio", form.Encode(), hdr); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for a signed 2 MiB body, got %d", rec.Code)
	}
	select {
	case <-f.deliverer.done:
		t.Error("oversized webhook produced a reply")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTwilioWebhookMissingSender(t *testing.T) {
	f := newFixture(t, cbhttp.RouteConfig{})
	rec := f.do(http.MethodPost, "/webhook/twilio", "Body=hi", map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestToolsEndpoints(t *testing.T) {
	f := newFixture(t, cbhttp.RouteConfig{})

	rec := f.do(http.MethodGet, "/api/v1/tools", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var tools struct {
		Tools []tool.Descriptor `json:"tools"`
		Count int               `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&tools); err != nil {
		t.Fatal(err)
	}
	if tools.Count != 1 || tools.Tools[0].Name != "shopify_get_orders" {
		t.Errorf("unexpected catalog %+v", tools)
	}

	rec = f.do(http.MethodPost, "/api/v1/tools/refresh", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"connected"`) {
		t.Errorf("unexpected refresh response %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/health", "", nil)
	if !strings.Contains(rec.Body.String(), `"tools":1`) {
		t.Errorf("expected tool count in health, got %s", rec.Body.String())
	}
}

func TestConversationEndpoints(t *testing.T) {
	f := newFixture(t, cbhttp.RouteConfig{})
	id := url.PathEscape("whatsapp:+57300")

	rec := f.do(http.MethodPost, "/api/v1/conversations/"+id+"/messages", `{"content":"orders?"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res conversation.TurnResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.State != conversation.TurnDone || res.Reply != "You have 3 orders" || res.ConversationID != "whatsapp:+57300" {
		t.Fatalf("unexpected result %+v", res)
	}

	rec = f.do(http.MethodGet, "/api/v1/conversations/"+id, "", nil)
	var hist struct {
		Messages []conversation.Message `json:"messages"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Messages) != 4 {
		t.Errorf("expected 4 stored messages, got %d", len(hist.Messages))
	}

	if rec = f.do(http.MethodDelete, "/api/v1/conversations/"+id, "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = f.do(http.MethodGet, "/api/v1/conversations/"+id, "", nil)
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Errorf("expected empty history after delete, got %s", rec.Body.String())
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, cbhttp.RouteConfig{})
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"empty content", `{"content":"  "}`, http.StatusBadRequest},
		{"too large", `{"content":"` + strings.Repeat("x", 2<<20) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(http.MethodPost, "/api/v1/conversations/c1/messages", tt.body, nil); rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAPIKeyGuardsAPIOnly(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("k"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, cbhttp.RouteConfig{APIKeyHash: string(hash)})

	if rec := f.do(http.MethodGet, "/api/v1/tools", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/tools", "", map[string]string{"X-API-Key": "k"}); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected health open, got %d", rec.Code)
	}
}
