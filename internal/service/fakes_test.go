package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/mcp"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/llm"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messenger"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/tooltransport"
)

var errUnreachable = errors.New("connection refused")

// fakeTransport serves fixed catalogs and records calls.
type fakeTransport struct {
	mu       sync.Mutex
	catalogs map[string][]tooltransport.Operation
	down     map[string]bool
	lists    map[string]int
	calls    []string
	call     func(server, op string, args map[string]any) (tool.Result, error)
	delay    time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		catalogs: make(map[string][]tooltransport.Operation),
		down:     make(map[string]bool),
		lists:    make(map[string]int),
	}
}

func (f *fakeTransport) ListTools(_ context.Context, s mcp.ServerDef) ([]tooltransport.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[s.Name]++
	if f.down[s.Name] {
		return nil, errUnreachable
	}
	return f.catalogs[s.Name], nil
}

func (f *fakeTransport) Call(ctx context.Context, s mcp.ServerDef, op string, args map[string]any) (tool.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, s.Name+"/"+op)
	fn := f.call
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return tool.Result{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(s.Name, op, args)
	}
	return tool.Result{Text: s.Name + "/" + op + " ok"}, nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) listCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[name]
}

func (f *fakeTransport) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// mapCache is an in-memory cache.Cache ignoring TTLs.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// scriptedModel returns queued responses in order and records requests.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
	always    *llm.Response // returned once the script runs out
}

func (m *scriptedModel) Name() string { return "fake/model" }

func (m *scriptedModel) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.Messages = append(req.Messages[:0:0], req.Messages...)
	m.requests = append(m.requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(m.responses) > 0 {
		r := m.responses[0]
		m.responses = m.responses[1:]
		return r, nil
	}
	if m.always != nil {
		return m.always, nil
	}
	return &llm.Response{Text: "done"}, nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// recordingSender records every sent part.
type recordingSender struct {
	mu     sync.Mutex
	max    int
	sent   []string
	to     []string
	failAt int // 1-based part index that fails; 0 never
	err    error
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) Capabilities() messenger.Capabilities {
	return messenger.Capabilities{MaxMessageLength: s.max}
}

func (s *recordingSender) Send(_ context.Context, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.sent)+1 == s.failAt {
		s.failAt = 0
		return "", s.err
	}
	s.sent = append(s.sent, body)
	s.to = append(s.to, to)
	return "SM" + to, nil
}

func (s *recordingSender) parts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// recordingHub captures broadcast events.
type recordingHub struct {
	mu     sync.Mutex
	events []any
	types  []string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.types = append(h.types, eventType)
	h.events = append(h.events, payload)
}

func (h *recordingHub) snapshot() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.events...)
}
