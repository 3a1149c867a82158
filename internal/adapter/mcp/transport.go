// Package mcp connects to remote tool services over the Model Context
// Protocol and hosts tool services of its own.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/mcp"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/tooltransport"
)

// ClientName is announced to remote services during the handshake.
const ClientName = "cerebro"

// Transport implements tooltransport.Transport with one lazily initialized
// client per service. A client that fails a request is dropped and rebuilt
// on the next use. Transport is safe for concurrent use.
//
// Sessions live until Forget or Close. Caller contexts only bound how long a
// request waits for the handshake, never the session itself: SSE streams are
// tied to the context they were started with.
type Transport struct {
	version          string
	handshakeTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*session
}

type session struct {
	ready  chan struct{} // closed once client or err is set
	cancel context.CancelFunc
	client *mcpclient.Client
	err    error
}

// shutdown aborts a pending handshake and closes the client.
func (s *session) shutdown() error {
	s.cancel()
	<-s.ready
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ tooltransport.Transport = (*Transport)(nil)

// DefaultHandshakeTimeout bounds starting and initializing one session.
const DefaultHandshakeTimeout = 30 * time.Second

// NewTransport returns a Transport that announces the given client version.
func NewTransport(version string) *Transport {
	return &Transport{
		version:          version,
		handshakeTimeout: DefaultHandshakeTimeout,
		clients:          make(map[string]*session),
	}
}

// ListTools returns the operations the service exposes.
func (t *Transport) ListTools(ctx context.Context, def mcp.ServerDef) ([]tooltransport.Operation, error) {
	s, err := t.session(ctx, def)
	if err != nil {
		return nil, err
	}
	res, err := s.client.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		if ctx.Err() == nil {
			t.drop(def.Name, s)
		}
		return nil, fmt.Errorf("list tools on %s: %w", def.Name, err)
	}

	ops := make([]tooltransport.Operation, 0, len(res.Tools))
	for i := range res.Tools {
		ops = append(ops, tooltransport.Operation{
			Name:        res.Tools[i].Name,
			Description: res.Tools[i].Description,
			InputSchema: inputSchema(&res.Tools[i]),
		})
	}
	return ops, nil
}

// Call invokes one operation. A tool-level failure reported by the service
// is returned as a Result with IsError set, not as an error.
func (t *Transport) Call(ctx context.Context, def mcp.ServerDef, operation string, args map[string]any) (tool.Result, error) {
	s, err := t.session(ctx, def)
	if err != nil {
		return tool.Result{}, err
	}
	res, err := s.client.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: operation, Arguments: args},
	})
	if err != nil {
		// A caller giving up says nothing about the session.
		if ctx.Err() == nil {
			t.drop(def.Name, s)
		}
		return tool.Result{}, fmt.Errorf("call %s on %s: %w", operation, def.Name, err)
	}
	return convertResult(res), nil
}

// Forget closes and removes the client of a service, if any.
func (t *Transport) Forget(name string) {
	t.mu.Lock()
	s, ok := t.clients[name]
	delete(t.clients, name)
	t.mu.Unlock()
	if ok {
		_ = s.shutdown()
	}
}

// Close closes every open client.
func (t *Transport) Close() error {
	t.mu.Lock()
	sessions := t.clients
	t.clients = make(map[string]*session)
	t.mu.Unlock()

	for name, s := range sessions {
		if err := s.shutdown(); err != nil {
			slog.Warn("mcp client close failed", "server", name, "error", err)
		}
	}
	return nil
}

// session returns the ready session for def, starting one if needed. The
// handshake runs detached from ctx; ctx only limits the wait.
func (t *Transport) session(ctx context.Context, def mcp.ServerDef) (*session, error) {
	t.mu.Lock()
	s, ok := t.clients[def.Name]
	if !ok {
		lifetime, cancel := context.WithCancel(context.Background())
		s = &session{ready: make(chan struct{}), cancel: cancel}
		t.clients[def.Name] = s
		go func() {
			defer close(s.ready)
			s.client, s.err = t.connect(lifetime, def)
			if s.err != nil {
				cancel()
			}
		}()
	}
	t.mu.Unlock()

	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("connect %s: %w", def.Name, ctx.Err())
	}
	if s.err != nil {
		t.mu.Lock()
		if t.clients[def.Name] == s {
			delete(t.clients, def.Name)
		}
		t.mu.Unlock()
		return nil, s.err
	}
	return s, nil
}

func (t *Transport) drop(name string, s *session) {
	t.mu.Lock()
	ok := t.clients[name] == s
	if ok {
		delete(t.clients, name)
	}
	t.mu.Unlock()
	if ok {
		slog.Warn("mcp client dropped after failure", "server", name)
		_ = s.shutdown()
	}
}

// connect builds, starts and initializes a client for def. lifetime bounds
// the session; the handshake is additionally bounded by handshakeTimeout.
func (t *Transport) connect(lifetime context.Context, def mcp.ServerDef) (*mcpclient.Client, error) {
	c, err := createClient(&def)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", def.Name, err)
	}
	if def.Transport != mcp.TransportStdio {
		if err := c.Start(lifetime); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("start %s transport for %s: %w", def.Transport, def.Name, err)
		}
	}

	hctx, cancel := context.WithTimeout(lifetime, t.handshakeTimeout)
	defer cancel()
	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{Name: ClientName, Version: t.version}
	info, err := c.Initialize(hctx, initReq)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize %s: %w", def.Name, err)
	}
	slog.Info("mcp server connected",
		"server", def.Name,
		"transport", def.Transport,
		"remote", info.ServerInfo.Name,
		"remote_version", info.ServerInfo.Version,
	)
	return c, nil
}

// createClient builds an mcp-go client for the given server definition.
func createClient(def *mcp.ServerDef) (*mcpclient.Client, error) {
	switch def.Transport {
	case mcp.TransportStdio:
		return mcpclient.NewStdioMCPClient(def.Command, def.EnvList(), def.Args...)

	case mcp.TransportSSE:
		var opts []transport.ClientOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(def.Headers))
		}
		return mcpclient.NewSSEMCPClient(def.URL, opts...)

	case mcp.TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(def.Headers))
		}
		return mcpclient.NewStreamableHttpClient(def.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", def.Transport)
	}
}

// inputSchema extracts the JSON schema of a remote tool. A tool that carries
// a raw schema keeps it verbatim.
func inputSchema(t *mcplib.Tool) []byte {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema
	}
	data, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil
	}
	return data
}

// convertResult flattens text content into Result.Text and keeps structured
// content as Result.Data.
func convertResult(res *mcplib.CallToolResult) tool.Result {
	var b strings.Builder
	for _, c := range res.Content {
		tc, ok := mcplib.AsTextContent(c)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(tc.Text)
	}
	out := tool.Result{Text: b.String(), IsError: res.IsError}
	if res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			out.Data = data
		}
	}
	return out
}
