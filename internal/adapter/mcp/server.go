package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// ServerConfig holds the settings for a hosted tool service.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// APIKey guards the protocol endpoints. Empty disables the check.
	APIKey string
}

// Server exposes a set of tools over streamable HTTP (/mcp) and SSE
// (/sse and /message).
type Server struct {
	cfg       ServerConfig
	mcpServer *mcpserver.MCPServer
	http      *http.Server
	listener  net.Listener
}

// NewServer creates a Server with the given tools registered.
func NewServer(cfg ServerConfig, tools ...mcpserver.ServerTool) *Server {
	s := &Server{
		cfg: cfg,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
		),
	}
	if len(tools) > 0 {
		s.mcpServer.AddTools(tools...)
	}
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the HTTP routes of the service.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","service":%q,"tools":%d}`, s.cfg.Name, len(s.mcpServer.ListTools()))
	})

	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	sse := mcpserver.NewSSEServer(s.mcpServer)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return AuthMiddleware(s.cfg.APIKey, next) })
		r.Handle("/mcp", streamable)
		r.Handle("/sse", sse)
		r.Handle("/message", sse)
	})
	return r
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("tool server stopped", "error", err)
		}
	}()
	slog.Info("tool server listening", "addr", ln.Addr().String(), "name", s.cfg.Name)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
