// Package mcp describes remote tool services reached over the Model Context
// Protocol, independent of the client library used to talk to them.
package mcp

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain"
)

// TransportType identifies how a tool service is reached.
type TransportType string

const (
	TransportStdio          TransportType = "stdio"
	TransportSSE            TransportType = "sse"
	TransportStreamableHTTP TransportType = "streamable_http"
)

var validTransports = map[TransportType]bool{
	TransportStdio:          true,
	TransportSSE:            true,
	TransportStreamableHTTP: true,
}

// ServerStatus is the last known state of a tool service.
type ServerStatus string

const (
	ServerStatusRegistered  ServerStatus = "registered"
	ServerStatusConnected   ServerStatus = "connected"
	ServerStatusUnreachable ServerStatus = "unreachable"
)

// ServerDef describes one remote tool service. Name doubles as the namespace
// prefix of the service's tools.
type ServerDef struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Transport   TransportType     `json:"transport"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	URL         string            `json:"url,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// Validate checks required and transport-specific fields. Errors wrap
// domain.ErrValidation.
func (s *ServerDef) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if strings.ContainsAny(s.Name, " \t\n/") {
		return fmt.Errorf("%w: name %q must not contain whitespace or slashes", domain.ErrValidation, s.Name)
	}
	if s.Transport == "" {
		return fmt.Errorf("%w: transport is required", domain.ErrValidation)
	}
	if !validTransports[s.Transport] {
		return fmt.Errorf("%w: invalid transport %q (must be stdio, sse or streamable_http)", domain.ErrValidation, s.Transport)
	}

	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("%w: command is required for stdio transport", domain.ErrValidation)
		}
	case TransportSSE, TransportStreamableHTTP:
		if s.URL == "" {
			return fmt.Errorf("%w: url is required for %s transport", domain.ErrValidation, s.Transport)
		}
	}
	return nil
}

// EnvList returns Env as KEY=VALUE pairs sorted by key.
func (s *ServerDef) EnvList() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

// ServerState is the health snapshot of a service after a catalog refresh.
type ServerState struct {
	Name      string       `json:"name"`
	Status    ServerStatus `json:"status"`
	Tools     int          `json:"tools"`
	Error     string       `json:"error,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}
