package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/mcp"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/cache"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/tooltransport"
)

const catalogKeyPrefix = "catalog:"

// RegistryConfig tunes catalog discovery.
type RegistryConfig struct {
	CatalogTTL  time.Duration // catalog lifetime before rediscovery; 0 keeps it until Refresh
	ListTimeout time.Duration // per-service discovery timeout
}

// RegistryService keeps the catalog of namespaced tools offered by the
// configured tool services and routes invocations to them.
type RegistryService struct {
	transport tooltransport.Transport
	cache     cache.Cache
	cfg       RegistryConfig

	// refreshMu serializes catalog rebuilds.
	refreshMu sync.Mutex

	mu      sync.RWMutex
	servers []mcp.ServerDef
	tools   map[string]*registeredTool
	states  map[string]mcp.ServerState
	loaded   bool
	loadedAt time.Time
}

type registeredTool struct {
	desc   tool.Descriptor
	server mcp.ServerDef
	schema *gojsonschema.Schema
}

// NewRegistryService creates a registry. c may be nil to disable catalog
// caching.
func NewRegistryService(transport tooltransport.Transport, c cache.Cache, cfg RegistryConfig) *RegistryService {
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 10 * time.Second
	}
	return &RegistryService{
		transport: transport,
		cache:     c,
		cfg:       cfg,
		tools:     make(map[string]*registeredTool),
		states:    make(map[string]mcp.ServerState),
	}
}

// SetServers replaces the service definitions. Disabled services are kept
// for reporting but never queried. The catalog is rebuilt on next use.
func (s *RegistryService) SetServers(defs []mcp.ServerDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = append([]mcp.ServerDef(nil), defs...)
	s.loaded = false
}

// Servers returns the health snapshot of every enabled service.
func (s *RegistryService) Servers() []mcp.ServerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.ServerState, 0, len(s.servers))
	for i := range s.servers {
		if !s.servers[i].Enabled {
			continue
		}
		st, ok := s.states[s.servers[i].Name]
		if !ok {
			st = mcp.ServerState{Name: s.servers[i].Name, Status: mcp.ServerStatusRegistered}
		}
		out = append(out, st)
	}
	return out
}

// Refresh queries every enabled service for its catalog, bypassing the
// cache, and rebuilds the tool map. Unreachable services are logged and
// omitted; the rest still register.
func (s *RegistryService) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.load(ctx, false)
}

// ListTools returns the active catalog sorted by name, populating it on
// first use.
func (s *RegistryService) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tool.Descriptor, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Invoke resolves a namespaced tool and calls it. Arguments failing the
// tool's input schema produce an error result without contacting the
// service. An unknown name returns tool.ErrNotFound.
func (s *RegistryService) Invoke(ctx context.Context, name string, args map[string]any) (tool.Result, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return tool.Result{}, err
	}
	s.mu.RLock()
	t, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return tool.Result{}, fmt.Errorf("%w: %s", tool.ErrNotFound, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if msg := validateArgs(t.schema, args); msg != "" {
		return tool.ErrorResult(fmt.Sprintf("invalid arguments for %s: %s", name, msg)), nil
	}
	return s.transport.Call(ctx, t.server, t.desc.Operation, args)
}

func (s *RegistryService) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	fresh := s.freshLocked()
	s.mu.RUnlock()
	if fresh {
		return nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.mu.RLock()
	fresh, first := s.freshLocked(), !s.loaded
	s.mu.RUnlock()
	if fresh {
		return nil
	}
	// Shared cache entries only seed the first load; a stale catalog is
	// rediscovered from the services.
	return s.load(ctx, first)
}

// freshLocked reports whether the catalog is loaded and younger than
// CatalogTTL. Callers hold mu.
func (s *RegistryService) freshLocked() bool {
	if !s.loaded {
		return false
	}
	return s.cfg.CatalogTTL <= 0 || time.Since(s.loadedAt) < s.cfg.CatalogTTL
}

type catalog struct {
	server mcp.ServerDef
	ops    []tooltransport.Operation
	state  mcp.ServerState
}

// load rebuilds the catalog. Callers hold refreshMu.
func (s *RegistryService) load(ctx context.Context, useCache bool) error {
	s.mu.RLock()
	var enabled []mcp.ServerDef
	for i := range s.servers {
		if s.servers[i].Enabled {
			enabled = append(enabled, s.servers[i])
		}
	}
	s.mu.RUnlock()

	results := make([]catalog, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	for i := range enabled {
		g.Go(func() error {
			results[i] = s.fetch(gctx, enabled[i], useCache)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	tools := make(map[string]*registeredTool)
	states := make(map[string]mcp.ServerState, len(results))
	for i := range results {
		r := &results[i]
		states[r.server.Name] = r.state
		for _, op := range r.ops {
			name := tool.QualifiedName(r.server.Name, op.Name)
			if prev, dup := tools[name]; dup {
				slog.Warn("duplicate tool name, keeping first",
					"tool", name, "kept", prev.server.Name, "ignored", r.server.Name)
				continue
			}
			tools[name] = newRegisteredTool(r.server, op, name)
		}
	}

	s.mu.Lock()
	s.tools = tools
	s.states = states
	s.loaded = true
	s.loadedAt = time.Now()
	s.mu.Unlock()

	slog.Info("tool catalog loaded", "tools", len(tools), "services", len(enabled))
	return nil
}

// fetch returns the catalog of one service from the cache or the service.
func (s *RegistryService) fetch(ctx context.Context, def mcp.ServerDef, useCache bool) catalog {
	key := catalogKeyPrefix + def.Name
	if useCache && s.cache != nil {
		ops, ok, err := cache.GetJSON[[]cachedOperation](ctx, s.cache, key)
		if err != nil {
			slog.Warn("catalog cache read failed", "server", def.Name, "error", err)
		}
		if ok {
			return catalog{server: def, ops: fromCached(ops), state: connectedState(def.Name, len(ops))}
		}
	}

	lctx, cancel := context.WithTimeout(ctx, s.cfg.ListTimeout)
	defer cancel()
	ops, err := s.transport.ListTools(lctx, def)
	if err != nil {
		slog.Warn("tool service unreachable, omitting its tools", "server", def.Name, "error", err)
		return catalog{server: def, state: mcp.ServerState{
			Name:      def.Name,
			Status:    mcp.ServerStatusUnreachable,
			Error:     err.Error(),
			CheckedAt: time.Now().UTC(),
		}}
	}

	if s.cache != nil && s.cfg.CatalogTTL > 0 {
		if err := cache.SetJSON(ctx, s.cache, key, toCached(ops), s.cfg.CatalogTTL); err != nil {
			slog.Warn("catalog cache write failed", "server", def.Name, "error", err)
		}
	}
	return catalog{server: def, ops: ops, state: connectedState(def.Name, len(ops))}
}

func connectedState(name string, n int) mcp.ServerState {
	return mcp.ServerState{Name: name, Status: mcp.ServerStatusConnected, Tools: n, CheckedAt: time.Now().UTC()}
}

func newRegisteredTool(server mcp.ServerDef, op tooltransport.Operation, name string) *registeredTool {
	desc := tool.Descriptor{
		Name:        name,
		Service:     server.Name,
		Operation:   op.Name,
		Description: op.Description,
		InputSchema: json.RawMessage(op.InputSchema),
	}
	if desc.Description == "" {
		desc.Description = server.Description
	}

	rt := &registeredTool{desc: desc, server: server}
	if len(op.InputSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(op.InputSchema))
		if err != nil {
			slog.Warn("tool input schema invalid, skipping validation", "tool", name, "error", err)
		} else {
			rt.schema = schema
		}
	}
	return rt
}

// validateArgs returns a description of the schema violations, or "" when
// the arguments are acceptable.
func validateArgs(schema *gojsonschema.Schema, args map[string]any) string {
	if schema == nil {
		return ""
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err.Error()
	}
	if res.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

// cachedOperation is the cache encoding of an operation.
type cachedOperation struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

func toCached(ops []tooltransport.Operation) []cachedOperation {
	out := make([]cachedOperation, len(ops))
	for i, op := range ops {
		out[i] = cachedOperation{Name: op.Name, Description: op.Description, InputSchema: op.InputSchema}
	}
	return out
}

func fromCached(ops []cachedOperation) []tooltransport.Operation {
	out := make([]tooltransport.Operation, len(ops))
	for i, op := range ops {
		out[i] = tooltransport.Operation{Name: op.Name, Description: op.Description, InputSchema: op.InputSchema}
	}
	return out
}

// ToolCount returns the number of registered tools without triggering
// discovery.
func (s *RegistryService) ToolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tools)
}
