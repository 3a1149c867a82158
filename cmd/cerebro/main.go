package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cbhttp "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/http"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/memory"
	cbnats "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/nats"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/natskv"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/postgres"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/ristretto"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/sqlite"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/tiered"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/ws"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/config"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/logger"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/middleware"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/cache"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/conversationstore"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messagequeue"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/resilience"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/secrets"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/service"

	cbmcp "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/mcp"
	cbotel "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/otel"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	secretAnthropicKey = "ANTHROPIC_API_KEY"
	secretOpenAIKey    = "OPENAI_API_KEY"
	secretTwilioSID    = "TWILIO_ACCOUNT_SID"
	secretTwilioToken  = "TWILIO_AUTH_TOKEN"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"provider", cfg.Agent.Provider,
		"model", cfg.Agent.Model,
		"store", cfg.Conversation.Store,
		"sender", cfg.Twilio.Sender,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Secrets ---

	vault, err := secrets.NewVault(secrets.Merge(
		secrets.StaticLoader(map[string]string{
			secretAnthropicKey: cfg.Anthropic.APIKey,
			secretOpenAIKey:    cfg.OpenAI.APIKey,
			secretTwilioSID:    cfg.Twilio.AccountSID,
			secretTwilioToken:  cfg.Twilio.AuthToken,
		}),
		secrets.EnvLoader(secretAnthropicKey, secretOpenAIKey, secretTwilioSID, secretTwilioToken),
	))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	vault.WatchSIGHUP(ctx)
	slog.Info("secrets loaded", "keys", vault.Keys(), "twilio_account", vault.Redacted(secretTwilioSID))

	// --- Observability ---

	shutdownOTel, err := cbotel.Setup(ctx, cbotel.Config{
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		Insecure:    cfg.OTel.Insecure,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := cbotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Conversation store ---

	store, stopStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopStore()

	// --- NATS (optional) ---

	var (
		queue      messagequeue.Queue
		catalogL2  cache.Cache
		natsClient *cbnats.Queue
	)
	if cfg.NATS.URL != "" {
		natsClient, err = cbnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream,
			cbnats.WithAckWait(cfg.Inbound.TurnTimeout+cfg.Inbound.DeliveryTimeout+30*time.Second),
			cbnats.WithMaxInFlight(cfg.Inbound.Workers),
		)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsClient.Close() }()
		queue = natsClient

		if cfg.Cache.L2Bucket != "" {
			kv, err := natsClient.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
			if err != nil {
				return fmt.Errorf("nats kv: %w", err)
			}
			catalogL2 = natskv.New(kv)
		}
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	var appCache cache.Cache = l1
	if catalogL2 != nil {
		appCache = tiered.New(l1, catalogL2, cfg.Tools.CatalogTTL)
	}

	// --- Tools ---

	transport := cbmcp.NewTransport(version)
	defer func() { _ = transport.Close() }()

	defs, err := service.LoadServerDefs(&cfg.MCP)
	if err != nil {
		return fmt.Errorf("tool services: %w", err)
	}
	registry := service.NewRegistryService(transport, appCache, service.RegistryConfig{
		CatalogTTL:  cfg.Tools.CatalogTTL,
		ListTimeout: cfg.Tools.ListTimeout,
	})
	registry.SetServers(defs)
	if err := registry.Refresh(ctx); err != nil {
		slog.Warn("initial tool discovery failed", "error", err)
	}
	slog.Info("tools discovered", "services", len(defs), "tools", registry.ToolCount())

	// --- Model, delivery and the agent loop ---

	model, err := newChatModel(cfg, vault)
	if err != nil {
		return err
	}

	sender, err := newSender(cfg, vault)
	if err != nil {
		return err
	}
	breaker := resilience.NewBreaker("outbound", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	delivery := service.NewDeliveryService(sender, breaker, cfg.Twilio.MaxMessageLength)
	delivery.SetMetrics(metrics)
	vault.OnReload(func() {
		s, err := newSender(cfg, vault)
		if err != nil {
			slog.Error("sender rebuild failed", "error", err)
			return
		}
		delivery.SetSender(s)
	})

	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		slog.Warn("unknown timezone, using UTC", "timezone", cfg.Agent.Timezone, "error", err)
		loc = time.UTC
	}

	hub := ws.NewHub(originHosts(cfg.Server.CORSOrigin)...)
	defer hub.Close()

	agent := service.NewAgentService(store, registry, model, hub, service.AgentConfig{
		MaxIterations:    cfg.Agent.MaxIterations,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
		MaxTokens:        cfg.Agent.MaxTokens,
		ModelTimeout:     cfg.Agent.ModelTimeout,
		ToolTimeout:      cfg.Agent.ToolTimeout,
		ModelRetries:     cfg.Agent.ModelRetries,
		RetryBackoff:     cfg.Agent.RetryBackoff,
		Location:         loc,
	})
	agent.SetMetrics(metrics)

	inbound := service.NewInboundService(agent, delivery, queue, appCache, service.InboundConfig{
		Workers:     cfg.Inbound.Workers,
		TurnTimeout: cfg.Inbound.TurnTimeout,
		DedupTTL:    cfg.Inbound.DedupTTL,

		DeliveryTimeout: cfg.Inbound.DeliveryTimeout,
	})
	if err := inbound.Start(ctx); err != nil {
		return fmt.Errorf("inbound: %w", err)
	}

	// --- HTTP ---

	limiter := middleware.NewRateLimiterFromConfig(cfg.Rate)
	go limiter.Sweep(ctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)

	routeCfg := cbhttp.RouteConfig{
		APIKeyHash:     cfg.Server.APIKeyHash,
		PublicURL:      cfg.Server.PublicURL,
		WebhookLimiter: limiter,
	}
	if cfg.Twilio.ValidateSignature {
		routeCfg.TwilioAuthToken = vault.Getter(secretTwilioToken)
	} else {
		slog.Warn("twilio signature validation disabled")
	}

	handlers := &cbhttp.Handlers{
		Agent:    agent,
		Registry: registry,
		Inbound:  inbound,
		Service:  cfg.Logging.Service,
		Version:  version,
		Limits:   cbhttp.Limits{MaxRequestBodySize: 1 << 20},
	}

	r := chi.NewRouter()
	r.Use(cbotel.HTTPMiddleware(cfg.OTel.ServiceName))
	r.Use(cbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(cbhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/ws", hub.HandleWS)
	cbhttp.MountRoutes(r, handlers, routeCfg)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Inbound.TurnTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := inbound.Stop(shutdownCtx); err != nil {
		slog.Warn("in-flight turns abandoned", "error", err)
	}
	if natsClient != nil {
		if err := natsClient.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	}
	cancel()
	return nil
}

// idleDeleter is a store that can purge conversations idle longer than ttl.
type idleDeleter interface {
	DeleteIdle(ctx context.Context, ttl time.Duration) (int64, error)
}

// openStore opens the configured conversation store and starts its idle
// eviction. The returned func stops eviction and closes the store.
func openStore(ctx context.Context, cfg *config.Config) (conversationstore.Store, func(), error) {
	ttl := cfg.Conversation.TTL
	maxMessages := cfg.Conversation.MaxMessages

	switch cfg.Conversation.Store {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")
		s := postgres.NewStore(pool, maxMessages)
		stop := startIdleSweep(ctx, s, ttl)
		return s, func() { stop(); _ = s.Close() }, nil

	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Conversation.SQLitePath, maxMessages)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("sqlite opened", "path", cfg.Conversation.SQLitePath)
		stop := startIdleSweep(ctx, s, ttl)
		return s, func() { stop(); _ = s.Close() }, nil

	default:
		s := memory.NewStore(maxMessages)
		if ttl <= 0 {
			return s, func() {}, nil
		}
		stop := s.StartJanitor(sweepInterval(ttl), ttl)
		return s, stop, nil
	}
}

func startIdleSweep(ctx context.Context, s idleDeleter, ttl time.Duration) func() {
	if ttl <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(sweepInterval(ttl))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.DeleteIdle(ctx, ttl)
				if err != nil {
					slog.Warn("idle conversation sweep failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("idle conversations removed", "count", n)
				}
			}
		}
	}()
	return cancel
}

func sweepInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/10, time.Minute), time.Hour)
}

// originHosts turns a CORS origin like "https://app.example.com" into the
// host pattern the WebSocket upgrade checks against.
func originHosts(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{origin}
}

func senderConfig(cfg *config.Config, vault *secrets.Vault) map[string]string {
	return map[string]string{
		"account_sid":        vault.Get(secretTwilioSID),
		"auth_token":         vault.Get(secretTwilioToken),
		"from":               cfg.Twilio.WhatsAppNumber,
		"base_url":           cfg.Twilio.BaseURL,
		"timeout":            cfg.Twilio.Timeout.String(),
		"max_message_length": strconv.Itoa(cfg.Twilio.MaxMessageLength),
	}
}
