package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "cerebro.yaml"

// envServers maps the per-service URL variables of the original deployment
// to remote tool services. A set variable adds an SSE service unless the
// YAML already defines one with the same name.
var envServers = []struct {
	name, env, description string
}{
	{"shopify", "SHOPIFY_MCP_URL", "Store sales, orders, products, customers and inventory"},
	{"meta", "META_MCP_URL", "Facebook and Instagram advertising: spend, CPA, campaigns, performance"},
	{"dropi", "DROPI_MCP_URL", "Fulfillment and logistics: shipped orders, deliveries, returns, payments"},
	{"n8n", "N8N_MCP_URL", "Automations and charts: data visualizations and visual reports"},
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("CEREBRO_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Port, "CEREBRO_PORT")
	setString(&cfg.Server.CORSOrigin, "CEREBRO_CORS_ORIGIN")
	setString(&cfg.Server.APIKeyHash, "CEREBRO_API_KEY_HASH")
	setString(&cfg.Server.PublicURL, "CEREBRO_PUBLIC_URL")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CEREBRO_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CEREBRO_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CEREBRO_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CEREBRO_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CEREBRO_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "CEREBRO_NATS_STREAM")

	setString(&cfg.Logging.Level, "CEREBRO_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CEREBRO_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CEREBRO_LOG_ASYNC")
	if debug := os.Getenv("DEBUG"); strings.EqualFold(debug, "true") {
		cfg.Logging.Level = "debug"
	}

	setInt(&cfg.Breaker.MaxFailures, "CEREBRO_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CEREBRO_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "CEREBRO_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CEREBRO_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "CEREBRO_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "CEREBRO_RATE_MAX_IDLE_TIME")

	// Agent loop
	setString(&cfg.Agent.Provider, "CEREBRO_LLM_PROVIDER")
	setString(&cfg.Agent.Model, "CEREBRO_LLM_MODEL")
	setInt(&cfg.Agent.MaxTokens, "CEREBRO_LLM_MAX_TOKENS")
	setInt(&cfg.Agent.MaxIterations, "CEREBRO_AGENT_MAX_ITERATIONS")
	setInt(&cfg.Agent.MaxParallelTools, "CEREBRO_AGENT_MAX_PARALLEL_TOOLS")
	setDuration(&cfg.Agent.ModelTimeout, "CEREBRO_AGENT_MODEL_TIMEOUT")
	setDuration(&cfg.Agent.ToolTimeout, "CEREBRO_AGENT_TOOL_TIMEOUT")
	setInt(&cfg.Agent.ModelRetries, "CEREBRO_AGENT_MODEL_RETRIES")
	setDuration(&cfg.Agent.RetryBackoff, "CEREBRO_AGENT_RETRY_BACKOFF")
	setString(&cfg.Agent.Timezone, "CEREBRO_TIMEZONE")

	// Providers
	setString(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Ollama.URL, "OLLAMA_HOST")

	// Tools
	setDuration(&cfg.Tools.CatalogTTL, "CEREBRO_TOOLS_CATALOG_TTL")
	setDuration(&cfg.Tools.ListTimeout, "CEREBRO_TOOLS_LIST_TIMEOUT")
	setString(&cfg.MCP.ServersDir, "CEREBRO_MCP_SERVERS_DIR")
	for _, s := range envServers {
		addEnvServer(cfg, s.name, s.env, s.description)
	}

	// Conversation store
	setString(&cfg.Conversation.Store, "CEREBRO_CONVERSATION_STORE")
	setInt(&cfg.Conversation.MaxMessages, "CEREBRO_CONVERSATION_MAX_MESSAGES")
	setDuration(&cfg.Conversation.TTL, "CEREBRO_CONVERSATION_TTL")
	setString(&cfg.Conversation.SQLitePath, "CEREBRO_SQLITE_PATH")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "CEREBRO_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "CEREBRO_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "CEREBRO_CACHE_L2_TTL")

	// Inbound
	setInt(&cfg.Inbound.Workers, "CEREBRO_INBOUND_WORKERS")
	setDuration(&cfg.Inbound.TurnTimeout, "CEREBRO_INBOUND_TURN_TIMEOUT")
	setDuration(&cfg.Inbound.DedupTTL, "CEREBRO_INBOUND_DEDUP_TTL")
	setDuration(&cfg.Inbound.DeliveryTimeout, "CEREBRO_INBOUND_DELIVERY_TIMEOUT")

	// Twilio
	setString(&cfg.Twilio.Sender, "CEREBRO_OUTBOUND_SENDER")
	setString(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&cfg.Twilio.WhatsAppNumber, "TWILIO_WHATSAPP_NUMBER")
	setString(&cfg.Twilio.BaseURL, "TWILIO_BASE_URL")
	setBool(&cfg.Twilio.ValidateSignature, "CEREBRO_TWILIO_VALIDATE_SIGNATURE")
	setDuration(&cfg.Twilio.Timeout, "CEREBRO_TWILIO_TIMEOUT")
	setInt(&cfg.Twilio.MaxMessageLength, "CEREBRO_TWILIO_MAX_MESSAGE_LENGTH")

	// OpenTelemetry
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "CEREBRO_OTEL_INSECURE")

	// Chart tool server
	setString(&cfg.Chart.Addr, "CEREBRO_CHART_ADDR")
	setString(&cfg.Chart.WebhookURL, "N8N_WEBHOOK_GRAFICO")
	setDuration(&cfg.Chart.Timeout, "CEREBRO_CHART_TIMEOUT")
	setString(&cfg.Chart.APIKey, "CEREBRO_CHART_API_KEY")
}

// addEnvServer appends an SSE tool service for the given URL variable.
func addEnvServer(cfg *Config, name, key, description string) {
	base := os.Getenv(key)
	if base == "" {
		return
	}
	for i := range cfg.MCP.Servers {
		if cfg.MCP.Servers[i].Name == name {
			return
		}
	}
	cfg.MCP.Servers = append(cfg.MCP.Servers, MCPServer{
		Name:        name,
		Description: description,
		Transport:   "sse",
		URL:         strings.TrimRight(base, "/") + "/sse",
		Enabled:     true,
	})
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Agent.MaxIterations < 1 {
		return errors.New("agent.max_iterations must be >= 1")
	}
	if cfg.Agent.MaxParallelTools < 0 {
		return errors.New("agent.max_parallel_tools must be >= 0")
	}
	if cfg.Agent.ModelTimeout <= 0 || cfg.Agent.ToolTimeout <= 0 {
		return errors.New("agent.model_timeout and agent.tool_timeout must be > 0")
	}
	switch cfg.Agent.Provider {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("agent.provider %q is not supported", cfg.Agent.Provider)
	}
	switch cfg.Conversation.Store {
	case "memory", "sqlite":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres conversation store")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("conversation.store %q is not supported", cfg.Conversation.Store)
	}
	if cfg.Conversation.MaxMessages < 0 {
		return errors.New("conversation.max_messages must be >= 0")
	}
	if cfg.Inbound.Workers < 1 {
		return errors.New("inbound.workers must be >= 1")
	}
	if cfg.Twilio.MaxMessageLength < 20 {
		return errors.New("twilio.max_message_length must be >= 20")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
