package main

import (
	"fmt"
	"log/slog"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/anthropic"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/ollama"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/openai"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/config"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/llm"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messenger"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/secrets"

	// Sender blank imports: each import activates a self-registering adapter.
	_ "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/logsender"
	_ "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/twilio"
)

// newChatModel builds the configured model. API keys are read from the vault
// on every call so a SIGHUP reload takes effect without a restart.
func newChatModel(cfg *config.Config, vault *secrets.Vault) (llm.ChatModel, error) {
	switch cfg.Agent.Provider {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			Model:     cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
			BaseURL:   cfg.Anthropic.BaseURL,
			APIKey:    vault.Getter(secretAnthropicKey),
		}), nil
	case "openai":
		return openai.New(openai.Config{
			Model:     cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKey:    vault.Getter(secretOpenAIKey),
		}), nil
	case "ollama":
		m, err := ollama.New(cfg.Ollama.URL, cfg.Agent.Model)
		if err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Agent.Provider)
	}
}

// newSender builds the configured outbound sender.
func newSender(cfg *config.Config, vault *secrets.Vault) (messenger.Sender, error) {
	s, err := messenger.New(cfg.Twilio.Sender, senderConfig(cfg, vault))
	if err != nil {
		return nil, fmt.Errorf("sender %q (available: %v): %w", cfg.Twilio.Sender, messenger.Available(), err)
	}
	slog.Info("outbound sender ready", "sender", s.Name())
	return s, nil
}
