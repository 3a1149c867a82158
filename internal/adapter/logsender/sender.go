// Package logsender implements a messenger.Sender that only logs, for local
// development without a messaging provider.
package logsender

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messenger"
)

const providerName = "log"

// Sender writes every message to the structured log.
type Sender struct {
	maxLength int
}

func init() {
	messenger.Register(providerName, func(cfg map[string]string) (messenger.Sender, error) {
		n, _ := strconv.Atoi(cfg["max_message_length"])
		return New(n), nil
	})
}

// New returns a log sender. maxLength <= 0 uses the WhatsApp limit.
func New(maxLength int) *Sender {
	if maxLength <= 0 {
		maxLength = 1600
	}
	return &Sender{maxLength: maxLength}
}

func (s *Sender) Name() string { return providerName }

func (s *Sender) Capabilities() messenger.Capabilities {
	return messenger.Capabilities{MaxMessageLength: s.maxLength}
}

func (s *Sender) Send(ctx context.Context, to, body string) (string, error) {
	id := uuid.NewString()
	slog.InfoContext(ctx, "outbound message", "to", to, "id", id, "chars", len([]rune(body)), "body", body)
	return id, nil
}
