package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cbotel "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/otel"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/delivery"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messenger"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/resilience"
)

// DeliveryService sends replies over the outbound channel, split into parts
// the channel accepts.
type DeliveryService struct {
	mu        sync.RWMutex
	sender    messenger.Sender
	breaker   *resilience.Breaker
	maxLength int
	metrics   *cbotel.Metrics
}

// NewDeliveryService creates a DeliveryService. maxLength caps each part
// below the sender's own limit; 0 uses the sender's limit. breaker may be nil.
func NewDeliveryService(sender messenger.Sender, breaker *resilience.Breaker, maxLength int) *DeliveryService {
	return &DeliveryService{sender: sender, breaker: breaker, maxLength: maxLength}
}

// SetMetrics sets the OTEL metrics instruments.
func (d *DeliveryService) SetMetrics(m *cbotel.Metrics) { d.metrics = m }

// SetSender swaps the sender, e.g. after credentials were rotated.
func (d *DeliveryService) SetSender(s messenger.Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sender = s
}

// Sender returns the active sender.
func (d *DeliveryService) Sender() messenger.Sender {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sender
}

// Deliver splits text and sends the parts to in order, stopping at the first
// failed part. It returns the number of parts sent.
func (d *DeliveryService) Deliver(ctx context.Context, to, text string) (int, error) {
	sender := d.Sender()
	if sender == nil {
		return 0, messenger.ErrNotConfigured
	}

	parts := delivery.Split(text, d.limit(sender))
	if len(parts) == 0 {
		return 0, nil
	}

	ctx, span := cbotel.StartDeliverySpan(ctx, sender.Name(), len(parts))
	defer span.End()

	for i, part := range parts {
		var id string
		send := func() error {
			var err error
			id, err = sender.Send(ctx, to, part)
			return err
		}
		var err error
		if d.breaker != nil {
			err = d.breaker.Execute(send)
		} else {
			err = send()
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.record(ctx, sender.Name(), "error")
			return i, fmt.Errorf("send part %d/%d: %w", i+1, len(parts), err)
		}
		d.record(ctx, sender.Name(), "ok")
		slog.DebugContext(ctx, "message part sent", "to", to, "part", i+1, "parts", len(parts), "id", id)
	}

	slog.InfoContext(ctx, "reply delivered", "to", to, "parts", len(parts), "sender", sender.Name())
	return len(parts), nil
}

func (d *DeliveryService) limit(sender messenger.Sender) int {
	max := sender.Capabilities().MaxMessageLength
	if d.maxLength > 0 && (max <= 0 || d.maxLength < max) {
		max = d.maxLength
	}
	if max <= 0 {
		max = delivery.DefaultMaxLength
	}
	return max
}

func (d *DeliveryService) record(ctx context.Context, sender, status string) {
	if d.metrics == nil {
		return
	}
	d.metrics.MessagesSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sender", sender),
		attribute.String("status", status),
	))
}
