// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/semaphore"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/logger"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messagequeue"
)

const (
	headerRequestID = "X-Request-ID"
	dlqSuffix       = ".dlq"
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string

	ackWait     time.Duration
	maxDeliver  int
	maxInFlight int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithAckWait sets how long a handler may run before JetStream redelivers.
func WithAckWait(d time.Duration) Option { return func(q *Queue) { q.ackWait = d } }

// WithMaxDeliver sets the delivery attempts before a message goes to the DLQ.
func WithMaxDeliver(n int) Option { return func(q *Queue) { q.maxDeliver = n } }

// WithMaxInFlight bounds the handlers running concurrently per subscription.
func WithMaxInFlight(n int) Option { return func(q *Queue) { q.maxInFlight = int64(n) } }

// Connect establishes a connection to NATS and ensures the JetStream stream
// exists, capturing every "turns.>" subject.
func Connect(ctx context.Context, url, stream string, opts ...Option) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name("cerebro"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{"turns.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	q := &Queue{
		nc:          nc,
		js:          js,
		stream:      stream,
		ackWait:     30 * time.Second,
		maxDeliver:  3,
		maxInFlight: 1,
	}
	for _, o := range opts {
		o(q)
	}

	slog.Info("nats connected", "url", url, "stream", stream)
	return q, nil
}

// JetStream exposes the JetStream context for KV buckets.
func (q *Queue) JetStream() jetstream.JetStream { return q.js }

// KeyValue creates or updates a KV bucket whose entries expire after ttl.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Publish validates data against the subject schema and sends it. The
// request id in ctx travels as a message header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler on subject through a durable consumer shared by
// every instance. Invalid payloads and messages that exhausted their delivery
// attempts are moved to "<subject>.dlq".
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		Durable:       durableName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.ackWait,
		MaxDeliver:    q.maxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	sem := semaphore.NewWeighted(q.maxInFlight)
	runCtx, cancel := context.WithCancel(context.Background())

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := sem.Acquire(runCtx, 1); err != nil {
			_ = msg.Nak()
			return
		}
		go func() {
			defer sem.Release(1)
			q.handle(runCtx, msg, handler)
		}()
	}, jetstream.PullMaxMessages(int(q.maxInFlight)))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return func() {
		cons.Stop()
		cancel()
	}, nil
}

func (q *Queue) handle(ctx context.Context, msg jetstream.Msg, handler messagequeue.Handler) {
	subject := msg.Subject()
	if id := msg.Headers().Get(headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}

	if err := messagequeue.Validate(subject, msg.Data()); err != nil {
		slog.Warn("nats message rejected", "subject", subject, "error", err)
		q.deadLetter(ctx, msg)
		return
	}

	if err := handler(ctx, subject, msg.Data()); err != nil {
		meta, metaErr := msg.Metadata()
		if metaErr == nil && q.maxDeliver > 0 && int(meta.NumDelivered) >= q.maxDeliver {
			slog.Error("message handler failed, retries exhausted", "subject", subject, "error", err)
			q.deadLetter(ctx, msg)
			return
		}
		slog.Error("message handler failed", "subject", subject, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		slog.Error("nats ack failed", "error", ackErr)
	}
}

// deadLetter republishes msg on the DLQ subject and acknowledges the original.
func (q *Queue) deadLetter(ctx context.Context, msg jetstream.Msg) {
	dlq := msg.Subject() + dlqSuffix
	out := nats.NewMsg(dlq)
	out.Data = msg.Data()
	out.Header = msg.Headers()
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		slog.Error("nats dlq publish failed", "subject", dlq, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "error", err)
	}
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

// durableName derives a consumer name from subject; dots are not allowed.
func durableName(subject string) string {
	return "cerebro-" + strings.NewReplacer(".", "-", "*", "any", ">", "all").Replace(subject)
}
