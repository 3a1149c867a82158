package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/logger"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/cache"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messagequeue"
)

// CommandReset clears the sender's conversation instead of starting a turn.
const CommandReset = "/reset"

// ReplyReset confirms a cleared conversation.
const ReplyReset = "Conversation cleared. How can I help you?"

const dedupKeyPrefix = "inbound:sid:"

// TurnRunner runs and resets conversation turns.
type TurnRunner interface {
	RunTurn(ctx context.Context, conversationID, text string) (*conversation.TurnResult, error)
	Reset(ctx context.Context, conversationID string) error
}

// Deliverer sends a reply to an outbound address.
type Deliverer interface {
	Deliver(ctx context.Context, to, text string) (int, error)
}

// InboundMessage is a chat message received from the messaging provider.
type InboundMessage struct {
	From       string
	Body       string
	MessageSID string
}

// InboundConfig tunes background turn processing.
type InboundConfig struct {
	Workers     int
	TurnTimeout time.Duration
	DedupTTL    time.Duration
	// DeliveryTimeout bounds sending the reply. It starts after the turn,
	// so an apology for a timed-out turn still goes out.
	DeliveryTimeout time.Duration
}

// ErrShuttingDown is returned for messages arriving after Stop.
var ErrShuttingDown = errors.New("inbound service shutting down")

// InboundService accepts chat messages, acknowledges them at once and runs
// their turns in the background: through the queue when one is configured,
// on an in-process worker pool otherwise. Replies go out through the
// Deliverer.
type InboundService struct {
	runner   TurnRunner
	delivery Deliverer
	queue    messagequeue.Queue
	cache    cache.Cache
	cfg      InboundConfig
	sem      *semaphore.Weighted
	unsub    func()

	// turns is cancelled only when Stop gives up waiting.
	turns       context.Context
	cancelTurns context.CancelFunc

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// NewInboundService creates an InboundService. queue and c may be nil.
func NewInboundService(runner TurnRunner, d Deliverer, queue messagequeue.Queue, c cache.Cache, cfg InboundConfig) *InboundService {
	if cfg.Workers < 1 {
		cfg.Workers = 8
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 5 * time.Minute
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = time.Minute
	}
	turns, cancel := context.WithCancel(context.Background())
	return &InboundService{
		runner:      runner,
		delivery:    d,
		queue:       queue,
		cache:       c,
		cfg:         cfg,
		sem:         semaphore.NewWeighted(int64(cfg.Workers)),
		turns:       turns,
		cancelTurns: cancel,
	}
}

// Start subscribes the turn worker to the queue. Without a queue it does
// nothing.
func (s *InboundService) Start(ctx context.Context) error {
	if s.queue == nil {
		return nil
	}
	cancel, err := s.queue.Subscribe(ctx, messagequeue.SubjectTurnInbound, s.handleQueued)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", messagequeue.SubjectTurnInbound, err)
	}
	s.unsub = cancel
	return nil
}

// Stop refuses new messages, unsubscribes and lets running turns finish and
// deliver their replies. When ctx ends first the remaining turns are
// cancelled; their apologies are still delivered before Stop returns.
func (s *InboundService) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	if s.unsub != nil {
		s.unsub()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancelTurns()
		<-done
		return ctx.Err()
	}
}

// track registers a turn with Stop. It fails once Stop has begun.
func (s *InboundService) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

// Accept queues msg for background processing and returns immediately.
// Messages with an already seen MessageSID are dropped. It returns the turn
// id, empty when nothing was queued.
func (s *InboundService) Accept(ctx context.Context, msg InboundMessage) (string, error) {
	if strings.TrimSpace(msg.From) == "" {
		return "", fmt.Errorf("%w: sender address is required", domain.ErrValidation)
	}
	text := strings.TrimSpace(msg.Body)
	if text == "" {
		slog.InfoContext(ctx, "ignoring empty inbound message", "from", msg.From)
		return "", nil
	}
	if s.duplicate(ctx, msg.MessageSID) {
		slog.InfoContext(ctx, "duplicate inbound message dropped", "message_sid", msg.MessageSID)
		return "", nil
	}

	p := messagequeue.InboundTurnPayload{
		TurnID:         uuid.NewString(),
		ConversationID: msg.From,
		Text:           text,
		ReplyTo:        msg.From,
		MessageSID:     msg.MessageSID,
		ReceivedAt:     time.Now().UTC(),
	}

	if s.queue != nil {
		data, err := json.Marshal(p)
		if err == nil {
			err = s.queue.Publish(ctx, messagequeue.SubjectTurnInbound, data)
		}
		if err != nil {
			s.forget(ctx, msg.MessageSID)
			return "", fmt.Errorf("publish inbound turn: %w", err)
		}
		return p.TurnID, nil
	}

	if !s.track() {
		s.forget(ctx, msg.MessageSID)
		return "", ErrShuttingDown
	}
	go func() {
		defer s.wg.Done()
		// Waiting turns still run after a cancelling Stop, to reply with an apology.
		_ = s.sem.Acquire(context.Background(), 1)
		defer s.sem.Release(1)
		s.run(ctx, &p)
	}()
	return p.TurnID, nil
}

// duplicate reports whether sid was seen within the dedup window and marks
// it seen otherwise. Cache failures let the message through.
func (s *InboundService) duplicate(ctx context.Context, sid string) bool {
	if sid == "" || s.cache == nil {
		return false
	}
	added, err := cache.Add(ctx, s.cache, dedupKeyPrefix+sid, []byte("1"), s.cfg.DedupTTL)
	if err != nil {
		slog.WarnContext(ctx, "dedup check failed", "error", err)
		return false
	}
	return !added
}

// forget clears the dedup mark of a message that was not queued, so the
// provider's retry is processed.
func (s *InboundService) forget(ctx context.Context, sid string) {
	if sid == "" || s.cache == nil {
		return
	}
	if err := s.cache.Delete(context.WithoutCancel(ctx), dedupKeyPrefix+sid); err != nil {
		slog.WarnContext(ctx, "dedup mark not cleared", "message_sid", sid, "error", err)
	}
}

func (s *InboundService) handleQueued(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.InboundTurnPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal inbound turn: %w", err)
	}
	if !s.track() {
		return ErrShuttingDown // redelivered to another instance
	}
	defer s.wg.Done()
	s.run(ctx, &p)
	return nil
}

// run processes p detached from the request or consumer that carried it,
// keeping its logging values. Only Stop can cancel it.
func (s *InboundService) run(ctx context.Context, p *messagequeue.InboundTurnPayload) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.turns, cancel)
	defer stop()
	s.process(ctx, p)
}

// process runs one inbound turn and delivers its reply. Failures are logged;
// the sender always gets a reply when delivery is possible.
func (s *InboundService) process(ctx context.Context, p *messagequeue.InboundTurnPayload) {
	ctx = logger.WithConversationID(ctx, p.ConversationID)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	completed := messagequeue.TurnCompletedPayload{TurnID: p.TurnID, ConversationID: p.ConversationID}

	var reply string
	if strings.EqualFold(p.Text, CommandReset) {
		if err := s.runner.Reset(ctx, p.ConversationID); err != nil {
			slog.ErrorContext(ctx, "reset failed", "error", err)
			reply = ReplyModelFailed
			completed.Error = err.Error()
		} else {
			reply = ReplyReset
		}
		completed.State = "reset"
	} else {
		res, err := s.runner.RunTurn(ctx, p.ConversationID, p.Text)
		switch {
		case res == nil:
			reply = ReplyModelFailed
			completed.State = string(conversation.TurnFailed)
		default:
			reply = res.Reply
			completed.State = string(res.State)
			completed.Iterations = res.Iterations
			completed.ToolCalls = res.ToolCalls
			if res.Err != nil {
				completed.Error = res.Err.Error()
			}
		}
		if err != nil {
			slog.ErrorContext(ctx, "turn aborted", "error", err)
			completed.Error = err.Error()
		}
	}

	// The turn may have timed out or been cancelled; its reply still goes out.
	dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DeliveryTimeout)
	parts, err := s.delivery.Deliver(dctx, p.ReplyTo, reply)
	dcancel()
	completed.Parts = parts
	if err != nil {
		slog.ErrorContext(ctx, "reply delivery failed", "to", p.ReplyTo, "parts_sent", parts, "error", err)
		if completed.Error == "" {
			completed.Error = err.Error()
		}
	}

	s.publishCompleted(ctx, &completed)
}

func (s *InboundService) publishCompleted(ctx context.Context, c *messagequeue.TurnCompletedPayload) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	// The turn context may already be spent; the notification still goes out.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.queue.Publish(pctx, messagequeue.SubjectTurnCompleted, data); err != nil && !errors.Is(err, context.Canceled) {
		slog.WarnContext(ctx, "publish turn completion failed", "turn_id", c.TurnID, "error", err)
	}
}
