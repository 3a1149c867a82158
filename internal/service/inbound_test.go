package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messagequeue"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/service"
)

type fakeRunner struct {
	mu     sync.Mutex
	turns  []string
	resets []string
	block  chan struct{}
	err    error
	ctxErr error
	// untilDone makes RunTurn behave like a turn that never finishes on its own.
	untilDone bool
}

func (r *fakeRunner) RunTurn(ctx context.Context, id, text string) (*conversation.TurnResult, error) {
	if r.block != nil {
		<-r.block
	}
	if r.untilDone {
		<-ctx.Done()
		return &conversation.TurnResult{ConversationID: id, State: conversation.TurnFailed, Reply: service.ReplyModelFailed}, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, id+":"+text)
	r.ctxErr = ctx.Err()
	if r.err != nil {
		return nil, r.err
	}
	return &conversation.TurnResult{ConversationID: id, State: conversation.TurnDone, Reply: "re: " + text, Iterations: 1}, nil
}

func (r *fakeRunner) Reset(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, id)
	return nil
}

type delivered struct{ to, text string }

type fakeDeliverer struct {
	mu      sync.Mutex
	sent    []delivered
	ctxErrs []error
	done    chan struct{}
}

func newFakeDeliverer() *fakeDeliverer { return &fakeDeliverer{done: make(chan struct{}, 16)} }

func (d *fakeDeliverer) Deliver(ctx context.Context, to, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		d.mu.Lock()
		d.ctxErrs = append(d.ctxErrs, err)
		d.mu.Unlock()
		d.done <- struct{}{}
		return 0, err
	}
	d.mu.Lock()
	d.sent = append(d.sent, delivered{to, text})
	d.mu.Unlock()
	d.done <- struct{}{}
	return 1, nil
}

func (d *fakeDeliverer) wait(t *testing.T, n int) []delivered {
	t.Helper()
	for range n {
		select {
		case <-d.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivered(nil), d.sent...)
}

// memQueue hands published messages straight to the subscriber.
type memQueue struct {
	fail      error
	mu        sync.Mutex
	handlers  map[string]messagequeue.Handler
	published map[string][][]byte
}

func newMemQueue() *memQueue {
	return &memQueue{handlers: map[string]messagequeue.Handler{}, published: map[string][][]byte{}}
}

func (q *memQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if q.fail != nil {
		return q.fail
	}
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	q.mu.Lock()
	q.published[subject] = append(q.published[subject], data)
	h := q.handlers[subject]
	q.mu.Unlock()
	if h != nil {
		go func() { _ = h(context.WithoutCancel(ctx), subject, data) }()
	}
	return nil
}

func (q *memQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.handlers, subject)
	}, nil
}

func (q *memQueue) Drain() error      { return nil }
func (q *memQueue) Close() error      { return nil }
func (q *memQueue) IsConnected() bool { return true }

func (q *memQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

func TestInboundWorkerPool(t *testing.T) {
	runner := &fakeRunner{}
	d := newFakeDeliverer()
	svc := service.NewInboundService(runner, d, nil, nil, service.InboundConfig{Workers: 2})

	id, err := svc.Accept(context.Background(), service.InboundMessage{From: "whatsapp:+57300", Body: " ventas de hoy ", MessageSID: "SM1"})
	if err != nil || id == "" {
		t.Fatalf("Accept: id=%q err=%v", id, err)
	}
	sent := d.wait(t, 1)
	if sent[0].to != "whatsapp:+57300" || sent[0].text != "re: ventas de hoy" {
		t.Errorf("unexpected delivery %+v", sent[0])
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestInboundDetachedFromRequest(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	d := newFakeDeliverer()
	svc := service.NewInboundService(runner, d, nil, nil, service.InboundConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := svc.Accept(ctx, service.InboundMessage{From: "a", Body: "hi"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	cancel() // the webhook request ends
	close(runner.block)

	d.wait(t, 1)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.ctxErr != nil {
		t.Errorf("expected turn context to survive the request, got %v", runner.ctxErr)
	}
}

func TestInboundDedup(t *testing.T) {
	runner := &fakeRunner{}
	d := newFakeDeliverer()
	svc := service.NewInboundService(runner, d, nil, newMapCache(), service.InboundConfig{})

	msg := service.InboundMessage{From: "a", Body: "hi", MessageSID: "SM42"}
	if id, _ := svc.Accept(context.Background(), msg); id == "" {
		t.Fatal("expected first delivery to be queued")
	}
	if id, _ := svc.Accept(context.Background(), msg); id != "" {
		t.Fatal("expected duplicate to be dropped")
	}
	d.wait(t, 1)
	_ = svc.Stop(context.Background())

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.turns) != 1 {
		t.Errorf("expected one turn, got %d", len(runner.turns))
	}
}

func TestInboundResetCommand(t *testing.T) {
	runner := &fakeRunner{}
	d := newFakeDeliverer()
	svc := service.NewInboundService(runner, d, nil, nil, service.InboundConfig{})

	if _, err := svc.Accept(context.Background(), service.InboundMessage{From: "a", Body: "/RESET"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	sent := d.wait(t, 1)
	if sent[0].text != service.ReplyReset {
		t.Errorf("expected reset confirmation, got %q", sent[0].text)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.resets) != 1 || len(runner.turns) != 0 {
		t.Errorf("expected reset without turn, got resets=%v turns=%v", runner.resets, runner.turns)
	}
}

func TestInboundRunnerErrorStillReplies(t *testing.T) {
	runner := &fakeRunner{err: errors.New("store down")}
	d := newFakeDeliverer()
	svc := service.NewInboundService(runner, d, nil, nil, service.InboundConfig{})

	if _, err := svc.Accept(context.Background(), service.InboundMessage{From: "a", Body: "hi"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	sent := d.wait(t, 1)
	if sent[0].text != service.ReplyModelFailed {
		t.Errorf("expected apology, got %q", sent[0].text)
	}
}

func TestInboundValidation(t *testing.T) {
	svc := service.NewInboundService(&fakeRunner{}, newFakeDeliverer(), nil, nil, service.InboundConfig{})

	if _, err := svc.Accept(context.Background(), service.InboundMessage{Body: "hi"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for missing sender, got %v", err)
	}
	if id, err := svc.Accept(context.Background(), service.InboundMessage{From: "a", Body: "   "}); id != "" || err != nil {
		t.Errorf("expected empty body ignored, got %q, %v", id, err)
	}
}

func TestInboundViaQueue(t *testing.T) {
	runner := &fakeRunner{}
	d := newFakeDeliverer()
	q := newMemQueue()
	svc := service.NewInboundService(runner, d, q, nil, service.InboundConfig{})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := svc.Accept(context.Background(), service.InboundMessage{From: "a", Body: "hi", MessageSID: "SM1"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	d.wait(t, 1)

	if q.count(messagequeue.SubjectTurnInbound) != 1 {
		t.Errorf("expected one inbound publish")
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.count(messagequeue.SubjectTurnCompleted) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	q.mu.Lock()
	raw := q.published[messagequeue.SubjectTurnCompleted]
	q.mu.Unlock()
	if len(raw) != 1 {
		t.Fatalf("expected one completion, got %d", len(raw))
	}
	var c messagequeue.TurnCompletedPayload
	if err := json.Unmarshal(raw[0], &c); err != nil {
		t.Fatal(err)
	}
	if c.State != string(conversation.TurnDone) || c.Parts != 1 || c.ConversationID != "a" {
		t.Errorf("unexpected completion %+v", c)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestInboundTimedOutTurnStillGetsApology(t *testing.T) {
	runner := &fakeRunner{untilDone: true}
	d := newFakeDeliverer()
	svc := service.NewInboundService(runner, d, nil, nil, service.InboundConfig{TurnTimeout: 50 * time.Millisecond})

	if _, err := svc.Accept(context.Background(), service.InboundMessage{From: "whatsapp:+57300", Body: "reporte"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	sent := d.wait(t, 1)

	d.mu.Lock()
	ctxErrs := d.ctxErrs
	d.mu.Unlock()
	if len(ctxErrs) > 0 {
		t.Fatalf("reply delivered on a spent context: %v", ctxErrs)
	}
	if len(sent) != 1 || sent[0].text != service.ReplyModelFailed {
		t.Fatalf("expected the apology, got %+v", sent)
	}
}

func TestInboundStopWaitsForQueuedTurns(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	d := newFakeDeliverer()
	q := newMemQueue()
	svc := service.NewInboundService(runner, d, q, nil, service.InboundConfig{})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Accept(context.Background(), service.InboundMessage{From: "a", Body: "hola"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Let the queued turn reach the runner before stopping.
	time.Sleep(20 * time.Millisecond)
	stopped := make(chan error, 1)
	go func() { stopped <- svc.Stop(context.Background()) }()

	select {
	case err := <-stopped:
		t.Fatalf("Stop returned before the turn finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.block)
	if sent := d.wait(t, 1); len(sent) != 1 || sent[0].text != "re: hola" {
		t.Fatalf("unexpected delivery %+v", sent)
	}
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestInboundStopDeadlineCancelsTurnsButReplies(t *testing.T) {
	runner := &fakeRunner{untilDone: true}
	d := newFakeDeliverer()
	svc := service.NewInboundService(runner, d, nil, nil, service.InboundConfig{})
	if _, err := svc.Accept(context.Background(), service.InboundMessage{From: "a", Body: "hola"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := svc.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline from Stop, got %v", err)
	}
	sent := d.wait(t, 1)
	if len(sent) != 1 || sent[0].text != service.ReplyModelFailed {
		t.Fatalf("expected apology after cancelled turn, got %+v", sent)
	}
	if _, err := svc.Accept(context.Background(), service.InboundMessage{From: "a", Body: "otra"}); !errors.Is(err, service.ErrShuttingDown) {
		t.Errorf("expected ErrShuttingDown after Stop, got %v", err)
	}
}

func TestInboundPublishFailureAllowsRetry(t *testing.T) {
	d := newFakeDeliverer()
	q := newMemQueue()
	q.fail = errors.New("nats: no responders")
	svc := service.NewInboundService(&fakeRunner{}, d, q, newMapCache(), service.InboundConfig{})

	msg := service.InboundMessage{From: "a", Body: "hola", MessageSID: "SM42"}
	if _, err := svc.Accept(context.Background(), msg); err == nil {
		t.Fatal("expected publish error")
	}

	q.fail = nil
	id, err := svc.Accept(context.Background(), msg)
	if err != nil || id == "" {
		t.Fatalf("retry after failed publish was dropped: id=%q err=%v", id, err)
	}
	if n := q.count(messagequeue.SubjectTurnInbound); n != 1 {
		t.Errorf("expected one publish, got %d", n)
	}
}
