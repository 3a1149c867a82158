package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects records; block, when set, holds every write
// until it is closed.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	block   chan struct{}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.records))
	for i := range h.records {
		out[i] = h.records[i].Message
	}
	return out
}

func record(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestAsyncHandlerFlushesOnClose(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 500, 3)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 40 {
				_ = ah.Handle(context.Background(), record(slog.LevelInfo, "turn finished"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := len(inner.messages()); got != 400 {
		t.Fatalf("expected 400 records, got %d", got)
	}
}

func TestAsyncHandlerDropsInfoKeepsErrors(t *testing.T) {
	inner := &recordingHandler{block: make(chan struct{})}
	ah := NewAsyncHandler(inner, 1, 1)

	// The worker holds the first record, the buffer holds the second.
	for range 5 {
		_ = ah.Handle(context.Background(), record(slog.LevelInfo, "info"))
	}

	errDone := make(chan struct{})
	go func() {
		_ = ah.Handle(context.Background(), record(slog.LevelError, "delivery failed"))
		close(errDone)
	}()

	close(inner.block)
	select {
	case <-errDone:
	case <-time.After(2 * time.Second):
		t.Fatal("error record never enqueued")
	}
	ah.Close()

	if ah.Dropped() == 0 {
		t.Fatal("expected info records to be dropped")
	}
	msgs := inner.messages()
	var sawError, sawSummary bool
	for _, m := range msgs {
		sawError = sawError || m == "delivery failed"
		sawSummary = sawSummary || m == "log buffer overflowed"
	}
	if !sawError || !sawSummary {
		t.Errorf("expected error record and overflow summary, got %v", msgs)
	}
}

func TestAsyncHandlerAfterClose(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 10, 1)
	ah.Close()
	ah.Close()

	if err := ah.Handle(context.Background(), record(slog.LevelInfo, "late")); err != nil {
		t.Fatal(err)
	}
	if msgs := inner.messages(); len(msgs) != 1 || msgs[0] != "late" {
		t.Errorf("expected late record written synchronously, got %v", msgs)
	}
}

func TestAsyncHandlerDerivedShareBuffer(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 10, 1)
	child := ah.WithAttrs([]slog.Attr{slog.String("conversation_id", "c1")})

	_ = child.Handle(context.Background(), record(slog.LevelInfo, "child"))
	ah.Close()

	if msgs := inner.messages(); len(msgs) != 1 {
		t.Errorf("expected child record flushed by parent close, got %v", msgs)
	}
}
