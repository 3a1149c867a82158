package conversation

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func user(text string) Message { return Message{Role: RoleUser, Content: text} }

func assistantCalls(ids ...string) Message {
	m := Message{Role: RoleAssistant}
	for _, id := range ids {
		m.ToolCalls = append(m.ToolCalls, ToolCall{ID: id, Name: "svc_op"})
	}
	return m
}

func result(id string) Message { return Message{Role: RoleTool, ToolCallID: id, Content: "ok"} }

func answer(text string) Message { return Message{Role: RoleAssistant, Content: text} }

func TestValidateSequence(t *testing.T) {
	tests := []struct {
		name    string
		msgs    []Message
		wantErr bool
	}{
		{"empty", nil, false},
		{"plain exchange", []Message{user("hi"), answer("hello")}, false},
		{"tool exchange", []Message{user("q"), assistantCalls("a", "b"), result("b"), result("a"), answer("done")}, false},
		{"two rounds", []Message{user("q"), assistantCalls("a"), result("a"), assistantCalls("b"), result("b"), answer("x")}, false},
		{"result without call", []Message{user("q"), result("a")}, true},
		{"unknown id", []Message{user("q"), assistantCalls("a"), result("z")}, true},
		{"result after final answer", []Message{user("q"), assistantCalls("a"), result("a"), answer("x"), result("a")}, true},
		{"result answering older round", []Message{user("q"), assistantCalls("a"), result("a"), assistantCalls("b"), result("a")}, true},
		{"duplicate result", []Message{user("q"), assistantCalls("a"), result("a"), result("a")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSequence(tt.msgs)
			if tt.wantErr {
				if !errors.Is(err, ErrProtocolViolation) {
					t.Fatalf("expected ErrProtocolViolation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTrim(t *testing.T) {
	history := []Message{
		user("1"), answer("1"),
		user("2"), assistantCalls("a"), result("a"), answer("2"),
		user("3"), answer("3"),
	}

	tests := []struct {
		name      string
		max       int
		wantLen   int
		wantFirst string
	}{
		{"disabled", 0, 8, "1"},
		{"fits", 8, 8, "1"},
		{"drops first turn", 6, 6, "2"},
		{"never splits tool exchange", 5, 2, "3"},
		{"keeps current turn whole", 1, 2, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trim(history, tt.max)
			if len(got) != tt.wantLen {
				t.Fatalf("expected %d messages, got %d", tt.wantLen, len(got))
			}
			if got[0].Role != RoleUser || got[0].Content != tt.wantFirst {
				t.Errorf("expected window to start at user %q, got %+v", tt.wantFirst, got[0])
			}
			if err := ValidateSequence(got); err != nil {
				t.Errorf("trimmed history invalid: %v", err)
			}
		})
	}
}

func TestTrimOversizedTurn(t *testing.T) {
	history := []Message{user("1"), answer("1"), user("2"), assistantCalls("a"), result("a"), assistantCalls("b"), result("b")}

	got := Trim(history, 3)
	if len(got) != 5 || got[0].Content != "2" {
		t.Fatalf("expected current turn kept whole, got %d messages starting %+v", len(got), got[0])
	}
}

func TestTurnStateTransitions(t *testing.T) {
	tests := []struct {
		from, to TurnState
		ok       bool
	}{
		{TurnAwaitingModel, TurnExecutingTools, true},
		{TurnAwaitingModel, TurnDone, true},
		{TurnAwaitingModel, TurnFailed, true},
		{TurnExecutingTools, TurnAwaitingModel, true},
		{TurnExecutingTools, TurnFailed, true},
		{TurnExecutingTools, TurnDone, false},
		{TurnDone, TurnAwaitingModel, false},
		{TurnFailed, TurnAwaitingModel, false},
	}
	for _, tt := range tests {
		got, err := tt.from.Transition(tt.to)
		if tt.ok && (err != nil || got != tt.to) {
			t.Errorf("%s -> %s: expected ok, got %v", tt.from, tt.to, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s -> %s: expected error", tt.from, tt.to)
		}
	}
	if !TurnDone.IsTerminal() || !TurnFailed.IsTerminal() || TurnAwaitingModel.IsTerminal() {
		t.Error("terminal states misreported")
	}
}

func TestLockerSerializesSameID(t *testing.T) {
	l := NewLocker()
	var active, maxActive int32
	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("conv")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected at most one holder, saw %d", maxActive)
	}
	if l.Len() != 0 {
		t.Errorf("expected lock table to drain, got %d entries", l.Len())
	}
}

func TestLockerDistinctIDsIndependent(t *testing.T) {
	l := NewLocker()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestLockerUnlockIdempotent(t *testing.T) {
	l := NewLocker()
	unlock := l.Lock("a")
	unlock()
	unlock()

	relock := l.Lock("a")
	relock()
}
