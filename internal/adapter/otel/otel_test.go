package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "cerebro"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.TurnsStarted.Add(context.Background(), 1)
	m.TurnDuration.Record(context.Background(), 0.5)
}

func TestSpans(t *testing.T) {
	ctx, span := StartTurnSpan(context.Background(), "t1", "c1")
	_, child := StartToolCallSpan(ctx, "call", "svc_op")
	child.End()
	span.End()
}

func TestHTTPMiddleware(t *testing.T) {
	h := HTTPMiddleware("cerebro")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected wrapped handler to run, got %d", rec.Code)
	}
}
