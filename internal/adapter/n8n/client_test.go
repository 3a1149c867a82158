package n8n

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/chart"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/resilience"
)

func sampleChart() chart.Request {
	return chart.Request{Type: chart.TypeBar, Title: "Ventas", Labels: []string{"Lun", "Mar"}, Values: []float64{10, 20}}
}

func TestRenderNotConfigured(t *testing.T) {
	c := NewClient("", time.Second, nil)
	if _, err := c.Render(context.Background(), sampleChart()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRenderSuccess(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"success":true,"image_url":"https://img.example/1.png"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	url, err := c.Render(context.Background(), sampleChart())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://img.example/1.png" {
		t.Errorf("unexpected url %q", url)
	}
	if got["tipo"] != "bar" || got["titulo"] != "Ventas" {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestRenderWorkflowFailureDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"bad data"}`))
	}))
	defer srv.Close()

	b := resilience.NewBreaker("n8n", 1, time.Minute)
	c := NewClient(srv.URL, time.Second, b)
	for range 3 {
		if _, err := c.Render(context.Background(), sampleChart()); err == nil {
			t.Fatal("expected error")
		}
	}
	if b.State() != "closed" {
		t.Errorf("expected breaker closed, got %s", b.State())
	}
}

func TestRenderServerErrorOpensBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := resilience.NewBreaker("n8n", 2, time.Minute)
	c := NewClient(srv.URL, time.Second, b)
	for range 2 {
		_, _ = c.Render(context.Background(), sampleChart())
	}
	if _, err := c.Render(context.Background(), sampleChart()); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
