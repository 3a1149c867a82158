package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/logger"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantSame bool
	}{
		{"generated", "", false},
		{"propagated", "req-abc-123", true},
		{"oversized replaced", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = logger.RequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get("X-Request-ID") != seen {
				t.Fatalf("expected context and header to agree, got %q / %q", seen, rec.Header().Get("X-Request-ID"))
			}
			if tt.wantSame && seen != tt.incoming {
				t.Errorf("expected %q propagated, got %q", tt.incoming, seen)
			}
			if !tt.wantSame && len(seen) != 32 {
				t.Errorf("expected 32-char generated id, got %q", seen)
			}
		})
	}
}
