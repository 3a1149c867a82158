// Package middleware provides HTTP middleware for the Cerebro API and the
// inbound webhook.
package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID stores the caller's X-Request-ID, or a generated one, in the
// request context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > 128 {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
