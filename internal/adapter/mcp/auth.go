package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware requires apiKey as a bearer token or in X-API-Key. An empty
// apiKey disables the check. Agents that register the service with a
// "headers" entry can send either form.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		if got == "" {
			got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		switch {
		case got == "":
			http.Error(w, "missing API key", http.StatusUnauthorized)
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			http.Error(w, "invalid API key", http.StatusForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
