package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// APIKey guards a route group with a single key stored as a bcrypt hash. The
// key is sent as X-API-Key or as a bearer token. An empty hash disables the
// check. Keys that verified once are remembered by digest so bcrypt runs
// once per distinct key.
func APIKey(hash string) func(http.Handler) http.Handler {
	var (
		mu       sync.RWMutex
		verified = make(map[[sha256.Size]byte]bool)
	)
	check := func(key string) bool {
		sum := sha256.Sum256([]byte(key))
		mu.RLock()
		ok, seen := verified[sum]
		mu.RUnlock()
		if seen {
			return ok
		}
		ok = bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
		if ok {
			mu.Lock()
			verified[sum] = true
			mu.Unlock()
		}
		return ok
	}

	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			if !check(key) {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HashAPIKey returns the bcrypt hash to configure as server.api_key_hash.
func HashAPIKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
