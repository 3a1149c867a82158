package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
)

// apiError is the body of every non-2xx JSON response.
type apiError struct {
	Error string `json:"error"`
}

// readJSON decodes a single JSON object of at most limit bytes. Unknown
// fields are rejected so typos in API clients surface as 400s.
func readJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeBodyError(w, err)
		return v, false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, "request body must be a single JSON object")
		return v, false
	}
	return v, true
}

// writeBodyError answers a request whose body could not be read.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

// pathID returns the {id} route parameter unescaped. Conversation ids are
// channel addresses such as "whatsapp:+573001234567" and arrive escaped.
func pathID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

// requireField answers 400 and returns false when value is blank.
func requireField(w http.ResponseWriter, value, name string) bool {
	if strings.TrimSpace(value) != "" {
		return true
	}
	writeError(w, http.StatusBadRequest, name+" is required")
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// writeDomainError maps service errors onto status codes. Validation
// messages are passed through; anything else unknown is logged and hidden.
func writeDomainError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, tool.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
	default:
		writeInternalError(w, err)
	}
}

func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
