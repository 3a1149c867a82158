package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/middleware"
)

// RouteConfig carries the per-route security settings.
type RouteConfig struct {
	// APIKeyHash guards /api/v1; empty leaves it open.
	APIKeyHash string
	// TwilioAuthToken returns the current token used to verify webhook
	// signatures. Nil disables verification.
	TwilioAuthToken func() string
	PublicURL       string
	WebhookLimiter  *middleware.RateLimiter
}

// MountRoutes registers the webhook and API routes on r.
func MountRoutes(r chi.Router, h *Handlers, cfg RouteConfig) {
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		// Capped before any middleware parses the form.
		r.Use(MaxBody(h.Limits.MaxRequestBodySize))
		if cfg.WebhookLimiter != nil {
			r.Use(cfg.WebhookLimiter.Handler)
		}
		if cfg.TwilioAuthToken != nil {
			r.Use(middleware.TwilioSignature(cfg.TwilioAuthToken, cfg.PublicURL))
		}
		r.Post("/webhook/twilio", h.TwilioWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SecurityHeaders)
		r.Use(middleware.APIKey(cfg.APIKeyHash))

		r.Get("/tools", h.ListTools)
		r.Post("/tools/refresh", h.RefreshTools)

		r.Get("/conversations/{id}", h.GetConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Post("/conversations/{id}/messages", h.SendMessage)
	})
}
