package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ChangeGuard/internal/middleware"
)

// MountRoutes registers the webhook ingress and the read API on r.
// webhookSecret is consulted on every delivery. apiMiddleware wraps the read
// API only.
func MountRoutes(r chi.Router, h *Handlers, webhookSecret func() string, bodyLimit int64, apiMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	// GitHub deliveries are authenticated by HMAC, not by the API middleware.
	r.With(middleware.WebhookHMACFunc(webhookSecret, middleware.HeaderGitHubSignature, bodyLimit)).
		Post("/webhooks/github", h.HandleGitHubWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiMiddleware...)
		r.Route("/repos/{owner}/{repo}/pulls/{number}", func(r chi.Router) {
			r.Get("/status", h.GetPullStatus)
			r.Get("/evaluations", h.ListPullEvaluations)
		})
		// Evaluation keys contain the repository's slash.
		r.Get("/evaluations/*", h.GetEvaluation)
	})
}
