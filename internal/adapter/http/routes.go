package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteOptions carries the optional middleware and endpoints of the API.
type RouteOptions struct {
	// Submit wraps the endpoints that start a thread (rate limit, idempotency).
	Submit []func(http.Handler) http.Handler
	// WS serves the reviewer live feed when set.
	WS http.HandlerFunc
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.Health)
	if opts.WS != nil {
		r.Get("/ws", opts.WS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Thread entry points
		r.Group(func(r chi.Router) {
			r.Use(opts.Submit...)
			r.Post("/moderation", h.SubmitContent)
			r.Post("/appeals", h.FileAppeal)
		})

		// Cases
		r.Get("/cases", h.ListCases)
		r.Get("/cases/{id}", h.GetCase)
		r.Get("/cases/{id}/audit", h.CaseAudit)

		// Appeals
		r.Get("/appeals/{id}", h.GetAppeal)

		// Review queue
		r.Get("/review-queue", h.ReviewQueue)
		r.Post("/review-queue/{id}/assign", h.AssignQueueItem)

		// Suspended threads
		r.Get("/threads/{id}", h.InspectThread)
		r.Post("/threads/{id}/resume", h.ResumeThread)

		r.Get("/stats", h.Statistics)
	})
}
