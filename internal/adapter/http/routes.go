package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Post("/tasks", h.SubmitTask)
		r.Post("/tasks/batch", h.ExecuteBatch)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/cancel", h.CancelTask)

		// Approvals
		r.Get("/approvals", h.ListApprovals)
		r.Post("/approvals/{id}/resolve", h.ResolveApproval)

		// Pool
		r.Get("/pool", h.GetPoolStatus)
	})

	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
}
