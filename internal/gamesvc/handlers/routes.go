package handlers

import (
	"github.com/go-chi/chi"
)

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.HealthHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(h.authn.Middleware())

			r.Get("/history", h.History)
			r.Get("/history/{roomId}", h.Match)
		})
	})
}
