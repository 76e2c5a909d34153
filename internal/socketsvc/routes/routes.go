package routes

import (
	"github.com/avvvet/explain-services/internal/auth"
	"github.com/avvvet/explain-services/internal/socketsvc/handlers"
	"github.com/go-chi/chi"
)

func SetRoutes(r chi.Router, h *handlers.Handler, authn *auth.Authenticator) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.HealthHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware())

			r.Get("/ws", h.HandleWebSocket)
			r.Get("/quota", h.Quota)
			r.Post("/rooms", h.CreateRoom)
			r.Post("/rooms/join", h.JoinRoom)
			r.Post("/rooms/leave", h.LeaveRoom)
		})
	})
}
