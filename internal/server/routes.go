package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.updateSession)

			// Messages
			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)

			// Run control
			r.Post("/abort", s.abortSession)

			// Permissions
			r.Get("/permissions", s.listPermissions)
			r.Post("/permissions/{requestID}", s.respondPermission)
		})
	})

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
}
