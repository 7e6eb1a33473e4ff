package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the gateway router: the health check at "/" and "/health",
// and the WebSocket endpoint at "/ws". Other methods get 405.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.HealthHandler)
	r.Get("/health", s.HealthHandler)
	r.Get("/ws", s.WebSocketHandler)
	return r
}
