// Package server exposes HTTP handlers for the WebSocket gateway and its
// health check.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// HealthResponse is the body served by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	History int    `json:"history"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
}

// WebSocketHandler upgrades the request and runs a gateway Client on the
// handler goroutine until the connection ends.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if s.isClosing() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s, r.RemoteAddr)
	if !s.track(client) {
		client.writeCloseFrame(websocket.CloseGoingAway, "server shutdown")
		client.closeConnection()
		return
	}
	defer s.untrack(client)

	client.serve()
}

// HealthHandler reports liveness together with the current client and
// history counts.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Clients: s.hub.Clients(),
		History: len(s.hub.History()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn().Err(err).Msg("writing health response")
	}
}
