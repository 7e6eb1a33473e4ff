// Package server constructs and starts the chat service: the TCP accept loop,
// the optional WebSocket gateway, and their coordinated shutdown.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/linechat/internal/chat"
)

// FarewellText is sent to every connected client when the server shuts down.
const FarewellText = "Server is shutting down..."

// Server accepts chat connections and bridges them to a shared Hub.
type Server struct {
	cfg     Config
	hub     *chat.Hub
	origins *originPolicy
	log     zerolog.Logger

	mu         sync.Mutex
	closing    bool
	listener   net.Listener
	httpServer *http.Server
	sessions   map[tracked]struct{}
	wg         sync.WaitGroup
}

// New creates a server for cfg. Unset configuration fields take their defaults.
func New(cfg Config, logger zerolog.Logger) *Server {
	cfg = cfg.Sanitize()
	logger = logger.With().Str("component", "server").Logger()

	return &Server{
		cfg: cfg,
		hub: chat.NewHub(chat.HubConfig{
			HistoryCapacity: cfg.HistoryCapacity,
			SendBuffer:      cfg.SendBuffer,
			MaxDroppedSends: cfg.MaxDroppedSends,
		}, logger),
		origins:  newOriginPolicy(cfg.AllowedOrigins, logger),
		log:      logger,
		sessions: make(map[tracked]struct{}),
	}
}

// Hub returns the broadcast engine shared by all sessions.
func (s *Server) Hub() *chat.Hub {
	return s.hub
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// ListenAndServe listens on Config.Addr and serves chat connections until
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and runs a session for each. It always
// returns a non-nil error; after Shutdown the error is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening for chat connections")

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			tempDelay = nextAcceptDelay(tempDelay)
			s.log.Warn().Err(err).Dur("retry_in", tempDelay).Msg("accept failed")
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		sess := newSession(s, conn)
		if !s.track(sess) {
			_ = conn.Close()
			continue
		}
		go func() {
			defer s.untrack(sess)
			sess.run()
		}()
	}
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// Addr returns the address of the TCP listener, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ListenAndServeGateway serves the WebSocket gateway on Config.HTTPAddr.
func (s *Server) ListenAndServeGateway() error {
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return s.ServeGateway(ln)
}

// ServeGateway serves health and WebSocket routes on ln until Shutdown.
func (s *Server) ServeGateway(ln net.Listener) error {
	httpServer := CreateServer(ln.Addr().String(), s.Routes())

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.httpServer = httpServer
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("WebSocket gateway listening")

	err := httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}

// Shutdown stops accepting connections, sends every client the farewell
// notice, and waits for all sessions to close or ctx to expire. On expiry the
// remaining connections are dropped and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return s.wait(ctx)
	}
	s.closing = true
	ln := s.listener
	httpServer := s.httpServer
	s.mu.Unlock()

	s.log.Info().Msg("shutting down")

	if ln != nil {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn().Err(err).Msg("closing listener")
		}
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("HTTP gateway shutdown")
		}
	}

	n := s.hub.Close(chat.NewSystemMessage(chat.SystemName, FarewellText))
	s.log.Info().Int("clients", n).Msg("farewell sent")

	for _, t := range s.snapshotSessions() {
		t.abortHandshake()
	}

	return s.wait(ctx)
}

func (s *Server) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("shutdown completed")
		return nil
	case <-ctx.Done():
		remaining := s.snapshotSessions()
		for _, t := range remaining {
			t.forceClose()
		}
		s.log.Warn().Int("sessions", len(remaining)).Msg("shutdown deadline reached; connections dropped")
		return ctx.Err()
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// track registers a live session. It fails once shutdown has begun.
func (s *Server) track(t tracked) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[t] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(t tracked) {
	s.mu.Lock()
	delete(s.sessions, t)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) snapshotSessions() []tracked {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tracked, 0, len(s.sessions))
	for t := range s.sessions {
		out = append(out, t)
	}
	return out
}
