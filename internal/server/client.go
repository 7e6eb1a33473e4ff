// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/linechat/internal/chat"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is a WebSocket peer of the gateway. Its first text frame is the
// display name; every later frame is one chat line. It shares the hub, and
// therefore the history, with TCP sessions.
type Client struct {
	conn    *websocket.Conn
	srv     *Server
	addr    string
	limiter *rate.Limiter
	log     zerolog.Logger

	mu      sync.Mutex
	state   State
	aborted bool
	handle  *chat.Handle
}

// NewClient creates a Client for an upgraded connection.
func NewClient(conn *websocket.Conn, srv *Server, addr string) *Client {
	cfg := srv.cfg
	if conn != nil {
		conn.SetReadLimit(int64(cfg.MaxLineLength))
	}

	return &Client{
		conn:    conn,
		srv:     srv,
		addr:    addr,
		limiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		log:     srv.log.With().Str("addr", addr).Str("transport", "websocket").Logger(),
		state:   StateConnecting,
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// serve runs the client until either pump ends.
func (c *Client) serve() {
	defer func() {
		c.setState(StateClosed)
		c.closeConnection()
	}()

	name, err := c.handshake()
	if err != nil {
		c.log.Warn().Err(err).Msg("handshake failed; connection dropped")
		c.writeCloseFrame(websocket.ClosePolicyViolation, "a display name is required")
		return
	}

	replay, err := c.activate(name)
	if err != nil {
		c.log.Warn().Err(err).Str("name", name).Msg("join rejected")
		c.writeCloseFrame(websocket.CloseGoingAway, "server shutdown")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(replay)
	}()

	c.readPump()
	c.setState(StateClosing)
	c.srv.hub.Leave(c.handle.ID())
	<-writerDone
}

func (c *Client) handshake() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.HandshakeTimeout)); err != nil {
		return "", fmt.Errorf("%w: %v", chat.ErrInvalidHandshake, err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("%w: reading name: %v", chat.ErrInvalidHandshake, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %v", chat.ErrInvalidHandshake, ErrMalformedUTF8)
	}

	name := strings.TrimSpace(string(data))
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return "", fmt.Errorf("%w: empty or multi-line name", chat.ErrInvalidHandshake)
	}
	return name, nil
}

func (c *Client) activate(name string) ([]chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aborted {
		return nil, chat.ErrShutdown
	}

	handle, replay, err := c.srv.hub.Join(name, c.addr)
	if err != nil {
		return nil, err
	}
	c.handle = handle
	c.state = StateActive
	c.log = c.log.With().Str("name", name).Str("client", handle.ID().String()).Logger()
	return replay, nil
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn().Err(err).Msg("setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn().Err(err).Msg("setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int("limit", c.srv.cfg.MaxLineLength).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF), isExpectedCloseError(err), isTimeout(err):
		c.log.Debug().Err(err).Msg("connection closed")
	default:
		c.log.Warn().Err(err).Msg("WebSocket read error")
	}
}

// processMessage validates a frame and publishes it.
func (c *Client) processMessage(raw []byte) bool {
	if !utf8.Valid(raw) {
		c.log.Warn().Err(ErrMalformedUTF8).Msg("closing session after invalid input")
		return false
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return true
	}

	select {
	case <-c.handle.Done():
		c.log.Info().Msg("session unregistered; input ignored")
		return false
	default:
	}

	if !c.limiter.Allow() {
		c.log.Warn().
			Int("burst", c.srv.cfg.RateLimit.Burst).
			Dur("interval", c.srv.cfg.RateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding message")
		return true
	}

	c.log.Debug().Str("content", text).Msg("received message")
	c.srv.hub.Publish(chat.NewUserMessage(c.handle.Name(), text), c.handle.ID())
	return true
}

func (c *Client) readPump() {
	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.processMessage(raw) {
			return
		}
	}
}

func (c *Client) writePump(replay []chat.Message) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for _, m := range replay {
		if !c.writeTextMessage(m) {
			c.abortRead()
			return
		}
	}

	for {
		select {
		case m := <-c.handle.Messages():
			if !c.writeTextMessage(m) {
				c.abortRead()
				return
			}
		case <-c.handle.Done():
			c.drainQueue()
			if c.srv.isClosing() {
				c.writeCloseFrame(websocket.CloseGoingAway, "server shutdown")
			} else {
				c.writeCloseFrame(websocket.CloseNormalClosure, "")
			}
			if err := c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.CloseLinger)); err != nil && !isExpectedCloseError(err) {
				c.log.Debug().Err(err).Msg("setting linger deadline")
			}
			return
		case <-ticker.C:
			if !c.handlePing() {
				c.abortRead()
				return
			}
		}
	}
}

func (c *Client) drainQueue() {
	for {
		select {
		case m := <-c.handle.Messages():
			if !c.writeTextMessage(m) {
				return
			}
		default:
			return
		}
	}
}

// writeTextMessage writes one message as a JSON text frame.
func (c *Client) writeTextMessage(m chat.Message) bool {
	data, err := m.Encode()
	if err != nil {
		c.log.Error().Err(err).Msg("dropping unencodable message")
		return true
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		c.log.Warn().Err(err).Msg("setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("writing message")
		}
		return false
	}
	return true
}

// writeCloseFrame sends a close frame to the client.
func (c *Client) writeCloseFrame(code int, text string) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("writing close message")
		}
	}
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		c.log.Warn().Err(err).Msg("setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn().Err(err).Msg("writing ping message")
		return false
	}
	return true
}

func (c *Client) abortRead() {
	_ = c.conn.SetReadDeadline(time.Now())
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn().Err(err).Msg("closing connection")
	}
}

func (c *Client) abortHandshake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return
	}
	c.aborted = true
	_ = c.conn.Close()
}

func (c *Client) forceClose() {
	_ = c.conn.Close()
}
