package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/linechat/internal/chat"
)

// session bridges one TCP connection to the hub. The reader duty runs on the
// session goroutine, the writer duty on its own; the connection's read and
// write halves are each used by exactly one of them.
type session struct {
	srv     *Server
	conn    net.Conn
	addr    string
	scanner *bufio.Scanner
	limiter *rate.Limiter
	log     zerolog.Logger

	mu      sync.Mutex
	state   State
	aborted bool
	handle  *chat.Handle
}

func newSession(srv *Server, conn net.Conn) *session {
	addr := conn.RemoteAddr().String()
	cfg := srv.cfg

	scanner := bufio.NewScanner(conn)
	initial := 4096
	if cfg.MaxLineLength < initial {
		initial = cfg.MaxLineLength
	}
	scanner.Buffer(make([]byte, 0, initial), cfg.MaxLineLength)

	return &session{
		srv:     srv,
		conn:    conn,
		addr:    addr,
		scanner: scanner,
		limiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		log:     srv.log.With().Str("addr", addr).Logger(),
		state:   StateConnecting,
	}
}

// State returns the session's current lifecycle state.
func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *session) run() {
	defer s.finish()

	s.log.Info().Msg("new connection")

	name, err := s.handshake()
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed; connection dropped")
		return
	}

	replay, err := s.activate(name)
	if err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("join rejected")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(replay)
	}()

	err = s.readLoop()
	s.setState(StateClosing)
	s.logReadEnd(err)

	s.srv.hub.Leave(s.handle.ID())
	<-writerDone
}

// handshake reads the display name line.
func (s *session) handshake() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.HandshakeTimeout)); err != nil {
		return "", fmt.Errorf("%w: %v", chat.ErrInvalidHandshake, err)
	}

	if !s.scanner.Scan() {
		err := s.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		return "", fmt.Errorf("%w: reading name: %v", chat.ErrInvalidHandshake, err)
	}

	line := s.scanner.Bytes()
	if !utf8.Valid(line) {
		return "", fmt.Errorf("%w: %v", chat.ErrInvalidHandshake, ErrMalformedUTF8)
	}
	name := strings.TrimSpace(string(line))
	if name == "" {
		return "", fmt.Errorf("%w: empty name", chat.ErrInvalidHandshake)
	}

	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("%w: %v", chat.ErrInvalidHandshake, err)
	}
	return name, nil
}

// activate joins the hub unless shutdown already aborted the handshake.
func (s *session) activate(name string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return nil, chat.ErrShutdown
	}

	handle, replay, err := s.srv.hub.Join(name, s.addr)
	if err != nil {
		return nil, err
	}
	s.handle = handle
	s.state = StateActive
	s.log = s.log.With().Str("name", name).Str("client", handle.ID().String()).Logger()
	return replay, nil
}

// readLoop publishes every non-empty line until the peer goes away.
func (s *session) readLoop() error {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if !utf8.Valid(line) {
			return ErrMalformedUTF8
		}

		text := strings.TrimSpace(string(line))
		if text == "" {
			continue
		}

		if s.evicted() {
			return chat.ErrChannelClosed
		}

		if !s.limiter.Allow() {
			s.log.Warn().
				Int("burst", s.srv.cfg.RateLimit.Burst).
				Dur("interval", s.srv.cfg.RateLimit.RefillInterval).
				Msg("rate limit exceeded; discarding message")
			continue
		}

		s.log.Debug().Str("content", text).Msg("received message")
		s.srv.hub.Publish(chat.NewUserMessage(s.handle.Name(), text), s.handle.ID())
	}

	if err := s.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("%w: limit %d bytes", ErrLineTooLong, s.srv.cfg.MaxLineLength)
		}
		return err
	}
	return io.EOF
}

// evicted reports whether the hub has already unregistered this session.
func (s *session) evicted() bool {
	select {
	case <-s.handle.Done():
		return true
	default:
		return false
	}
}

func (s *session) logReadEnd(err error) {
	switch {
	case errors.Is(err, chat.ErrChannelClosed):
		s.log.Info().Msg("session unregistered; input ignored")
	case errors.Is(err, io.EOF):
		s.log.Info().Msg("client disconnected")
	case errors.Is(err, ErrLineTooLong), errors.Is(err, ErrMalformedUTF8):
		s.log.Warn().Err(err).Msg("closing session after invalid input")
	case isTimeout(err), isExpectedCloseError(err):
		s.log.Debug().Err(err).Msg("connection closed")
	default:
		s.log.Warn().Err(err).Msg("read error")
	}
}

// writeLoop sends the replay and then every queued message. Once the handle
// is unregistered it flushes what is left and half-closes the socket.
func (s *session) writeLoop(replay []chat.Message) {
	for _, m := range replay {
		if err := s.writeMessage(m); err != nil {
			s.abortRead(err)
			return
		}
	}

	for {
		select {
		case m := <-s.handle.Messages():
			if err := s.writeMessage(m); err != nil {
				s.abortRead(err)
				return
			}
		case <-s.handle.Done():
			if err := s.drainQueue(); err != nil {
				s.abortRead(err)
				return
			}
			s.closeWrite()
			return
		}
	}
}

func (s *session) drainQueue() error {
	for {
		select {
		case m := <-s.handle.Messages():
			if err := s.writeMessage(m); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *session) writeMessage(m chat.Message) error {
	data, err := m.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("dropping unencodable message")
		return nil
	}
	data = append(data, '\n')

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err = s.conn.Write(data)
	return err
}

// closeWrite signals end of stream to the peer and gives it CloseLinger to
// close its side, so the socket is never torn down with unread data.
func (s *session) closeWrite() {
	if hc, ok := s.conn.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("half-close failed")
		}
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.CloseLinger)); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("setting linger deadline")
	}
}

// abortRead unblocks the reader after a write failure.
func (s *session) abortRead(err error) {
	if !isExpectedCloseError(err) {
		s.log.Warn().Err(err).Msg("write error")
	}
	_ = s.conn.SetReadDeadline(time.Now())
}

func (s *session) finish() {
	s.setState(StateClosed)
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn().Err(err).Msg("closing connection")
	}
}

func (s *session) abortHandshake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return
	}
	s.aborted = true
	_ = s.conn.Close()
}

func (s *session) forceClose() {
	_ = s.conn.Close()
}
