// Package client implements the terminal side of the chat: a Session that
// sends local input to the server and hands everything the server sends to a
// Renderer.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/linechat/internal/chat"
)

var (
	// ErrConnectionRefused is returned by Dial when nothing listens at the address.
	ErrConnectionRefused = errors.New("client: connection refused")

	// ErrServerGone is returned by Run when the server closes the connection.
	ErrServerGone = errors.New("client: server closed the connection")

	// ErrInvalidName is returned for an empty or multi-line display name.
	ErrInvalidName = errors.New("client: invalid display name")
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultLinger       = 2 * time.Second
	maxInboundLine      = 1 << 20
)

// Renderer is the presentation layer. It is called from the session's
// goroutines and must be safe for concurrent use.
type Renderer interface {
	// Render displays a chat message, including the user's own lines.
	Render(m chat.Message)
	// Notice displays text that is not a chat message.
	Notice(text string)
	// Command performs a local slash command.
	Command(cmd Command)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.log = logger }
}

// WithTransform rewrites every outgoing line before it is sent.
func WithTransform(fn func(string) string) Option {
	return func(s *Session) { s.transform = fn }
}

// WithLinger bounds how long Run waits for the server to close after a
// local quit.
func WithLinger(d time.Duration) Option {
	return func(s *Session) { s.linger = d }
}

// WithDialTimeout bounds connection establishment in Dial.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) { s.dialTimeout = d }
}

// Session is one connection to the chat server. The outbound duty is the only
// writer of the socket after the handshake; the inbound duty the only reader.
type Session struct {
	conn         net.Conn
	name         string
	ui           Renderer
	transform    func(string) string
	linger       time.Duration
	dialTimeout  time.Duration
	writeTimeout time.Duration
	log          zerolog.Logger
}

func newSession(name string, ui Renderer, opts []Option) *Session {
	s := &Session{
		name:         name,
		ui:           ui,
		linger:       defaultLinger,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return "", ErrInvalidName
	}
	return name, nil
}

// Dial connects to addr and introduces the user as name.
func Dial(ctx context.Context, addr, name string, ui Renderer, opts ...Option) (*Session, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	s := newSession(name, ui, opts)
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrConnectionRefused, addr)
		}
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	s.conn = conn
	if err := s.send(name); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sending name: %w", err)
	}
	s.log.Debug().Str("addr", addr).Str("name", name).Msg("connected")
	return s, nil
}

// NewSession performs the handshake over an established connection.
func NewSession(conn net.Conn, name string, ui Renderer, opts ...Option) (*Session, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	s := newSession(name, ui, opts)
	s.conn = conn
	if err := s.send(name); err != nil {
		return nil, fmt.Errorf("sending name: %w", err)
	}
	return s, nil
}

// Name returns the display name sent during the handshake.
func (s *Session) Name() string {
	return s.name
}

// Run exchanges messages until the user quits, input ends, ctx is cancelled,
// or the server goes away. In the last case the error wraps ErrServerGone.
// The socket is closed when Run returns.
//
// Run does not wait for input to finish. A goroutine blocked reading input
// stays blocked until that read returns; it then exits without consuming
// more lines. Callers that keep running should close or drain input.
func (s *Session) Run(ctx context.Context, input io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go s.readInput(ctx, input, lines)

	inboundDone := make(chan error, 1)
	go func() {
		inboundDone <- s.inbound()
	}()

	outboundDone := make(chan error, 1)
	go func() {
		outboundDone <- s.outbound(ctx, lines)
	}()

	select {
	case readErr := <-inboundDone:
		// Outbound only stops between whole writes.
		cancel()
		<-outboundDone
		s.close()
		if readErr != nil {
			return fmt.Errorf("%w: %v", ErrServerGone, readErr)
		}
		return ErrServerGone

	case sendErr := <-outboundDone:
		s.closeWrite()
		if readErr := <-inboundDone; readErr != nil {
			s.log.Debug().Err(readErr).Msg("inbound stopped after quit")
		}
		s.close()
		return sendErr
	}
}

// readInput forwards local lines until input ends or ctx is cancelled.
func (s *Session) readInput(ctx context.Context, input io.Reader, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Debug().Err(err).Msg("reading input")
	}
}

// outbound handles local lines. It returns nil on /quit, end of input or
// cancellation, and an error if a send fails.
func (s *Session) outbound(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.handleInput(line)
			if err != nil || quit {
				return err
			}
		}
	}
}

func (s *Session) handleInput(line string) (bool, error) {
	text := strings.TrimSpace(line)
	if text == "" {
		return false, nil
	}

	if cmd, ok := ParseCommand(text); ok {
		s.ui.Command(cmd)
		return cmd == CommandQuit, nil
	}

	if s.transform != nil {
		text = s.transform(text)
	}
	if err := s.send(text); err != nil {
		return true, fmt.Errorf("sending message: %w", err)
	}
	s.ui.Render(chat.NewUserMessage(s.name, text))
	return false, nil
}

// send writes text as one line in a single call.
func (s *Session) send(text string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	_, err := io.WriteString(s.conn, text+"\n")
	return err
}

// inbound renders server lines until the stream ends. It returns nil on a
// clean end of stream.
func (s *Session) inbound() error {
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxInboundLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		m, err := chat.DecodeMessage(line)
		if err != nil {
			s.ui.Notice(string(line))
			continue
		}
		s.ui.Render(m)
	}
	return scanner.Err()
}

// closeWrite tells the server we are done and bounds the wait for its reply.
func (s *Session) closeWrite() {
	if hc, ok := s.conn.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err != nil {
			s.log.Debug().Err(err).Msg("half-close failed")
		}
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.linger)); err != nil {
		s.log.Debug().Err(err).Msg("setting linger deadline")
	}
}

func (s *Session) close() {
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug().Err(err).Msg("closing connection")
	}
}
