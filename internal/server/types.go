// Package server defines the session states, sentinel errors and utility
// helpers shared by the TCP and WebSocket front ends.
package server

import (
	"errors"
	"net"
	"strings"
)

var (
	// ErrServerClosed is returned by Serve and ServeGateway after Shutdown.
	ErrServerClosed = errors.New("server: closed")

	// ErrLineTooLong is returned when a peer sends a line longer than
	// Config.MaxLineLength.
	ErrLineTooLong = errors.New("server: line too long")

	// ErrMalformedUTF8 is returned when a peer sends bytes that are not
	// valid UTF-8.
	ErrMalformedUTF8 = errors.New("server: malformed UTF-8")
)

// State is a session's position in its lifecycle.
type State int32

const (
	// StateConnecting covers accept and the name handshake.
	StateConnecting State = iota
	// StateActive is normal message exchange.
	StateActive
	// StateClosing means one duty ended and the other is being stopped.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// tracked is implemented by every live session so the server can stop it
// during shutdown.
type tracked interface {
	// abortHandshake drops the connection if it has not joined the hub yet.
	abortHandshake()
	// forceClose drops the connection unconditionally.
	forceClose()
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
