package chat

import "errors"

var (
	// ErrInvalidHandshake is returned when a peer's first line does not carry
	// a usable display name.
	ErrInvalidHandshake = errors.New("chat: invalid handshake")

	// ErrChannelClosed is reported when a recipient's handle has already
	// been unregistered and can no longer accept messages.
	ErrChannelClosed = errors.New("chat: recipient channel closed")

	// ErrSendBufferFull is reported when a recipient's outbound queue is full.
	ErrSendBufferFull = errors.New("chat: recipient send buffer full")

	// ErrShutdown is returned by Join once the hub has been closed.
	ErrShutdown = errors.New("chat: hub shut down")
)
