// Package server implements the chat server front ends.
//
// The line-oriented TCP listener is the primary transport: every accepted
// connection becomes a session that reads a display name, then bridges the
// socket to the shared chat.Hub through a reader and a writer goroutine. An
// optional WebSocket gateway serves the same hub over HTTP. Configuration,
// origin checks, rate limiting, and coordinated shutdown live alongside.
package server
