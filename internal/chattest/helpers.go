// Package chattest provides common utilities and helper functions for testing
// the chat server and client.
//
// It provides functions for dialing TCP and WebSocket sessions, reading
// decoded messages with deadlines, and asserting on their contents to reduce
// code duplication in test files.
package chattest

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/linechat/internal/chat"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 2 * time.Second

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8083"

// Conn is a raw TCP chat connection driven by a test.
type Conn struct {
	net.Conn
	r *bufio.Reader
}

// Listen opens a loopback listener on an ephemeral port.
func Listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	return ln
}

// DialRaw connects without performing the handshake.
func DialRaw(t *testing.T, addr string) *Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &Conn{Conn: c, r: bufio.NewReader(c)}
}

// Dial connects and sends name as the handshake line.
func Dial(t *testing.T, addr, name string) *Conn {
	t.Helper()
	c := DialRaw(t, addr)
	c.Send(t, name)
	return c
}

// Send writes one line.
func (c *Conn) Send(t *testing.T, line string) {
	t.Helper()
	if err := c.SetWriteDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set write deadline: %v", err)
	}
	if _, err := c.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Failed to send %q: %v", line, err)
	}
}

// ReadLine reads one raw line within timeout.
func (c *Conn) ReadLine(timeout time.Duration) (string, error) {
	if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Receive reads and decodes the next message.
func (c *Conn) Receive(t *testing.T) chat.Message {
	t.Helper()
	line, err := c.ReadLine(DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	m, err := chat.DecodeMessage([]byte(line))
	if err != nil {
		t.Fatalf("Failed to decode %q: %v", line, err)
	}
	return m
}

// ReceiveUser reads messages, skipping system notices, until a user message
// arrives.
func (c *Conn) ReceiveUser(t *testing.T) chat.Message {
	t.Helper()
	for {
		m := c.Receive(t)
		if !m.IsSystem() {
			return m
		}
	}
}

// ReceiveSystem reads messages until a system notice with the given content
// arrives.
func (c *Conn) ReceiveSystem(t *testing.T, content string) chat.Message {
	t.Helper()
	for {
		m := c.Receive(t)
		if m.IsSystem() && m.Content == content {
			return m
		}
	}
}

// ExpectNoUserMessage fails if a user message arrives within wait.
func (c *Conn) ExpectNoUserMessage(t *testing.T, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		line, err := c.ReadLine(remaining)
		if err != nil {
			return
		}
		m, err := chat.DecodeMessage([]byte(line))
		if err != nil {
			t.Fatalf("Failed to decode %q: %v", line, err)
		}
		if !m.IsSystem() {
			t.Fatalf("Unexpected message from %s: %q", m.Username, m.Content)
		}
	}
}

// ExpectEOF reads until the server closes the stream and fails if it does not
// close cleanly within timeout.
func (c *Conn) ExpectEOF(t *testing.T, timeout time.Duration) []chat.Message {
	t.Helper()
	var seen []chat.Message
	deadline := time.Now().Add(timeout)
	for {
		line, err := c.ReadLine(time.Until(deadline))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return seen
			}
			t.Fatalf("Expected clean EOF, got %v", err)
		}
		m, err := chat.DecodeMessage([]byte(line))
		if err != nil {
			t.Fatalf("Failed to decode %q: %v", line, err)
		}
		seen = append(seen, m)
	}
}

// AssertMessage checks the sender and content of m.
func AssertMessage(t *testing.T, m chat.Message, username, content string) {
	t.Helper()
	if m.Username != username || m.Content != content {
		t.Errorf("Expected %s: %q, got %s: %q", username, content, m.Username, m.Content)
	}
}

// WaitFor polls cond until it holds or the default timeout expires.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ReceiveWebSocket reads and decodes the next message from a gateway connection.
func ReceiveWebSocket(t *testing.T, conn *websocket.Conn) chat.Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	m, err := chat.DecodeMessage(data)
	if err != nil {
		t.Fatalf("Failed to decode %q: %v", data, err)
	}
	return m
}
