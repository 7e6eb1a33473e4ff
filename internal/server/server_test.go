package server

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/linechat/internal/chat"
	"github.com/Tyrowin/linechat/internal/chattest"
)

// startTestServer serves a fresh Server on a loopback port and shuts it down
// when the test ends.
func startTestServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{chattest.TestOrigin}
	cfg.CloseLinger = 500 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	srv := New(*cfg, zerolog.Nop())
	ln := chattest.Listen(t)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)

		select {
		case err := <-serveErr:
			if !errors.Is(err, ErrServerClosed) {
				t.Errorf("Serve returned %v, want ErrServerClosed", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})

	return srv, ln.Addr().String()
}

func waitForClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	chattest.WaitFor(t, strconv.Itoa(n)+" registered clients", func() bool {
		return srv.Hub().Clients() == n
	})
}

// TestBroadcastReachesEveryOtherClient verifies that after N clients connect
// and one sends a line, every other client receives it exactly once and the
// sender receives no echo.
func TestBroadcastReachesEveryOtherClient(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	const numClients = 5
	clients := make([]*chattest.Conn, numClients)
	for i := range clients {
		clients[i] = chattest.Dial(t, addr, "user"+strconv.Itoa(i))
	}
	waitForClients(t, srv, numClients)

	clients[0].Send(t, "hello everyone")

	for i := 1; i < numClients; i++ {
		m := clients[i].ReceiveUser(t)
		chattest.AssertMessage(t, m, "user0", "hello everyone")
		if m.Type != chat.UserMessage {
			t.Errorf("Client %d: expected UserMessage, got %s", i, m.Type)
		}
	}
	for i := 1; i < numClients; i++ {
		clients[i].ExpectNoUserMessage(t, 100*time.Millisecond)
	}
	clients[0].ExpectNoUserMessage(t, 100*time.Millisecond)
}

// TestHistoryReplayScenario covers capacity three: "hello", "world", "foo",
// "bar" are sent, a newcomer replays the last three in order and then
// receives live traffic normally.
func TestHistoryReplayScenario(t *testing.T) {
	srv, addr := startTestServer(t, func(c *Config) { c.HistoryCapacity = 3 })

	x := chattest.Dial(t, addr, "x")
	waitForClients(t, srv, 1)
	for _, body := range []string{"hello", "world", "foo", "bar"} {
		x.Send(t, body)
	}
	chattest.WaitFor(t, "history to fill", func() bool {
		h := srv.Hub().History()
		return len(h) == 3 && h[2].Content == "bar"
	})

	y := chattest.Dial(t, addr, "y")
	for _, want := range []string{"world", "foo", "bar"} {
		chattest.AssertMessage(t, y.Receive(t), "x", want)
	}

	x.Send(t, "live")
	chattest.AssertMessage(t, y.ReceiveUser(t), "x", "live")
}

// TestReplayEvictsOldest verifies capacity+1 messages replay as exactly
// capacity messages with the oldest one evicted.
func TestReplayEvictsOldest(t *testing.T) {
	const capacity = 5
	srv, addr := startTestServer(t, func(c *Config) { c.HistoryCapacity = capacity })

	sender := chattest.Dial(t, addr, "sender")
	waitForClients(t, srv, 1)
	for i := 0; i <= capacity; i++ {
		sender.Send(t, "m"+strconv.Itoa(i))
	}
	chattest.WaitFor(t, "history to fill", func() bool {
		h := srv.Hub().History()
		return len(h) == capacity && h[capacity-1].Content == "m"+strconv.Itoa(capacity)
	})

	late := chattest.Dial(t, addr, "late")
	for i := 1; i <= capacity; i++ {
		chattest.AssertMessage(t, late.Receive(t), "sender", "m"+strconv.Itoa(i))
	}
	late.ExpectNoUserMessage(t, 100*time.Millisecond)
}

// TestDisconnectIsolation verifies that one client vanishing does not
// affect delivery between the others.
func TestDisconnectIsolation(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	a := chattest.Dial(t, addr, "a")
	b := chattest.Dial(t, addr, "b")
	c := chattest.Dial(t, addr, "c")
	waitForClients(t, srv, 3)

	b.Send(t, "first")
	chattest.AssertMessage(t, c.ReceiveUser(t), "b", "first")

	_ = a.Close()
	b.Send(t, "second")

	chattest.AssertMessage(t, c.ReceiveUser(t), "b", "second")
	waitForClients(t, srv, 2)
}

// TestHandshakeRejected verifies an empty name drops only that connection.
func TestHandshakeRejected(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	ok := chattest.Dial(t, addr, "ok")
	waitForClients(t, srv, 1)

	bad := chattest.Dial(t, addr, "   ")
	if seen := bad.ExpectEOF(t, time.Second); len(seen) != 0 {
		t.Errorf("Rejected client received %d messages", len(seen))
	}
	if srv.Hub().Clients() != 1 {
		t.Errorf("Expected 1 client, got %d", srv.Hub().Clients())
	}

	other := chattest.Dial(t, addr, "other")
	waitForClients(t, srv, 2)
	other.Send(t, "still working")
	chattest.AssertMessage(t, ok.ReceiveUser(t), "other", "still working")
}

// TestHandshakeTimeout verifies a peer that never sends a name is dropped.
func TestHandshakeTimeout(t *testing.T) {
	srv, addr := startTestServer(t, func(c *Config) { c.HandshakeTimeout = 100 * time.Millisecond })

	silent := chattest.DialRaw(t, addr)
	if _, err := silent.ReadLine(time.Second); err == nil {
		t.Error("Expected the silent connection to be closed")
	}
	if srv.Hub().Clients() != 0 {
		t.Errorf("Expected no clients, got %d", srv.Hub().Clients())
	}
}

// TestOversizedLineClosesSession verifies a line over the limit ends only the
// offending session.
func TestOversizedLineClosesSession(t *testing.T) {
	srv, addr := startTestServer(t, func(c *Config) { c.MaxLineLength = 64 })

	big := chattest.Dial(t, addr, "big")
	small := chattest.Dial(t, addr, "small")
	waitForClients(t, srv, 2)

	big.Send(t, strings.Repeat("x", 500))
	waitForClients(t, srv, 1)

	other := chattest.Dial(t, addr, "other")
	waitForClients(t, srv, 2)
	other.Send(t, "fits")
	chattest.AssertMessage(t, small.ReceiveUser(t), "other", "fits")
}

// TestMalformedUTF8ClosesSession verifies invalid UTF-8 ends the session.
func TestMalformedUTF8ClosesSession(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	bad := chattest.Dial(t, addr, "bad")
	watcher := chattest.Dial(t, addr, "watcher")
	waitForClients(t, srv, 2)

	if _, err := bad.Write([]byte{0xff, 0xfe, 'a', '\n'}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitForClients(t, srv, 1)
	watcher.ReceiveSystem(t, "has blasted off")
}

// TestEmptyLinesIgnored verifies blank lines are not broadcast.
func TestEmptyLinesIgnored(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	a := chattest.Dial(t, addr, "a")
	b := chattest.Dial(t, addr, "b")
	waitForClients(t, srv, 2)

	a.Send(t, "")
	a.Send(t, "   ")
	a.Send(t, "  padded  ")

	chattest.AssertMessage(t, b.ReceiveUser(t), "a", "padded")
	if len(srv.Hub().History()) != 1 {
		t.Errorf("Expected 1 message in history, got %d", len(srv.Hub().History()))
	}
}

// TestRateLimitDiscardsExcess verifies lines beyond the burst are dropped.
func TestRateLimitDiscardsExcess(t *testing.T) {
	srv, addr := startTestServer(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})

	a := chattest.Dial(t, addr, "a")
	b := chattest.Dial(t, addr, "b")
	waitForClients(t, srv, 2)

	for i := 0; i < 5; i++ {
		a.Send(t, "msg"+strconv.Itoa(i))
	}

	chattest.AssertMessage(t, b.ReceiveUser(t), "a", "msg0")
	chattest.AssertMessage(t, b.ReceiveUser(t), "a", "msg1")
	b.ExpectNoUserMessage(t, 150*time.Millisecond)
}

// TestShutdownSendsFarewell verifies that on shutdown every connected client
// receives the farewell notice followed by a clean end of stream.
func TestShutdownSendsFarewell(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	a := chattest.Dial(t, addr, "a")
	b := chattest.Dial(t, addr, "b")
	waitForClients(t, srv, 2)

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		shutdownErr <- srv.Shutdown(ctx)
	}()

	for _, c := range []*chattest.Conn{a, b} {
		seen := c.ExpectEOF(t, 2*time.Second)
		if len(seen) == 0 {
			t.Fatal("Expected the farewell before EOF")
		}
		last := seen[len(seen)-1]
		if !last.IsSystem() || last.Content != FarewellText {
			t.Errorf("Expected farewell last, got %+v", last)
		}
		_ = c.Close()
	}

	select {
	case err := <-shutdownErr:
		if err != nil {
			t.Errorf("Shutdown returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not complete")
	}

	if _, _, err := srv.Hub().Join("late", ""); !errors.Is(err, chat.ErrShutdown) {
		t.Errorf("Expected ErrShutdown after shutdown, got %v", err)
	}
}

// TestServeAfterShutdown verifies a stopped server refuses to serve again.
func TestServeAfterShutdown(t *testing.T) {
	srv := New(Config{}, zerolog.Nop())
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	ln := chattest.Listen(t)
	if err := srv.Serve(ln); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Expected ErrServerClosed, got %v", err)
	}
}

// TestStateString verifies the lifecycle names used in logs.
func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateConnecting: "connecting",
		StateActive:     "active",
		StateClosing:    "closing",
		StateClosed:     "closed",
		State(42):       "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

// TestConcurrentShutdown verifies Shutdown may be called from several
// goroutines at once.
func TestConcurrentShutdown(t *testing.T) {
	srv, addr := startTestServer(t, nil)
	for i := 0; i < 3; i++ {
		chattest.Dial(t, addr, "user"+strconv.Itoa(i))
	}
	waitForClients(t, srv, 3)

	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			errs <- srv.Shutdown(ctx)
		}()
	}
	for i := 0; i < 5; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Shutdown returned %v", err)
		}
	}
	if n := srv.Hub().Clients(); n != 0 {
		t.Errorf("Expected no clients after shutdown, got %d", n)
	}
}

// TestNoClientsShutdown verifies an idle server stops promptly.
func TestNoClientsShutdown(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Idle shutdown took %s", elapsed)
	}
}

// TestAddrReportsListener verifies Addr is nil before Serve and the listener
// address afterwards.
func TestAddrReportsListener(t *testing.T) {
	if New(Config{}, zerolog.Nop()).Addr() != nil {
		t.Error("Expected nil Addr before Serve")
	}

	srv, addr := startTestServer(t, nil)
	chattest.WaitFor(t, "listener", func() bool { return srv.Addr() != nil })
	if got := srv.Addr().String(); got != addr {
		t.Errorf("Expected %s, got %s", addr, got)
	}
}

// handleOf returns the hub handle of the live session registered as name.
func handleOf(t *testing.T, srv *Server, name string) *chat.Handle {
	t.Helper()
	var found *chat.Handle
	chattest.WaitFor(t, "session "+name, func() bool {
		for _, tr := range srv.snapshotSessions() {
			var h *chat.Handle
			switch v := tr.(type) {
			case *session:
				v.mu.Lock()
				h = v.handle
				v.mu.Unlock()
			case *Client:
				v.mu.Lock()
				h = v.handle
				v.mu.Unlock()
			}
			if h != nil && h.Name() == name {
				found = h
				return true
			}
		}
		return false
	})
	return found
}

// TestDefaultConfigKeepsEveryMessage verifies the default configuration
// admits a burst of capacity+1 lines, so a newcomer replays exactly
// capacity of them.
func TestDefaultConfigKeepsEveryMessage(t *testing.T) {
	cfg := NewConfig()
	srv := New(*cfg, zerolog.Nop())
	ln := chattest.Listen(t)
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	addr := ln.Addr().String()

	capacity := cfg.HistoryCapacity
	sender := chattest.Dial(t, addr, "sender")
	waitForClients(t, srv, 1)
	for i := 0; i <= capacity; i++ {
		sender.Send(t, "m"+strconv.Itoa(i))
	}
	chattest.WaitFor(t, "history to fill", func() bool {
		h := srv.Hub().History()
		return len(h) == capacity && h[capacity-1].Content == "m"+strconv.Itoa(capacity)
	})

	late := chattest.Dial(t, addr, "late")
	for i := 1; i <= capacity; i++ {
		chattest.AssertMessage(t, late.Receive(t), "sender", "m"+strconv.Itoa(i))
	}
}

// TestUnregisteredSessionCannotPublish verifies that once the hub drops a
// session, lines it still sends during the close linger reach nobody.
func TestUnregisteredSessionCannotPublish(t *testing.T) {
	srv, addr := startTestServer(t, func(c *Config) { c.CloseLinger = time.Second })

	a := chattest.Dial(t, addr, "a")
	b := chattest.Dial(t, addr, "b")
	waitForClients(t, srv, 2)

	srv.Hub().Leave(handleOf(t, srv, "a").ID())
	a.ExpectEOF(t, time.Second)

	a.Send(t, "ghost")
	b.ExpectNoUserMessage(t, 200*time.Millisecond)
	if h := srv.Hub().History(); len(h) != 0 {
		t.Errorf("Unregistered session's line was recorded: %+v", h)
	}
}

// TestListenAndServe verifies the configured address is bound and served
// until Shutdown.
func TestListenAndServe(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0", CloseLinger: 200 * time.Millisecond}, zerolog.Nop())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	chattest.WaitFor(t, "listener", func() bool { return srv.Addr() != nil })

	chattest.Dial(t, srv.Addr().String(), "ann")
	waitForClients(t, srv, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned %v", err)
	}
	select {
	case err := <-serveErr:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("ListenAndServe did not return after Shutdown")
	}
}
