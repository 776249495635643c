package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Command-Relay/commandrelay/pkg/envelope"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	base := 1000 * time.Millisecond
	ceiling := 10000 * time.Millisecond
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
	}
	for attempt, w := range want {
		if got := backoffDelay(attempt, base, ceiling); got != w {
			t.Errorf("backoffDelay(%d) = %v, want %v", attempt, got, w)
		}
	}

	// Overflow-sized attempts stay clamped.
	if got := backoffDelay(64, base, ceiling); got != ceiling {
		t.Errorf("backoffDelay(64) = %v, want ceiling", got)
	}
}

// echoServer upgrades connections and echoes every envelope back.
type echoServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	accepts atomic.Int64
	refuse  atomic.Bool
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.refuse.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.accepts.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var env envelope.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if err := conn.WriteJSON(&env); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// dropConnections force-closes all server-side connections without a
// close frame, simulating a network drop.
func (s *echoServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c := New(Config{
		URL:         url,
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
		MaxAttempts: 3,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestClient_SendAndReceive(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	var got atomic.Pointer[envelope.Envelope]
	c.On(envelope.TypeRouterRequest, func(env *envelope.Envelope) {
		got.Store(env)
	})

	env, _ := envelope.New(envelope.TypeRouterRequest, "rid-1", map[string]string{"q": "deploy"})
	if err := c.Send(env); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	waitFor(t, func() bool { return got.Load() != nil }, "echoed envelope never dispatched")
	if got.Load().RID != "rid-1" {
		t.Errorf("RID = %q, want rid-1", got.Load().RID)
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "ws://127.0.0.1:0/ws")

	var errEnv atomic.Pointer[envelope.Envelope]
	c.On(envelope.TypeError, func(env *envelope.Envelope) {
		errEnv.Store(env)
	})

	env, _ := envelope.New(envelope.TypeExecRequest, "rid-offline", nil)
	if err := c.Send(env); err != ErrNotConnected {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}

	// The failure also surfaces as an error-typed event with the rid.
	got := errEnv.Load()
	if got == nil {
		t.Fatal("no error envelope dispatched")
	}
	if got.RID != "rid-offline" {
		t.Errorf("error RID = %q, want rid-offline", got.RID)
	}
	var data envelope.ErrorData
	_ = got.Unmarshal(&data)
	if data.Code != CodeNotConnected {
		t.Errorf("Code = %q, want not_connected", data.Code)
	}
}

func TestClient_RequestCorrelation(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	env, _ := envelope.New(envelope.TypeExecRequest, "rid-corr", map[string]string{"cmd": "ls"})
	stream, err := c.Request(env)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	defer stream.Close()

	select {
	case got := <-stream.C:
		if got.RID != "rid-corr" || got.Type != envelope.TypeExecRequest {
			t.Errorf("correlated envelope = %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no correlated response")
	}
}

func TestClient_UnsubscribeDuringDispatch(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	var calls atomic.Int64
	var sub *Subscription
	sub = c.On(envelope.TypeRouterDone, func(env *envelope.Envelope) {
		calls.Add(1)
		// Self-removal mid-dispatch must not deadlock or panic.
		sub.Unsubscribe()
		sub.Unsubscribe() // idempotent
	})

	env, _ := envelope.New(envelope.TypeRouterDone, "rid-u", nil)
	_ = c.Send(env)
	waitFor(t, func() bool { return calls.Load() == 1 }, "handler never ran")

	// A second event finds no handler.
	_ = c.Send(env)
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1 after unsubscribe", calls.Load())
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitFor(t, func() bool { return srv.accepts.Load() == 1 }, "first connection never arrived")

	srv.dropConnections()

	waitFor(t, func() bool { return srv.accepts.Load() >= 2 }, "client never reconnected")
	waitFor(t, func() bool { return c.State() == StateConnected }, "client never returned to connected")
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	var terminal atomic.Pointer[envelope.Envelope]
	c.On(envelope.TypeError, func(env *envelope.Envelope) {
		terminal.Store(env)
	})

	// Refuse upgrades so every reconnect attempt fails.
	srv.refuse.Store(true)
	srv.dropConnections()

	waitFor(t, func() bool { return terminal.Load() != nil }, "no terminal error after exhausting attempts")

	var data envelope.ErrorData
	_ = terminal.Load().Unmarshal(&data)
	if data.Code != CodeReconnectFailed {
		t.Errorf("Code = %q, want reconnect_failed", data.Code)
	}
	if c.State() == StateConnected {
		t.Error("client should not be connected")
	}
}

func TestClient_NormalCloseSuppressesReconnect(t *testing.T) {
	t.Parallel()

	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitFor(t, func() bool { return srv.accepts.Load() == 1 }, "connection never arrived")

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// No reconnect happens after a client-initiated close.
	time.Sleep(100 * time.Millisecond)
	if got := srv.accepts.Load(); got != 1 {
		t.Errorf("server accepts = %d, want 1 (no reconnect)", got)
	}
	if c.State() != StateClosed {
		t.Errorf("State = %v, want closed", c.State())
	}

	if err := c.Close(); err != nil {
		t.Errorf("double Close() error: %v", err)
	}
	if err := c.Connect(context.Background()); err != ErrClosed {
		t.Errorf("Connect() after Close = %v, want ErrClosed", err)
	}
}
