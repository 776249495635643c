// Package wsclient implements the realtime client side of the gateway
// transport: a WebSocket connection carrying envelopes, with automatic
// reconnection, typed event subscription, and request correlation.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Command-Relay/commandrelay/pkg/envelope"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Defaults for reconnection behavior.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 10 * time.Second
	DefaultMaxAttempts = 5
)

// Error codes dispatched as error envelopes by the client itself.
const (
	CodeNotConnected    = "not_connected"
	CodeReconnectFailed = "reconnect_failed"
)

// ErrNotConnected is returned by Send when no connection is up.
var ErrNotConnected = errors.New("not connected")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("client closed")

// Config configures a Client.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// BackoffBase is the first reconnect delay. Doubled per attempt.
	BackoffBase time.Duration
	// BackoffCap bounds the reconnect delay.
	BackoffCap time.Duration
	// MaxAttempts is how many consecutive reconnects are tried before the
	// client gives up and dispatches a terminal error event.
	MaxAttempts int
	// Dialer overrides the default websocket dialer.
	Dialer *websocket.Dialer
	// Logger receives connection lifecycle logs.
	Logger *slog.Logger
}

// Handler receives a dispatched envelope. Handlers run on the read
// goroutine and must not block.
type Handler func(env *envelope.Envelope)

// Subscription is a handle for removing a handler. Unsubscribe is
// idempotent and safe to call from inside a handler.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. Subsequent calls are no-ops.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Client is a reconnecting envelope transport. Safe for concurrent use.
type Client struct {
	cfg    Config
	logger *slog.Logger

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn

	handlersMu sync.RWMutex
	handlers   map[string]map[uint64]Handler
	nextSub    uint64

	pendingMu sync.Mutex
	pending   map[string]chan *envelope.Envelope

	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a client for the given endpoint. It does not connect;
// call Connect.
func New(cfg Config) *Client {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string]map[uint64]Handler),
		pending:  make(map[string]chan *envelope.Envelope),
		stop:     make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connect dials the endpoint and starts the read loop. Reconnection
// after a later drop is automatic; the initial dial is not retried.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	c.state.Store(int32(StateConnecting))

	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.state.Store(int32(StateConnected))

	c.logger.Info("transport connected", "url", c.cfg.URL)
	go c.readLoop(conn)
	return nil
}

// On registers a handler for an event type and returns its subscription.
func (c *Client) On(eventType string, h Handler) *Subscription {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.nextSub++
	id := c.nextSub
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = make(map[uint64]Handler)
	}
	c.handlers[eventType][id] = h

	return &Subscription{cancel: func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		delete(c.handlers[eventType], id)
	}}
}

// Send writes one envelope. When no connection is up it dispatches an
// error envelope carrying the request's rid so subscribers see the
// failure on the same path as remote errors, and returns ErrNotConnected.
func (c *Client) Send(env *envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	c.connMu.Lock()
	conn := c.conn
	connected := c.State() == StateConnected
	if !connected || conn == nil {
		c.connMu.Unlock()
		c.dispatch(envelope.NewError(env.RID, CodeNotConnected, "transport is not connected"))
		return ErrNotConnected
	}
	err := conn.WriteJSON(env)
	c.connMu.Unlock()

	if err != nil {
		c.dispatch(envelope.NewError(env.RID, CodeNotConnected, "write failed: "+err.Error()))
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Stream delivers every envelope correlated with one request rid.
type Stream struct {
	// C carries correlated envelopes in arrival order.
	C     <-chan *envelope.Envelope
	close func()
}

// Close stops correlation for the rid. Idempotent.
func (s *Stream) Close() { s.close() }

// Request sends the envelope and returns a stream of every response
// sharing its rid. The caller decides which event type is terminal and
// closes the stream when done.
func (c *Client) Request(env *envelope.Envelope) (*Stream, error) {
	ch := make(chan *envelope.Envelope, 64)

	c.pendingMu.Lock()
	c.pending[env.RID] = ch
	c.pendingMu.Unlock()

	var once sync.Once
	stream := &Stream{C: ch, close: func() {
		once.Do(func() {
			c.pendingMu.Lock()
			delete(c.pending, env.RID)
			c.pendingMu.Unlock()
		})
	}}

	if err := c.Send(env); err != nil {
		// The not_connected error envelope was already routed to ch.
		return stream, err
	}
	return stream, nil
}

// Close shuts the client down with a normal close frame. No reconnect
// is attempted after Close.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.stop)

		c.connMu.Lock()
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			err = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	})
	return err
}

// readLoop reads envelopes until the connection drops, then decides
// whether to reconnect.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env envelope.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.onReadError(err)
			return
		}
		if env.Validate() != nil {
			c.logger.Warn("dropping malformed envelope", "type", env.Type, "rid", env.RID)
			continue
		}
		c.dispatch(&env)
	}
}

func (c *Client) onReadError(err error) {
	// Client-initiated close or a clean peer close ends the session.
	if c.State() == StateClosed {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("transport closed by peer")
		c.state.Store(int32(StateDisconnected))
		return
	}

	c.logger.Warn("transport connection lost", "error", err)
	c.state.Store(int32(StateDisconnected))
	c.reconnect()
}

// reconnect retries with exponential backoff until success, Close, or
// the attempt budget is exhausted.
func (c *Client) reconnect() {
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		delay := backoffDelay(attempt, c.cfg.BackoffBase, c.cfg.BackoffCap)
		c.logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)

		select {
		case <-c.stop:
			return
		case <-time.After(delay):
		}

		c.state.Store(int32(StateConnecting))
		conn, _, err := c.cfg.Dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
			c.state.Store(int32(StateDisconnected))
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.state.Store(int32(StateConnected))
		c.logger.Info("transport reconnected", "attempt", attempt+1)
		go c.readLoop(conn)
		return
	}

	c.logger.Error("reconnect attempts exhausted", "attempts", c.cfg.MaxAttempts)
	c.dispatch(envelope.NewError("", CodeReconnectFailed,
		fmt.Sprintf("gave up after %d reconnect attempts", c.cfg.MaxAttempts)))
}

// backoffDelay is min(base * 2^attempt, ceiling).
func backoffDelay(attempt int, base, ceiling time.Duration) time.Duration {
	d := base << uint(attempt)
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// dispatch routes an envelope to its rid stream and to every handler
// registered for its type. Handlers are snapshotted first, so a handler
// unsubscribing itself (or any other) during dispatch is safe.
func (c *Client) dispatch(env *envelope.Envelope) {
	if env.RID != "" {
		c.pendingMu.Lock()
		ch := c.pending[env.RID]
		c.pendingMu.Unlock()
		if ch != nil {
			select {
			case ch <- env:
			default:
				c.logger.Warn("request stream full, dropping envelope",
					"rid", env.RID, "type", env.Type)
			}
		}
	}

	c.handlersMu.RLock()
	snapshot := make([]Handler, 0, len(c.handlers[env.Type]))
	for _, h := range c.handlers[env.Type] {
		snapshot = append(snapshot, h)
	}
	c.handlersMu.RUnlock()

	for _, h := range snapshot {
		h(env)
	}
}
