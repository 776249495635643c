// Package ws exposes the realtime transport: WebSocket endpoints
// carrying envelopes between clients and the gateway.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Command-Relay/commandrelay/internal/domain/decision"
	"github.com/Command-Relay/commandrelay/internal/service"
	"github.com/Command-Relay/commandrelay/pkg/envelope"
)

// Channel paths served by the hub.
const (
	PathRouter = "/ws/router"
	PathExec   = "/ws/exec"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub upgrades connections and pumps envelopes between clients and the
// gateway. Requests on one connection are processed strictly in arrival
// order; responses for different rids may interleave only because
// execution emits multiple events per request.
// ConnGauge tracks the live connection count. prometheus.Gauge
// satisfies it.
type ConnGauge interface {
	Inc()
	Dec()
}

type Hub struct {
	gateway    *service.GatewayService
	classifier *service.ClassificationService
	logger     *slog.Logger
	gauge      ConnGauge

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates the hub.
func NewHub(gateway *service.GatewayService, classifier *service.ClassificationService, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		gateway:    gateway,
		classifier: classifier,
		logger:     logger,
		conns:      make(map[*websocket.Conn]struct{}),
	}
}

// SetConnectionGauge attaches a live connection gauge. Must be called
// before the hub starts serving.
func (h *Hub) SetConnectionGauge(g ConnGauge) {
	h.gauge = g
}

// RegisterRoutes mounts the channel endpoints on the mux.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathRouter, h.handleRouter)
	mux.HandleFunc(PathExec, h.handleExec)
}

// Shutdown closes every live connection with a normal close frame.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}

// connSink serializes writes to one connection.
type connSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
}

// Emit implements service.EventSink.
func (s *connSink) Emit(env *envelope.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(env); err != nil {
		s.logger.Debug("envelope write failed", "type", env.Type, "rid", env.RID, "error", err)
	}
}

// session is the per-connection identity taken from query parameters at
// upgrade time.
type session struct {
	tenantID string
	agentID  string
	agentOS  string
	actorID  string
}

func sessionFrom(r *http.Request) session {
	q := r.URL.Query()
	return session{
		tenantID: q.Get("tenant_id"),
		agentID:  q.Get("agent_id"),
		agentOS:  q.Get("os"),
		actorID:  q.Get("actor_id"),
	}
}

func (h *Hub) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, *connSink, bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "path", r.URL.Path, "error", err)
		return nil, nil, false
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	if h.gauge != nil {
		h.gauge.Inc()
	}
	return conn, &connSink{conn: conn, logger: h.logger}, true
}

func (h *Hub) release(conn *websocket.Conn) {
	h.mu.Lock()
	_, tracked := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()
	if tracked && h.gauge != nil {
		h.gauge.Dec()
	}
	_ = conn.Close()
}

// handleExec serves the execution channel: each exec.request envelope
// carries a router decision which is driven through admission, policy,
// and execution. An execution in flight when the connection drops
// finishes server-side: its progress becomes undeliverable and is
// dropped by the sink, and the admission hold is returned when it
// completes. Per-command deadlines still bound every execution.
func (h *Hub) handleExec(w http.ResponseWriter, r *http.Request) {
	conn, sink, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	defer h.release(conn)

	sess := sessionFrom(r)
	ctx := context.WithoutCancel(r.Context())

	h.logger.Info("exec channel connected",
		"tenant_id", sess.tenantID, "agent_id", sess.agentID)

	for {
		env, ok := h.readEnvelope(conn, sink)
		if !ok {
			return
		}
		if env.Type != envelope.TypeExecRequest {
			sink.Emit(envelope.NewError(env.RID, service.CodeInvalidDecision,
				"exec channel accepts only "+envelope.TypeExecRequest))
			continue
		}

		var dec decision.RouterDecision
		if err := env.Unmarshal(&dec); err != nil {
			sink.Emit(envelope.NewError(env.RID, service.CodeInvalidDecision, err.Error()))
			continue
		}

		h.emit(sink, envelope.TypeExecQueued, env.RID, nil)

		req := service.GatewayRequest{
			RID:      env.RID,
			TenantID: sess.tenantID,
			AgentID:  sess.agentID,
			AgentOS:  sess.agentOS,
			ActorID:  sess.actorID,
			Decision: &dec,
		}
		if err := h.gateway.Process(ctx, req, sink); err != nil {
			h.logger.Error("request processing failed", "rid", env.RID, "error", err)
			sink.Emit(envelope.NewError(env.RID, "internal_error", "request processing failed"))
		}
	}
}

// routerPreviewData is the router.done payload for the preview channel.
type routerPreviewData struct {
	Decision       *decision.RouterDecision `json:"decision"`
	Classification json.RawMessage          `json:"classification,omitempty"`
}

// handleRouter serves the routing channel: a decision is validated and
// classified without executing anything, with the phase events a client
// renders as progress.
func (h *Hub) handleRouter(w http.ResponseWriter, r *http.Request) {
	conn, sink, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	defer h.release(conn)

	sess := sessionFrom(r)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.logger.Info("router channel connected",
		"tenant_id", sess.tenantID, "agent_id", sess.agentID)

	for {
		env, ok := h.readEnvelope(conn, sink)
		if !ok {
			return
		}
		if env.Type != envelope.TypeRouterRequest {
			sink.Emit(envelope.NewError(env.RID, service.CodeInvalidDecision,
				"router channel accepts only "+envelope.TypeRouterRequest))
			continue
		}

		var dec decision.RouterDecision
		if err := env.Unmarshal(&dec); err != nil {
			sink.Emit(envelope.NewError(env.RID, service.CodeInvalidDecision, err.Error()))
			continue
		}

		h.emit(sink, envelope.TypeRouterThinking, env.RID, nil)

		data := routerPreviewData{Decision: &dec}
		if dec.RequiresPolicy() {
			h.emit(sink, envelope.TypeRouterAnalyzing, env.RID, nil)
			classification, err := h.classifier.Classify(ctx, dec.Commands(), sess.tenantID, sess.agentOS)
			if err != nil {
				h.logger.Error("preview classification failed", "rid", env.RID, "error", err)
				sink.Emit(envelope.NewError(env.RID, "internal_error", "classification failed"))
				continue
			}
			raw, err := json.Marshal(classification)
			if err != nil {
				sink.Emit(envelope.NewError(env.RID, "internal_error", "classification failed"))
				continue
			}
			data.Classification = raw
			h.emit(sink, envelope.TypeRouterSelecting, env.RID, nil)
		}

		h.emit(sink, envelope.TypeRouterDone, env.RID, data)
	}
}

// readEnvelope reads and validates one envelope. Returns false when the
// connection is done.
func (h *Hub) readEnvelope(conn *websocket.Conn, sink *connSink) (*envelope.Envelope, bool) {
	for {
		var env envelope.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return nil, false
		}
		if err := env.Validate(); err != nil {
			// No rid to correlate with; answer on a reserved one.
			rid := env.RID
			if rid == "" {
				rid = "-"
			}
			sink.Emit(envelope.NewError(rid, service.CodeInvalidDecision, err.Error()))
			continue
		}
		return &env, true
	}
}

func (h *Hub) emit(sink *connSink, eventType, rid string, data any) {
	env, err := envelope.New(eventType, rid, data)
	if err != nil {
		h.logger.Error("build envelope failed", "type", eventType, "error", err)
		return
	}
	sink.Emit(env)
}
