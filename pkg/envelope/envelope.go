// Package envelope defines the wire unit exchanged over the realtime
// transport. One JSON object per WebSocket frame, symmetric for
// client->server and server->client traffic.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event type names carried in the Type field.
//
// Router channel: a submitted user request produces phased progress
// events followed by a terminal done or error event.
const (
	TypeRouterRequest   = "router.request"
	TypeRouterThinking  = "router.thinking"
	TypeRouterAnalyzing = "router.analyzing"
	TypeRouterSelecting = "router.selecting"
	TypeRouterDone      = "router.done"
)

// Exec channel: a submitted decision produces per-command lifecycle events.
const (
	TypeExecRequest  = "exec.request"
	TypeExecQueued   = "exec.queued"
	TypeExecStarted  = "exec.started"
	TypeExecProgress = "exec.progress"
	TypeExecStdout   = "exec.stdout"
	TypeExecFinished = "exec.finished"
	TypeExecTimeout  = "exec.timeout"
)

// Cross-channel event types.
const (
	// TypeConfirmationRequired pauses an action pending human approval.
	// Data carries the confirmation id and expiry.
	TypeConfirmationRequired = "confirmation.required"

	// TypeError is the single failure path for all transport and
	// processing errors. Subscribers handle exactly one event type
	// regardless of the failure cause.
	TypeError = "error"
)

// Envelope is the wire unit. Created once per emitted event and never
// mutated afterwards; not persisted beyond the session.
type Envelope struct {
	// Type is the event name used for handler dispatch.
	Type string `json:"type"`
	// RID correlates responses with the request that produced them.
	// Multiple logical requests can share one physical connection.
	RID string `json:"rid"`
	// TS is the emission time in Unix milliseconds.
	TS int64 `json:"ts"`
	// Data is the event-specific payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrMissingType is returned when an envelope has no event type.
var ErrMissingType = errors.New("envelope missing type")

// ErrMissingRID is returned when an envelope has no correlation id.
var ErrMissingRID = errors.New("envelope missing rid")

// New constructs an envelope for the given event type and correlation id,
// marshaling data as the payload. A nil data produces an empty payload.
func New(eventType, rid string, data any) (*Envelope, error) {
	env := &Envelope{
		Type: eventType,
		RID:  rid,
		TS:   time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope data: %w", err)
		}
		env.Data = raw
	}
	return env, nil
}

// ErrorData is the payload of a TypeError envelope.
type ErrorData struct {
	// Code is a stable machine-readable error code (e.g. "rate_limited",
	// "policy_violation", "transport_error").
	Code string `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// RetryAfterSeconds is set for rate-limited rejections.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

// NewError constructs a TypeError envelope. It never fails: ErrorData
// always marshals.
func NewError(rid, code, message string) *Envelope {
	env, _ := New(TypeError, rid, ErrorData{Code: code, Message: message})
	return env
}

// Unmarshal decodes the payload into v.
func (e *Envelope) Unmarshal(v any) error {
	if len(e.Data) == 0 {
		return errors.New("envelope has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// Validate checks the envelope carries the required fields.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return ErrMissingType
	}
	if e.RID == "" {
		return ErrMissingRID
	}
	return nil
}
