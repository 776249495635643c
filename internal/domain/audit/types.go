// Package audit contains domain types for the gateway audit trail.
package audit

import "time"

// EventType constants categorize audit records.
const (
	// Classification outcomes.
	EventTypeClassify = "policy.classify"

	// Policy administration.
	EventTypePolicyCreate = "policy.create"
	EventTypePolicyUpdate = "policy.update"
	EventTypePolicyDelete = "policy.delete"

	// Confirmation lifecycle transitions.
	EventTypeConfirmationOpen    = "confirmation.open"
	EventTypeConfirmationResolve = "confirmation.resolve"
	EventTypeConfirmationCancel  = "confirmation.cancel"
	EventTypeConfirmationExpire  = "confirmation.expire"

	// Rate limiter rejections.
	EventTypeRateLimited = "ratelimit.reject"
)

// ActorType constants identify who performed an action.
const (
	ActorTypeUser   = "user"
	ActorTypeRouter = "router"
	ActorTypeSystem = "system"
)

// Record is a single audit trail entry. Confirmation transitions record
// before/after status so downstream tooling can distinguish "timed out"
// from "explicitly denied".
type Record struct {
	// Timestamp when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
	// TenantID for multi-tenant isolation.
	TenantID string `json:"tenant_id"`
	// EventType categorizes the event.
	EventType string `json:"event_type"`
	// RequestID correlates the record with a transport rid, if any.
	RequestID string `json:"request_id,omitempty"`

	// Actor information (who performed the action).
	ActorID   string `json:"actor_id,omitempty"`
	ActorType string `json:"actor_type,omitempty"`

	// Target information (what was affected).
	TargetID string `json:"target_id,omitempty"`
	// AgentID identifies the managed agent involved, if any.
	AgentID string `json:"agent_id,omitempty"`

	// Transition details for confirmation records.
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`

	// Command is the affected command text, if any.
	Command string `json:"command,omitempty"`
	// Reason carries additional context (policy message, denial reason).
	Reason string `json:"reason,omitempty"`
}
