// Package confirmation manages time-boxed human approval records for
// medium/high-risk commands.
package confirmation

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a confirmation.
type Status string

const (
	// StatusPending awaits an explicit actor decision or expiry.
	StatusPending Status = "pending"
	// StatusApproved is terminal: a human approved the command.
	StatusApproved Status = "approved"
	// StatusRejected is terminal: a human denied the command.
	StatusRejected Status = "rejected"
	// StatusExpired is terminal: the sweep found the record past its TTL.
	// Reported distinctly from rejected so audit can tell "timed out"
	// from "explicitly denied".
	StatusExpired Status = "expired"
	// StatusCancelled is terminal: the requester withdrew the action.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are legal from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired || s == StatusCancelled
}

// CommandConfirmation is a durable, time-boxed approval record.
// Legal transitions: pending -> approved/rejected/cancelled via an
// explicit actor decision, or pending -> expired via the sweep when
// now > ExpiresAt. Nothing transitions out of a terminal state.
type CommandConfirmation struct {
	// ID is the unique identifier for this confirmation.
	ID string `json:"id"`
	// CommandText is the command awaiting approval.
	CommandText string `json:"command_text"`
	// AgentID identifies the managed agent that would run the command.
	AgentID string `json:"agent_id"`
	// TenantID scopes the confirmation.
	TenantID string `json:"tenant_id"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// CreatedAt is when the record was opened (UTC).
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is the fixed expiry: CreatedAt + TTL.
	ExpiresAt time.Time `json:"expires_at"`
	// ResolvedAt is when the record reached a terminal state.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	// ResolvedBy identifies the actor that resolved the record.
	ResolvedBy string `json:"resolved_by,omitempty"`
	// Reason carries the audit reason for the resolution.
	Reason string `json:"reason,omitempty"`
}

// ErrNotFound is returned when a confirmation id is unknown.
var ErrNotFound = errors.New("confirmation not found")

// ErrConflict is returned for illegal state transitions, e.g. resolving
// a record that is no longer pending. The record is never mutated when
// this error is returned.
var ErrConflict = errors.New("confirmation is not pending")
