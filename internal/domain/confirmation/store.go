package confirmation

import (
	"context"
	"time"
)

// Store persists confirmation records. The conditional semantics of
// ResolveIfPending and ExpireDue are the concurrency contract: both only
// transition records that are still pending, so a resolve racing the
// sweep produces exactly one terminal outcome.
type Store interface {
	// Create stores a new pending confirmation.
	Create(ctx context.Context, c *CommandConfirmation) error

	// Get returns a confirmation by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*CommandConfirmation, error)

	// ResolveIfPending atomically transitions a pending record to the
	// given terminal status. It fails with ErrConflict if the record is
	// no longer pending (including already expired), and ErrNotFound for
	// an unknown id. On conflict the stored record is unchanged.
	ResolveIfPending(ctx context.Context, id string, to Status, actor, reason string, now time.Time) (*CommandConfirmation, error)

	// ExpireDue transitions every pending record with ExpiresAt <= now to
	// expired in one batch and returns the newly expired records.
	// Idempotent: records already terminal are untouched.
	ExpireDue(ctx context.Context, now time.Time) ([]*CommandConfirmation, error)

	// ListPending returns pending confirmations for a tenant, oldest
	// first. An empty tenantID returns all tenants.
	ListPending(ctx context.Context, tenantID string) ([]*CommandConfirmation, error)
}
