package policy

import (
	"context"
	"errors"
)

// Store persists and retrieves command policies.
// Interface in the domain package; implementations live in adapters
// (in-memory for single-instance deployments, SQL for durable setups).
type Store interface {
	// VisibleTo returns the policies visible to a tenant's evaluation:
	// the tenant-scoped set union the global default scope.
	VisibleTo(ctx context.Context, tenantID string) ([]CommandPolicy, error)
	// Get returns a policy by ID.
	Get(ctx context.Context, id string) (*CommandPolicy, error)
	// Save creates or updates a policy.
	Save(ctx context.Context, p *CommandPolicy) error
	// Delete removes a policy by ID.
	Delete(ctx context.Context, id string) error
}

// ErrPolicyNotFound is returned when a policy does not exist.
var ErrPolicyNotFound = errors.New("policy not found")
