package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
)

// ConfirmationStore implements confirmation.Store with an in-memory map.
// Thread-safe. The single mutex makes ResolveIfPending and ExpireDue
// serialize, which is what guarantees a record racing both gets exactly
// one terminal outcome.
type ConfirmationStore struct {
	mu      sync.RWMutex
	records map[string]*confirmation.CommandConfirmation
}

// NewConfirmationStore creates an empty in-memory confirmation store.
func NewConfirmationStore() *ConfirmationStore {
	return &ConfirmationStore{
		records: make(map[string]*confirmation.CommandConfirmation),
	}
}

// Create stores a new pending confirmation.
func (s *ConfirmationStore) Create(ctx context.Context, c *confirmation.CommandConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[c.ID] = copyConfirmation(c)
	return nil
}

// Get returns a confirmation by id.
func (s *ConfirmationStore) Get(ctx context.Context, id string) (*confirmation.CommandConfirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.records[id]
	if !ok {
		return nil, confirmation.ErrNotFound
	}
	return copyConfirmation(c), nil
}

// ResolveIfPending performs the conditional transition. A record that is
// no longer pending, or whose expiry instant has been reached, conflicts;
// the stored record is left untouched in that case. A record is live
// strictly before ExpiresAt, so resolve and sweep agree at the boundary.
func (s *ConfirmationStore) ResolveIfPending(ctx context.Context, id string, to confirmation.Status, actor, reason string, now time.Time) (*confirmation.CommandConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.records[id]
	if !ok {
		return nil, confirmation.ErrNotFound
	}
	if c.Status != confirmation.StatusPending || !now.Before(c.ExpiresAt) {
		return nil, confirmation.ErrConflict
	}

	c.Status = to
	resolvedAt := now
	c.ResolvedAt = &resolvedAt
	c.ResolvedBy = actor
	c.Reason = reason
	return copyConfirmation(c), nil
}

// ExpireDue batch-transitions pending records past their expiry.
func (s *ConfirmationStore) ExpireDue(ctx context.Context, now time.Time) ([]*confirmation.CommandConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*confirmation.CommandConfirmation
	for _, c := range s.records {
		if c.Status != confirmation.StatusPending || c.ExpiresAt.After(now) {
			continue
		}
		c.Status = confirmation.StatusExpired
		resolvedAt := now
		c.ResolvedAt = &resolvedAt
		c.ResolvedBy = "sweep"
		expired = append(expired, copyConfirmation(c))
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	return expired, nil
}

// ListPending returns pending confirmations for a tenant, oldest first.
func (s *ConfirmationStore) ListPending(ctx context.Context, tenantID string) ([]*confirmation.CommandConfirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*confirmation.CommandConfirmation
	for _, c := range s.records {
		if c.Status != confirmation.StatusPending {
			continue
		}
		if tenantID != "" && c.TenantID != tenantID {
			continue
		}
		pending = append(pending, copyConfirmation(c))
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// Size returns the number of stored records. For tests.
func (s *ConfirmationStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// copyConfirmation returns a deep copy to prevent external mutation.
func copyConfirmation(c *confirmation.CommandConfirmation) *confirmation.CommandConfirmation {
	cp := *c
	if c.ResolvedAt != nil {
		resolvedAt := *c.ResolvedAt
		cp.ResolvedAt = &resolvedAt
	}
	return &cp
}

// Compile-time interface verification.
var _ confirmation.Store = (*ConfirmationStore)(nil)
