package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Command-Relay/commandrelay/internal/domain/policy"
)

// PolicyStore implements policy.Store with an in-memory map.
// Thread-safe for concurrent classification across tenants.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*policy.CommandPolicy
}

// NewPolicyStore creates an empty in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		policies: make(map[string]*policy.CommandPolicy),
	}
}

// VisibleTo returns tenant-scoped policies union the global default
// scope, in priority order.
func (s *PolicyStore) VisibleTo(ctx context.Context, tenantID string) ([]policy.CommandPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var visible []policy.CommandPolicy
	for _, p := range s.policies {
		if p.TenantID == "" || p.TenantID == tenantID {
			visible = append(visible, *copyPolicy(p))
		}
	}

	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].Priority < visible[j].Priority
	})
	return visible, nil
}

// Get returns a policy by ID.
func (s *PolicyStore) Get(ctx context.Context, id string) (*policy.CommandPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, policy.ErrPolicyNotFound
	}
	return copyPolicy(p), nil
}

// Save creates or updates a policy.
func (s *PolicyStore) Save(ctx context.Context, p *policy.CommandPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = copyPolicy(p)
	return nil
}

// Delete removes a policy by ID.
func (s *PolicyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return policy.ErrPolicyNotFound
	}
	delete(s.policies, id)
	return nil
}

// Size returns the number of stored policies. For tests.
func (s *PolicyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}

// copyPolicy returns a deep copy to prevent external mutation.
func copyPolicy(p *policy.CommandPolicy) *policy.CommandPolicy {
	cp := *p
	if len(p.OSWhitelist) > 0 {
		cp.OSWhitelist = make([]string, len(p.OSWhitelist))
		copy(cp.OSWhitelist, p.OSWhitelist)
	}
	return &cp
}

// Compile-time interface verification.
var _ policy.Store = (*PolicyStore)(nil)
