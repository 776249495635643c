package memory

import (
	"context"
	"sync"

	"github.com/Command-Relay/commandrelay/internal/domain/audit"
)

// DefaultAuditCapacity bounds the in-memory audit ring buffer.
const DefaultAuditCapacity = 10000

// AuditStore implements audit.Store as a bounded ring buffer.
// Oldest records are evicted when capacity is reached. Record never
// blocks and never fails.
type AuditStore struct {
	mu       sync.RWMutex
	records  []audit.Record
	start    int // index of the oldest record
	count    int
	capacity int
}

// NewAuditStore creates an in-memory audit store with the given
// capacity. Non-positive capacity uses the default.
func NewAuditStore(capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditStore{
		records:  make([]audit.Record, capacity),
		capacity: capacity,
	}
}

// Record appends an entry, evicting the oldest at capacity.
func (s *AuditStore) Record(ctx context.Context, rec audit.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := (s.start + s.count) % s.capacity
	s.records[idx] = rec
	if s.count < s.capacity {
		s.count++
	} else {
		s.start = (s.start + 1) % s.capacity
	}
}

// List returns the most recent records, newest first. An empty tenantID
// matches all tenants; a zero limit returns up to 100 records.
func (s *AuditStore) List(ctx context.Context, tenantID string, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Record, 0, limit)
	for i := s.count - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.records[(s.start+i)%s.capacity]
		if tenantID != "" && rec.TenantID != tenantID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Len returns the number of stored records. For tests.
func (s *AuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Compile-time interface verification.
var _ audit.Store = (*AuditStore)(nil)
