// Package service contains application services.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Command-Relay/commandrelay/internal/domain/audit"
	"github.com/Command-Relay/commandrelay/internal/domain/policy"
)

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key    uint64
	result *policy.ActionClassification
	prev   *lruEntry
	next   *lruEntry
}

// ResultCache provides bounded LRU caching for classification results.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached result and promotes it to most recently used.
func (c *ResultCache) Get(key uint64) (*policy.ActionClassification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.result, true
	}
	return nil, false
}

// Put stores a result, evicting the least recently used entry at capacity.
func (c *ResultCache) Put(key uint64, result *policy.ActionClassification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.result = result
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, result: result}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on policy changes.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns the current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey hashes the full classification input. Commands are
// hashed in order with separators so ["ab"] and ["a","b"] differ.
func computeCacheKey(tenantID, agentOS string, commands []string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(tenantID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(agentOS)
	_, _ = h.Write([]byte{0})
	for _, cmd := range commands {
		_, _ = h.WriteString(cmd)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// ClassificationService fronts the policy engine with a bounded result
// cache and audit recording. The cache is cleared whenever the policy
// set changes, so cached entries are never stale.
type ClassificationService struct {
	engine    *policy.Engine
	cache     *ResultCache
	recorder  audit.Recorder
	logger    *slog.Logger
	now       func() time.Time
	onOutcome func(overallStatus string)
}

// ClassificationServiceOption configures ClassificationService.
type ClassificationServiceOption func(*ClassificationService)

// WithCacheSize sets the maximum number of cached classifications.
func WithCacheSize(size int) ClassificationServiceOption {
	return func(s *ClassificationService) {
		s.cache = NewResultCache(size)
	}
}

// WithOutcomeObserver registers a callback invoked with the overall
// status of every classification, cache hits included. Used to feed
// monitoring counters.
func WithOutcomeObserver(f func(overallStatus string)) ClassificationServiceOption {
	return func(s *ClassificationService) {
		s.onOutcome = f
	}
}

// ObserveOutcomes sets the outcome callback after construction. Must be
// called before the service is shared across goroutines.
func (s *ClassificationService) ObserveOutcomes(f func(overallStatus string)) {
	s.onOutcome = f
}

// NewClassificationService creates the service. A nil recorder disables
// audit output.
func NewClassificationService(engine *policy.Engine, recorder audit.Recorder, logger *slog.Logger, opts ...ClassificationServiceOption) *ClassificationService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &ClassificationService{
		engine:   engine,
		cache:    NewResultCache(1000),
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classify evaluates the commands for a tenant, serving repeat lookups
// from the cache. Audit records are written on cache misses only; a hit
// means the identical check was already recorded.
func (s *ClassificationService) Classify(ctx context.Context, commands []string, tenantID, agentOS string) (*policy.ActionClassification, error) {
	key := computeCacheKey(tenantID, agentOS, commands)
	if result, ok := s.cache.Get(key); ok {
		if s.onOutcome != nil {
			s.onOutcome(string(result.OverallStatus))
		}
		return result, nil
	}

	result, err := s.engine.Classify(ctx, commands, tenantID, agentOS)
	if err != nil {
		return nil, err
	}
	if s.onOutcome != nil {
		s.onOutcome(string(result.OverallStatus))
	}

	s.cache.Put(key, result)

	s.recorder.Record(ctx, audit.Record{
		Timestamp: s.now().UTC(),
		TenantID:  tenantID,
		EventType: audit.EventTypeClassify,
		ActorType: audit.ActorTypeRouter,
		NewStatus: string(result.OverallStatus),
		Reason:    classifySummary(result),
	})

	s.logger.Debug("commands classified",
		"tenant_id", tenantID,
		"commands", len(commands),
		"overall_status", string(result.OverallStatus),
		"blocked", result.BlockedCount,
		"confirm", result.ConfirmCount)

	return result, nil
}

// InvalidateCache drops all cached results. Called after any policy
// mutation.
func (s *ClassificationService) InvalidateCache() {
	s.cache.Clear()
}

// CacheSize returns the number of cached classifications. For tests and
// stats reporting.
func (s *ClassificationService) CacheSize() int {
	return s.cache.Size()
}

func classifySummary(result *policy.ActionClassification) string {
	for _, cr := range result.Commands {
		if cr.Status == policy.StatusForbid && cr.Reason != "" {
			return cr.Reason
		}
	}
	return ""
}
