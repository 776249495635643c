package service

import (
	"context"
	"sync"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/ratelimit"
)

// DefaultSettingsTTL is how long cached tenant settings stay fresh.
const DefaultSettingsTTL = 30 * time.Second

// LimitsSource loads the authoritative rate limits for a tenant.
type LimitsSource interface {
	LimitsFor(ctx context.Context, tenantID string) (ratelimit.Limits, error)
}

// StaticLimits is a LimitsSource returning the same limits for every
// tenant. Used when limits come from static configuration.
type StaticLimits ratelimit.Limits

// LimitsFor implements LimitsSource.
func (s StaticLimits) LimitsFor(_ context.Context, _ string) (ratelimit.Limits, error) {
	return ratelimit.Limits(s), nil
}

type cachedLimits struct {
	limits    ratelimit.Limits
	refreshed time.Time
}

// SettingsCache caches per-tenant limits with an explicit TTL. Entries
// are refreshed lazily on access; a stale entry is served if the source
// fails, so a flaky settings backend degrades to old limits instead of
// failing admission.
type SettingsCache struct {
	source LimitsSource
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]cachedLimits
	now     func() time.Time
}

// NewSettingsCache creates a cache over the given source. Non-positive
// ttl uses the default.
func NewSettingsCache(source LimitsSource, ttl time.Duration) *SettingsCache {
	if ttl <= 0 {
		ttl = DefaultSettingsTTL
	}
	return &SettingsCache{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]cachedLimits),
		now:     time.Now,
	}
}

// WithClock overrides the time source. For tests.
func (c *SettingsCache) WithClock(now func() time.Time) *SettingsCache {
	c.now = now
	return c
}

// LimitsFor returns the tenant's limits, refreshing from the source when
// the cached entry is older than the TTL.
func (c *SettingsCache) LimitsFor(ctx context.Context, tenantID string) (ratelimit.Limits, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[tenantID]
	if ok && now.Sub(entry.refreshed) < c.ttl {
		return entry.limits, nil
	}

	limits, err := c.source.LimitsFor(ctx, tenantID)
	if err != nil {
		if ok {
			return entry.limits, nil
		}
		return ratelimit.Limits{}, err
	}

	c.entries[tenantID] = cachedLimits{limits: limits, refreshed: now}
	return limits, nil
}

// Invalidate drops the cached entry for a tenant, forcing the next read
// through to the source.
func (c *SettingsCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}
