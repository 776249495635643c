// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/ratelimit"
)

// defaultPruneInterval bounds how often stale window buckets are
// reclaimed during admission checks.
const defaultPruneInterval = time.Minute

// windowBucket is one fixed-window counter. Counts are monotonically
// non-decreasing within the window; the bucket is discarded, never
// partially reset.
type windowBucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter implements ratelimit.Limiter with fixed windowed counters
// and a concurrency gauge, all in process memory. Thread-safe. Counters
// are per instance; see the Limiter docs for the multi-replica caveat.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*windowBucket
	gauge     map[string]int
	lastPrune time.Time
	pruneIv   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewRateLimiter creates an in-memory rate limiter.
func NewRateLimiter(logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		buckets: make(map[string]*windowBucket),
		gauge:   make(map[string]int),
		pruneIv: defaultPruneInterval,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// WithClock overrides the limiter's clock. For tests.
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// CheckAndAdmit evaluates concurrency, then the minute bucket, then the
// hour bucket. An admission increments both counters and the gauge and
// returns an idempotent release handle.
func (l *RateLimiter) CheckAndAdmit(ctx context.Context, identifier string, limits ratelimit.Limits) (ratelimit.Result, ratelimit.Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if limits.MaxConcurrent > 0 && l.gauge[identifier] >= limits.MaxConcurrent {
		return ratelimit.Result{
			Allowed:      false,
			Reason:       ratelimit.ReasonConcurrency,
			CurrentCount: l.gauge[identifier],
			// No window to wait out; callers retry once work drains.
			RetryAfter: time.Second,
		}, nil, nil
	}

	minute := l.bucketLocked(identifier, "m", ratelimit.WindowMinute, now)
	if limits.PerMinute > 0 && minute.count >= limits.PerMinute {
		return ratelimit.Result{
			Allowed:      false,
			Reason:       ratelimit.ReasonPerMinute,
			CurrentCount: minute.count,
			RetryAfter:   minute.resetAt.Sub(now),
		}, nil, nil
	}

	hour := l.bucketLocked(identifier, "h", ratelimit.WindowHour, now)
	if limits.PerHour > 0 && hour.count >= limits.PerHour {
		return ratelimit.Result{
			Allowed:      false,
			Reason:       ratelimit.ReasonPerHour,
			CurrentCount: hour.count,
			RetryAfter:   hour.resetAt.Sub(now),
		}, nil, nil
	}

	minute.count++
	hour.count++
	l.gauge[identifier]++

	release := l.releaseFunc(identifier)
	return ratelimit.Result{Allowed: true, CurrentCount: minute.count}, release, nil
}

// CheckNamed admits against a single externally described windowed
// counter. Same primitive as CheckAndAdmit's buckets; only the key
// composition differs.
func (l *RateLimiter) CheckNamed(ctx context.Context, limit ratelimit.NamedLimit) (ratelimit.Result, error) {
	if limit.Window <= 0 || limit.MaxCount <= 0 {
		return ratelimit.Result{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	b := l.bucketLocked(limit.Key(), "n", limit.Window, now)
	if b.count >= limit.MaxCount {
		return ratelimit.Result{
			Allowed:      false,
			Reason:       limit.LimitType + "_limit",
			CurrentCount: b.count,
			RetryAfter:   b.resetAt.Sub(now),
		}, nil
	}

	b.count++
	return ratelimit.Result{Allowed: true, CurrentCount: b.count}, nil
}

// releaseFunc builds the gauge release handle for an admission. Safe to
// call more than once; only the first call decrements, and the gauge is
// clamped at zero.
func (l *RateLimiter) releaseFunc(identifier string) ratelimit.Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.gauge[identifier] > 0 {
				l.gauge[identifier]--
			}
			if l.gauge[identifier] == 0 {
				delete(l.gauge, identifier)
			}
		})
	}
}

// bucketLocked returns the live bucket for (identifier, window), creating
// it aligned to floor(now/window) when absent or rolled over.
func (l *RateLimiter) bucketLocked(identifier, kind string, window time.Duration, now time.Time) *windowBucket {
	slot := now.UnixNano() / int64(window)
	key := fmt.Sprintf("%s|%s|%d", identifier, kind, slot)

	b, ok := l.buckets[key]
	if !ok {
		start := time.Unix(0, slot*int64(window)).UTC()
		b = &windowBucket{resetAt: start.Add(window)}
		l.buckets[key] = b
	}
	return b
}

// pruneLocked reclaims expired buckets opportunistically. Runs at most
// once per prune interval so admission checks stay cheap.
func (l *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.pruneIv {
		return
	}
	l.lastPrune = now

	pruned := 0
	for key, b := range l.buckets {
		if !b.resetAt.After(now) {
			delete(l.buckets, key)
			pruned++
		}
	}
	if pruned > 0 {
		l.logger.Debug("rate limiter pruned stale buckets",
			"pruned", pruned,
			"remaining", len(l.buckets))
	}
}

// BucketCount returns the number of live window buckets. For tests and
// monitoring.
func (l *RateLimiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// InFlight returns the concurrency gauge value for an identifier.
func (l *RateLimiter) InFlight(identifier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gauge[identifier]
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
