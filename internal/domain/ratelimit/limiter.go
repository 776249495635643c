package ratelimit

import "context"

// Limiter admits or rejects a unit of work for an identifier before any
// policy work begins.
//
// Evaluation order: concurrency gauge, then the minute bucket, then the
// hour bucket. An admission increments both window counters and the
// gauge; the returned Release decrements the gauge when the guarded work
// completes (success or failure).
//
// The interface is storage-agnostic. The in-memory implementation limits
// per process instance; a shared counting store with TTL can replace it
// for multi-replica deployments without touching callers.
type Limiter interface {
	// CheckAndAdmit checks all limits for identifier. On admission the
	// returned Release is non-nil and must be called exactly once.
	// On rejection Release is nil and Result carries the reason and
	// retry-after.
	CheckAndAdmit(ctx context.Context, identifier string, limits Limits) (Result, Release, error)

	// CheckNamed admits against a single named windowed counter. No
	// concurrency gauge is involved.
	CheckNamed(ctx context.Context, limit NamedLimit) (Result, error)
}
