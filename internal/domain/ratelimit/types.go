// Package ratelimit provides the admission-control domain types: fixed
// windowed counters plus a per-identifier concurrency gauge.
package ratelimit

import (
	"fmt"
	"time"
)

// Window sizes for the two counter buckets.
const (
	WindowMinute = time.Minute
	WindowHour   = time.Hour
)

// Limits bounds request volume and concurrency for one identifier.
type Limits struct {
	// PerMinute is the maximum admissions in a minute bucket.
	PerMinute int
	// PerHour is the maximum admissions in an hour bucket.
	PerHour int
	// MaxConcurrent is the maximum in-flight admissions.
	MaxConcurrent int
}

// Rejection reasons surfaced in Result.Reason.
const (
	ReasonConcurrency = "max_concurrent_reached"
	ReasonPerMinute   = "per_minute_limit"
	ReasonPerHour     = "per_hour_limit"
)

// Result is the outcome of an admission check.
type Result struct {
	// Allowed indicates whether the unit of work was admitted.
	Allowed bool `json:"allowed"`
	// Reason names the limit that rejected the request.
	Reason string `json:"reason,omitempty"`
	// CurrentCount is the bucket count that triggered the rejection, or
	// the minute bucket count after an admission.
	CurrentCount int `json:"current_count"`
	// RetryAfter is the duration until the rejecting window rolls over.
	// Only meaningful when Allowed is false on a window limit.
	RetryAfter time.Duration `json:"-"`
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, the
// form HTTP callers put in the Retry-After header.
func (r Result) RetryAfterSeconds() int64 {
	if r.RetryAfter <= 0 {
		return 0
	}
	secs := int64(r.RetryAfter / time.Second)
	if r.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// Release returns an in-flight admission. It must be invoked exactly
// once per admission; implementations clamp at zero so a double release
// never drives the gauge negative.
type Release func()

// NamedLimit is the windowed-counter variant for non-AI operations
// (invitations, role changes). The distinction from Limits is the key
// composition, not the algorithm.
type NamedLimit struct {
	// ScopeID is the owning scope (tenant, workspace).
	ScopeID string
	// ActorID is the acting principal.
	ActorID string
	// LimitType names the operation being limited.
	LimitType string
	// MaxCount is the maximum admissions per window.
	MaxCount int
	// Window is the counting window.
	Window time.Duration
}

// Key returns the counter key for this named limit.
func (n NamedLimit) Key() string {
	return fmt.Sprintf("named:%s:%s:%s", n.ScopeID, n.ActorID, n.LimitType)
}
