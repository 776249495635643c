package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Command-Relay/commandrelay/internal/domain/ratelimit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixedClock returns a controllable clock starting at a round minute.
func fixedClock() (*time.Time, func() time.Time) {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &t, func() time.Time { return t }
}

func TestRateLimiter_PerMinuteBoundary(t *testing.T) {
	t.Parallel()

	now, clock := fixedClock()
	limiter := NewRateLimiter(nil).WithClock(clock)
	ctx := context.Background()
	limits := ratelimit.Limits{PerMinute: 3, PerHour: 100, MaxConcurrent: 100}

	// Exactly PerMinute admits succeed within one window.
	for i := 0; i < 3; i++ {
		result, release, err := limiter.CheckAndAdmit(ctx, "agent-1", limits)
		if err != nil {
			t.Fatalf("CheckAndAdmit() error: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("admit %d should be allowed", i)
		}
		release()
	}

	// The (PerMinute+1)th is rejected with retry-after > 0.
	result, release, err := limiter.CheckAndAdmit(ctx, "agent-1", limits)
	if err != nil {
		t.Fatalf("CheckAndAdmit() error: %v", err)
	}
	if result.Allowed {
		t.Fatal("4th admit in window should be rejected")
	}
	if release != nil {
		t.Error("rejection must not return a release handle")
	}
	if result.Reason != ratelimit.ReasonPerMinute {
		t.Errorf("Reason = %q, want %q", result.Reason, ratelimit.ReasonPerMinute)
	}
	if result.RetryAfterSeconds() <= 0 {
		t.Errorf("RetryAfterSeconds() = %d, want > 0", result.RetryAfterSeconds())
	}

	// After the window rolls over, admission succeeds again.
	*now = now.Add(61 * time.Second)
	result, release, err = limiter.CheckAndAdmit(ctx, "agent-1", limits)
	if err != nil {
		t.Fatalf("CheckAndAdmit() error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("admission should succeed in the next window")
	}
	if result.CurrentCount != 1 {
		t.Errorf("CurrentCount = %d, want 1 (fresh bucket, no partial reset)", result.CurrentCount)
	}
	release()
}

func TestRateLimiter_PerHour(t *testing.T) {
	t.Parallel()

	now, clock := fixedClock()
	limiter := NewRateLimiter(nil).WithClock(clock)
	ctx := context.Background()
	limits := ratelimit.Limits{PerMinute: 10, PerHour: 12, MaxConcurrent: 100}

	admitted := 0
	for i := 0; i < 20; i++ {
		if i > 0 && i%5 == 0 {
			// Roll the minute window so only the hour limit binds.
			*now = now.Add(time.Minute)
		}
		result, release, err := limiter.CheckAndAdmit(ctx, "agent-2", limits)
		if err != nil {
			t.Fatalf("CheckAndAdmit() error: %v", err)
		}
		if result.Allowed {
			admitted++
			release()
		} else if result.Reason != ratelimit.ReasonPerHour {
			t.Errorf("admit %d: Reason = %q, want %q", i, result.Reason, ratelimit.ReasonPerHour)
		}
	}
	if admitted != 12 {
		t.Errorf("admitted = %d, want 12 (hour limit)", admitted)
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	t.Parallel()

	_, clock := fixedClock()
	limiter := NewRateLimiter(nil).WithClock(clock)
	ctx := context.Background()
	limits := ratelimit.Limits{PerMinute: 100, PerHour: 1000, MaxConcurrent: 2}

	_, release1, _ := limiter.CheckAndAdmit(ctx, "agent-3", limits)
	_, release2, _ := limiter.CheckAndAdmit(ctx, "agent-3", limits)

	result, _, err := limiter.CheckAndAdmit(ctx, "agent-3", limits)
	if err != nil {
		t.Fatalf("CheckAndAdmit() error: %v", err)
	}
	if result.Allowed {
		t.Fatal("3rd concurrent admit should be rejected")
	}
	if result.Reason != ratelimit.ReasonConcurrency {
		t.Errorf("Reason = %q, want %q", result.Reason, ratelimit.ReasonConcurrency)
	}

	release1()
	result, release3, err := limiter.CheckAndAdmit(ctx, "agent-3", limits)
	if err != nil {
		t.Fatalf("CheckAndAdmit() error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("admit should succeed after a release")
	}
	release2()
	release3()

	if got := limiter.InFlight("agent-3"); got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
}

func TestRateLimiter_DoubleReleaseClampsAtZero(t *testing.T) {
	t.Parallel()

	_, clock := fixedClock()
	limiter := NewRateLimiter(nil).WithClock(clock)
	ctx := context.Background()
	limits := ratelimit.Limits{PerMinute: 10, PerHour: 10, MaxConcurrent: 5}

	_, releaseA, _ := limiter.CheckAndAdmit(ctx, "agent-4", limits)
	_, releaseB, _ := limiter.CheckAndAdmit(ctx, "agent-4", limits)

	// Calling one handle repeatedly only decrements once.
	releaseA()
	releaseA()
	releaseA()
	if got := limiter.InFlight("agent-4"); got != 1 {
		t.Errorf("InFlight = %d, want 1 after repeated release of one handle", got)
	}

	releaseB()
	releaseB()
	if got := limiter.InFlight("agent-4"); got != 0 {
		t.Errorf("InFlight = %d, want 0 (never negative)", got)
	}
}

func TestRateLimiter_NamedLimit(t *testing.T) {
	t.Parallel()

	now, clock := fixedClock()
	limiter := NewRateLimiter(nil).WithClock(clock)
	ctx := context.Background()

	limit := ratelimit.NamedLimit{
		ScopeID:   "ws-1",
		ActorID:   "user-7",
		LimitType: "invitations",
		MaxCount:  2,
		Window:    10 * time.Minute,
	}

	for i := 0; i < 2; i++ {
		result, err := limiter.CheckNamed(ctx, limit)
		if err != nil {
			t.Fatalf("CheckNamed() error: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("named admit %d should be allowed", i)
		}
	}

	result, err := limiter.CheckNamed(ctx, limit)
	if err != nil {
		t.Fatalf("CheckNamed() error: %v", err)
	}
	if result.Allowed {
		t.Fatal("3rd named admit should be rejected")
	}
	if result.RetryAfterSeconds() <= 0 {
		t.Error("named rejection should carry retry-after")
	}

	// Different actor has an independent counter.
	other := limit
	other.ActorID = "user-8"
	result, err = limiter.CheckNamed(ctx, other)
	if err != nil {
		t.Fatalf("CheckNamed() error: %v", err)
	}
	if !result.Allowed {
		t.Error("different actor should not share the counter")
	}

	// Window rollover resets the count.
	*now = now.Add(11 * time.Minute)
	result, err = limiter.CheckNamed(ctx, limit)
	if err != nil {
		t.Fatalf("CheckNamed() error: %v", err)
	}
	if !result.Allowed {
		t.Error("named admit should succeed after window rollover")
	}
}

func TestRateLimiter_LazyPrune(t *testing.T) {
	t.Parallel()

	now, clock := fixedClock()
	limiter := NewRateLimiter(nil).WithClock(clock)
	ctx := context.Background()
	limits := ratelimit.Limits{PerMinute: 10, PerHour: 10, MaxConcurrent: 10}

	for _, id := range []string{"a", "b", "c"} {
		_, release, _ := limiter.CheckAndAdmit(ctx, id, limits)
		release()
	}
	if got := limiter.BucketCount(); got != 6 {
		t.Fatalf("BucketCount = %d, want 6 (minute+hour per id)", got)
	}

	// After both windows expire, the next check reclaims stale buckets.
	*now = now.Add(2 * time.Hour)
	_, release, _ := limiter.CheckAndAdmit(ctx, "d", limits)
	release()
	if got := limiter.BucketCount(); got != 2 {
		t.Errorf("BucketCount = %d, want 2 (only d's fresh buckets)", got)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(nil)
	ctx := context.Background()
	limits := ratelimit.Limits{PerMinute: 1000, PerHour: 10000, MaxConcurrent: 1000}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, release, err := limiter.CheckAndAdmit(ctx, "shared", limits)
				if err != nil {
					t.Errorf("CheckAndAdmit() error: %v", err)
					return
				}
				if release != nil {
					release()
				}
			}
		}()
	}
	wg.Wait()

	if got := limiter.InFlight("shared"); got != 0 {
		t.Errorf("InFlight = %d, want 0 after all releases", got)
	}
}
