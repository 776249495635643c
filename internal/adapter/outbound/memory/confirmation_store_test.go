package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
)

func newPending(id string, createdAt time.Time, ttl time.Duration) *confirmation.CommandConfirmation {
	return &confirmation.CommandConfirmation{
		ID:          id,
		CommandText: "systemctl restart app",
		AgentID:     "agent-1",
		TenantID:    "tenant-a",
		Status:      confirmation.StatusPending,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(ttl),
	}
}

func TestConfirmationStore_ResolveIfPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewConfirmationStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, newPending("c1", now, time.Minute)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	resolved, err := store.ResolveIfPending(ctx, "c1", confirmation.StatusApproved, "alice", "approved by alice", now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("ResolveIfPending() error: %v", err)
	}
	if resolved.Status != confirmation.StatusApproved {
		t.Errorf("Status = %q, want approved", resolved.Status)
	}
	if resolved.ResolvedBy != "alice" {
		t.Errorf("ResolvedBy = %q, want alice", resolved.ResolvedBy)
	}
	if resolved.ResolvedAt == nil {
		t.Error("ResolvedAt should be set")
	}

	// Second resolve conflicts and mutates nothing.
	_, err = store.ResolveIfPending(ctx, "c1", confirmation.StatusRejected, "bob", "", now.Add(20*time.Second))
	if !errors.Is(err, confirmation.ErrConflict) {
		t.Fatalf("second resolve error = %v, want ErrConflict", err)
	}
	got, _ := store.Get(ctx, "c1")
	if got.Status != confirmation.StatusApproved || got.ResolvedBy != "alice" {
		t.Errorf("record mutated on conflict: status=%q resolved_by=%q", got.Status, got.ResolvedBy)
	}
}

func TestConfirmationStore_ResolveExpiredConflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewConfirmationStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_ = store.Create(ctx, newPending("c2", now, 60*time.Second))

	// Past the expiry, resolve conflicts even before the sweep ran.
	_, err := store.ResolveIfPending(ctx, "c2", confirmation.StatusApproved, "alice", "", now.Add(61*time.Second))
	if !errors.Is(err, confirmation.ErrConflict) {
		t.Fatalf("resolve after expiry = %v, want ErrConflict", err)
	}
}

// At the exact expiry instant the record is due for the sweep and no
// longer resolvable, so both paths agree on the outcome.
func TestConfirmationStore_ExpiryBoundaryInstant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewConfirmationStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_ = store.Create(ctx, newPending("edge", now.Add(-time.Minute), time.Minute))

	_, err := store.ResolveIfPending(ctx, "edge", confirmation.StatusApproved, "alice", "", now)
	if !errors.Is(err, confirmation.ErrConflict) {
		t.Fatalf("resolve at expiry instant = %v, want ErrConflict", err)
	}

	expired, err := store.ExpireDue(ctx, now)
	if err != nil {
		t.Fatalf("ExpireDue() error: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "edge" {
		t.Fatalf("expired = %v, want [edge]", expired)
	}
}

func TestConfirmationStore_UnknownID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewConfirmationStore()

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, confirmation.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := store.ResolveIfPending(ctx, "nope", confirmation.StatusApproved, "a", "", time.Now()); !errors.Is(err, confirmation.ErrNotFound) {
		t.Errorf("ResolveIfPending() error = %v, want ErrNotFound", err)
	}
}

func TestConfirmationStore_ExpireDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewConfirmationStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_ = store.Create(ctx, newPending("old-1", now.Add(-2*time.Minute), time.Minute))
	_ = store.Create(ctx, newPending("old-2", now.Add(-3*time.Minute), time.Minute))
	_ = store.Create(ctx, newPending("live", now, time.Hour))

	expired, err := store.ExpireDue(ctx, now)
	if err != nil {
		t.Fatalf("ExpireDue() error: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expired %d records, want 2", len(expired))
	}
	// Oldest first.
	if expired[0].ID != "old-2" || expired[1].ID != "old-1" {
		t.Errorf("expired order = [%s %s], want [old-2 old-1]", expired[0].ID, expired[1].ID)
	}

	// Idempotent: a second sweep finds nothing new.
	expired, err = store.ExpireDue(ctx, now)
	if err != nil {
		t.Fatalf("ExpireDue() error: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("second sweep expired %d records, want 0", len(expired))
	}

	live, _ := store.Get(ctx, "live")
	if live.Status != confirmation.StatusPending {
		t.Errorf("unexpired record status = %q, want pending", live.Status)
	}
}

// TestConfirmationStore_ResolveSweepRace drives many resolve calls
// against concurrent sweeps on records that are all past expiry. Each
// record must end in exactly one terminal state.
func TestConfirmationStore_ResolveSweepRace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewConfirmationStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	const n = 200
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = "race-" + strconv.Itoa(i)
		_ = store.Create(ctx, newPending(ids[i], now.Add(-2*time.Minute), time.Minute))
	}

	var wg sync.WaitGroup
	resolveWins := make([]bool, n)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = store.ExpireDue(ctx, now)
	}()

	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Resolve at a time before expiry would have been legal, but
			// these records are already due, so resolve must conflict if
			// the sweep got there first or the record is past expiry.
			_, err := store.ResolveIfPending(ctx, ids[i], confirmation.StatusApproved, "alice", "", now.Add(-90*time.Second))
			resolveWins[i] = err == nil
		}(i)
	}
	wg.Wait()

	// Run a final sweep so everything is terminal.
	_, _ = store.ExpireDue(ctx, now)

	for i, id := range ids {
		c, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%s) error: %v", id, err)
		}
		if !c.Status.Terminal() {
			t.Errorf("%s status = %q, want terminal", id, c.Status)
		}
		if resolveWins[i] && c.Status != confirmation.StatusApproved {
			t.Errorf("%s: resolve won but status = %q", id, c.Status)
		}
		if !resolveWins[i] && c.Status != confirmation.StatusExpired {
			t.Errorf("%s: sweep won but status = %q", id, c.Status)
		}
	}
}

func TestConfirmationStore_ListPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewConfirmationStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := newPending("a", now, time.Hour)
	b := newPending("b", now.Add(time.Second), time.Hour)
	b.TenantID = "tenant-b"
	_ = store.Create(ctx, a)
	_ = store.Create(ctx, b)

	all, err := store.ListPending(ctx, "")
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all tenants: got %d, want 2", len(all))
	}

	scoped, err := store.ListPending(ctx, "tenant-b")
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != "b" {
		t.Errorf("tenant-b list = %v", scoped)
	}
}
