package confirmation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Command-Relay/commandrelay/internal/domain/audit"
)

// DefaultTTL is the confirmation expiry used when the matched policy
// does not declare its own timeout.
const DefaultTTL = 5 * time.Minute

// Decision is an explicit actor decision on a pending confirmation.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// SweepResult reports the outcome of one sweep pass.
type SweepResult struct {
	ExpiredCount int      `json:"expired_count"`
	ExpiredIDs   []string `json:"expired_ids"`
}

// Instruments receives lifecycle counts for monitoring. All fields are
// optional; prometheus counters and gauges satisfy them directly.
type Instruments struct {
	// Opened is incremented once per confirmation created.
	Opened interface{ Inc() }
	// Pending tracks the number of records awaiting a decision.
	Pending interface {
		Inc()
		Dec()
		Sub(float64)
	}
}

// Manager drives the confirmation lifecycle over a Store. Every
// transition is recorded for audit with before/after status, actor, and
// timestamp. The clock is injected so tests control time.
type Manager struct {
	store    Store
	recorder audit.Recorder
	logger   *slog.Logger
	ttl      time.Duration
	now      func() time.Time
	instr    Instruments
}

// NewManager creates a confirmation manager. A zero defaultTTL falls
// back to DefaultTTL.
func NewManager(store Store, recorder audit.Recorder, logger *slog.Logger, defaultTTL time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Manager{
		store:    store,
		recorder: recorder,
		logger:   logger,
		ttl:      defaultTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the manager's clock. For tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithInstruments attaches monitoring instruments. Must be called
// before the manager is shared across goroutines.
func (m *Manager) WithInstruments(in Instruments) *Manager {
	m.instr = in
	return m
}

// Open creates a pending confirmation expiring at now + ttl. A
// non-positive ttl uses the manager default.
func (m *Manager) Open(ctx context.Context, commandText, agentID, tenantID string, ttl time.Duration) (*CommandConfirmation, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.now()
	c := &CommandConfirmation{
		ID:          uuid.New().String(),
		CommandText: commandText,
		AgentID:     agentID,
		TenantID:    tenantID,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	if err := m.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create confirmation: %w", err)
	}

	if m.instr.Opened != nil {
		m.instr.Opened.Inc()
	}
	if m.instr.Pending != nil {
		m.instr.Pending.Inc()
	}

	m.recorder.Record(ctx, audit.Record{
		Timestamp: now,
		TenantID:  tenantID,
		EventType: audit.EventTypeConfirmationOpen,
		ActorType: audit.ActorTypeSystem,
		TargetID:  c.ID,
		AgentID:   agentID,
		NewStatus: string(StatusPending),
		Command:   commandText,
	})

	m.logger.Info("confirmation opened",
		"confirmation_id", c.ID,
		"tenant_id", tenantID,
		"agent_id", agentID,
		"expires_at", c.ExpiresAt)

	return c, nil
}

// Resolve transitions a pending record to approved or rejected via an
// explicit actor decision. Resolving a non-pending or already-expired
// record fails with ErrConflict and mutates nothing.
func (m *Manager) Resolve(ctx context.Context, id string, dec Decision, actor string) (*CommandConfirmation, error) {
	var to Status
	switch dec {
	case DecisionApproved:
		to = StatusApproved
	case DecisionRejected:
		to = StatusRejected
	default:
		return nil, fmt.Errorf("invalid decision %q", dec)
	}

	return m.transition(ctx, id, to, actor, string(dec)+" by "+actor, audit.EventTypeConfirmationResolve)
}

// Cancel withdraws a pending confirmation. Semantically equivalent to a
// rejection; distinct only in the audit reason.
func (m *Manager) Cancel(ctx context.Context, id, actor string) (*CommandConfirmation, error) {
	return m.transition(ctx, id, StatusCancelled, actor, "cancelled by "+actor, audit.EventTypeConfirmationCancel)
}

// transition performs the conditional update and records the audit entry.
func (m *Manager) transition(ctx context.Context, id string, to Status, actor, reason, eventType string) (*CommandConfirmation, error) {
	now := m.now()
	c, err := m.store.ResolveIfPending(ctx, id, to, actor, reason, now)
	if err != nil {
		return nil, err
	}

	if m.instr.Pending != nil {
		m.instr.Pending.Dec()
	}

	m.recorder.Record(ctx, audit.Record{
		Timestamp: now,
		TenantID:  c.TenantID,
		EventType: eventType,
		ActorID:   actor,
		ActorType: audit.ActorTypeUser,
		TargetID:  c.ID,
		AgentID:   c.AgentID,
		OldStatus: string(StatusPending),
		NewStatus: string(to),
		Command:   c.CommandText,
		Reason:    reason,
	})

	m.logger.Info("confirmation resolved",
		"confirmation_id", c.ID,
		"status", string(to),
		"actor", actor)

	return c, nil
}

// Sweep transitions all pending records past their expiry to expired in
// one batch and reports their identities. Idempotent and safe to run
// concurrently with Resolve: the store's conditional update guarantees a
// record is never both approved and expired.
func (m *Manager) Sweep(ctx context.Context) (*SweepResult, error) {
	now := m.now()
	expired, err := m.store.ExpireDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("expire due confirmations: %w", err)
	}

	result := &SweepResult{ExpiredIDs: make([]string, 0, len(expired))}
	for _, c := range expired {
		result.ExpiredIDs = append(result.ExpiredIDs, c.ID)
		m.recorder.Record(ctx, audit.Record{
			Timestamp: now,
			TenantID:  c.TenantID,
			EventType: audit.EventTypeConfirmationExpire,
			ActorType: audit.ActorTypeSystem,
			TargetID:  c.ID,
			AgentID:   c.AgentID,
			OldStatus: string(StatusPending),
			NewStatus: string(StatusExpired),
			Command:   c.CommandText,
		})
	}
	result.ExpiredCount = len(result.ExpiredIDs)

	if m.instr.Pending != nil && result.ExpiredCount > 0 {
		m.instr.Pending.Sub(float64(result.ExpiredCount))
	}

	if result.ExpiredCount > 0 {
		m.logger.Info("confirmation sweep expired records",
			"count", result.ExpiredCount)
	}

	return result, nil
}

// Get returns a confirmation by id.
func (m *Manager) Get(ctx context.Context, id string) (*CommandConfirmation, error) {
	return m.store.Get(ctx, id)
}

// ListPending returns pending confirmations for a tenant.
func (m *Manager) ListPending(ctx context.Context, tenantID string) ([]*CommandConfirmation, error) {
	return m.store.ListPending(ctx, tenantID)
}
