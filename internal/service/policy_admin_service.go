package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/Command-Relay/commandrelay/internal/domain/audit"
	"github.com/Command-Relay/commandrelay/internal/domain/policy"
)

// ErrInvalidPolicy wraps all admission-time validation failures.
var ErrInvalidPolicy = errors.New("invalid policy")

// Invalidator is anything holding classification state derived from the
// policy set. The admin service notifies it on every mutation.
type Invalidator interface {
	InvalidateCache()
}

// PolicyAdminService manages the policy set. Patterns are validated at
// admission so a malformed regex is rejected up front instead of
// silently never matching; patterns already persisted still degrade to
// non-matching inside the engine.
type PolicyAdminService struct {
	store       policy.Store
	invalidator Invalidator
	recorder    audit.Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewPolicyAdminService creates the admin service. invalidator and
// recorder may be nil.
func NewPolicyAdminService(store policy.Store, invalidator Invalidator, recorder audit.Recorder, logger *slog.Logger) *PolicyAdminService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyAdminService{
		store:       store,
		invalidator: invalidator,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source. For tests.
func (s *PolicyAdminService) WithClock(now func() time.Time) *PolicyAdminService {
	s.now = now
	return s
}

// Create validates and stores a new policy, assigning its id and
// timestamps.
func (s *PolicyAdminService) Create(ctx context.Context, p *policy.CommandPolicy, actorID string) (*policy.CommandPolicy, error) {
	if err := validatePolicy(p); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p.ID = uuid.New().String()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}
	s.afterMutation(ctx, audit.EventTypePolicyCreate, p, actorID)

	s.logger.Info("policy created",
		"policy_id", p.ID,
		"name", p.Name,
		"mode", string(p.Mode),
		"tenant_id", p.TenantID)
	return p, nil
}

// Update validates and replaces an existing policy, preserving its id
// and creation time.
func (s *PolicyAdminService) Update(ctx context.Context, p *policy.CommandPolicy, actorID string) (*policy.CommandPolicy, error) {
	if err := validatePolicy(p); err != nil {
		return nil, err
	}

	existing, err := s.store.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now().UTC()

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}
	s.afterMutation(ctx, audit.EventTypePolicyUpdate, p, actorID)

	s.logger.Info("policy updated", "policy_id", p.ID, "name", p.Name)
	return p, nil
}

// Delete removes a policy.
func (s *PolicyAdminService) Delete(ctx context.Context, id, actorID string) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.afterMutation(ctx, audit.EventTypePolicyDelete, p, actorID)

	s.logger.Info("policy deleted", "policy_id", id, "name", p.Name)
	return nil
}

// Get returns a policy by id.
func (s *PolicyAdminService) Get(ctx context.Context, id string) (*policy.CommandPolicy, error) {
	return s.store.Get(ctx, id)
}

// List returns the policies visible to a tenant, priority-ordered.
func (s *PolicyAdminService) List(ctx context.Context, tenantID string) ([]policy.CommandPolicy, error) {
	return s.store.VisibleTo(ctx, tenantID)
}

func (s *PolicyAdminService) afterMutation(ctx context.Context, eventType string, p *policy.CommandPolicy, actorID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateCache()
	}
	s.recorder.Record(ctx, audit.Record{
		Timestamp: s.now().UTC(),
		TenantID:  p.TenantID,
		EventType: eventType,
		ActorID:   actorID,
		ActorType: audit.ActorTypeUser,
		TargetID:  p.ID,
		Reason:    p.Name,
	})
}

// validatePolicy checks the fields an operator can get wrong. The engine
// tolerates bad patterns at evaluation time; rejecting them here gives
// the operator an actionable error instead.
func validatePolicy(p *policy.CommandPolicy) error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if p.MatchValue == "" {
		return fmt.Errorf("%w: match value is required", ErrInvalidPolicy)
	}

	switch p.MatchType {
	case policy.MatchExact, policy.MatchWildcard:
	case policy.MatchRegex:
		if _, err := regexp.Compile(p.MatchValue); err != nil {
			return fmt.Errorf("%w: malformed regex %q: %v", ErrInvalidPolicy, p.MatchValue, err)
		}
	default:
		return fmt.Errorf("%w: unknown match type %q", ErrInvalidPolicy, p.MatchType)
	}

	switch p.Mode {
	case policy.ModeAuto, policy.ModeConfirm, policy.ModeForbid:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, p.Mode)
	}

	if p.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout seconds must not be negative", ErrInvalidPolicy)
	}
	return nil
}
