package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/audit"
	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
	"github.com/Command-Relay/commandrelay/internal/domain/decision"
	"github.com/Command-Relay/commandrelay/internal/domain/policy"
	"github.com/Command-Relay/commandrelay/internal/domain/ratelimit"
	"github.com/Command-Relay/commandrelay/internal/port/outbound"
	"github.com/Command-Relay/commandrelay/pkg/envelope"
)

// Error codes carried in error envelopes.
const (
	CodeRateLimited     = "rate_limited"
	CodePolicyViolation = "policy_violation"
	CodeInvalidDecision = "invalid_decision"
	CodeExecFailed      = "exec_failed"
)

// EventSink receives the envelopes produced while processing a request.
// The WebSocket hub implements it per connection.
type EventSink interface {
	Emit(env *envelope.Envelope)
}

// GatewayRequest is one decision submitted for processing.
type GatewayRequest struct {
	// RID correlates all emitted envelopes with the request.
	RID string
	// TenantID scopes policies, limits, and confirmations.
	TenantID string
	// AgentID identifies the executing agent.
	AgentID string
	// AgentOS is the agent's operating system identifier, if known.
	AgentOS string
	// ActorID is the human behind the request, used for audit records.
	ActorID string
	// Decision is the router's verdict on what should happen.
	Decision *decision.RouterDecision
}

// ChatData is the payload of a router.done envelope for chat decisions.
type ChatData struct {
	Text string `json:"text"`
}

// ConfirmationData is the payload of a confirmation.required envelope.
type ConfirmationData struct {
	ConfirmationID string                       `json:"confirmation_id"`
	ExpiresAt      int64                        `json:"expires_at"`
	Message        string                       `json:"message,omitempty"`
	Classification *policy.ActionClassification `json:"classification"`
}

// ExecEventData is the payload of per-command exec.* envelopes.
type ExecEventData struct {
	Command  string `json:"command"`
	Index    int    `json:"index"`
	Line     string `json:"line,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// GatewayService drives a decision through admission, classification,
// and execution, emitting progress envelopes along the way. It is the
// single place the control flow of a request lives.
type GatewayService struct {
	classifier *ClassificationService
	confirmer  *confirmation.Manager
	limiter    ratelimit.Limiter
	settings   *SettingsCache
	executor   outbound.Executor
	recorder   audit.Recorder
	logger     *slog.Logger
	now        func() time.Time
	onRejected func(reason string)
}

// NewGatewayService wires the gateway. recorder may be nil.
func NewGatewayService(
	classifier *ClassificationService,
	confirmer *confirmation.Manager,
	limiter ratelimit.Limiter,
	settings *SettingsCache,
	executor outbound.Executor,
	recorder audit.Recorder,
	logger *slog.Logger,
) *GatewayService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayService{
		classifier: classifier,
		confirmer:  confirmer,
		limiter:    limiter,
		settings:   settings,
		executor:   executor,
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source. For tests.
func (s *GatewayService) WithClock(now func() time.Time) *GatewayService {
	s.now = now
	return s
}

// ObserveRejections registers a callback invoked with the limiter
// reason for every rejected admission. Must be called before the
// service is shared across goroutines.
func (s *GatewayService) ObserveRejections(f func(reason string)) {
	s.onRejected = f
}

// Process drives one decision to completion. Rejections and policy
// blocks are emitted as error envelopes, never returned as errors; the
// error return is reserved for internal failures (store unavailable).
func (s *GatewayService) Process(ctx context.Context, req GatewayRequest, sink EventSink) error {
	if req.Decision == nil {
		sink.Emit(envelope.NewError(req.RID, CodeInvalidDecision, "request carries no decision"))
		return nil
	}
	if err := req.Decision.Validate(); err != nil {
		sink.Emit(envelope.NewError(req.RID, CodeInvalidDecision, err.Error()))
		return nil
	}

	// Chat bypasses rate limiting and policy entirely.
	if req.Decision.Kind == decision.KindChat {
		env, err := envelope.New(envelope.TypeRouterDone, req.RID, ChatData{Text: req.Decision.Chat.Text})
		if err != nil {
			return fmt.Errorf("build chat envelope: %w", err)
		}
		sink.Emit(env)
		return nil
	}

	limits, err := s.settings.LimitsFor(ctx, req.TenantID)
	if err != nil {
		return fmt.Errorf("load limits for tenant %s: %w", req.TenantID, err)
	}

	identifier := req.TenantID + ":" + req.AgentID
	result, release, err := s.limiter.CheckAndAdmit(ctx, identifier, limits)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !result.Allowed {
		if s.onRejected != nil {
			s.onRejected(result.Reason)
		}
		s.emitRateLimited(ctx, req, result, sink)
		return nil
	}
	defer release()

	classification, err := s.classifier.Classify(ctx, req.Decision.Commands(), req.TenantID, req.AgentOS)
	if err != nil {
		return fmt.Errorf("classify commands: %w", err)
	}

	switch classification.OverallStatus {
	case policy.StatusForbid:
		sink.Emit(envelope.NewError(req.RID, CodePolicyViolation, forbidMessage(classification)))
		return nil

	case policy.StatusConfirm:
		return s.openConfirmation(ctx, req, classification, sink)

	default:
		return s.ExecuteCommands(ctx, req.RID, req.Decision.Commands(), classification, sink)
	}
}

// ExecuteCommands runs the commands sequentially, emitting per-command
// lifecycle envelopes. Called for auto-classified decisions and again
// after a confirmation is approved.
func (s *GatewayService) ExecuteCommands(ctx context.Context, rid string, commands []string, classification *policy.ActionClassification, sink EventSink) error {
	for i, cmd := range commands {
		s.emitExec(sink, envelope.TypeExecStarted, rid, ExecEventData{Command: cmd, Index: i})

		timeout := commandTimeout(classification, cmd)
		result, err := s.executor.Execute(ctx, cmd, timeout, func(line string) {
			s.emitExec(sink, envelope.TypeExecStdout, rid, ExecEventData{Command: cmd, Index: i, Line: line})
		})
		if err != nil {
			sink.Emit(envelope.NewError(rid, CodeExecFailed, err.Error()))
			return nil
		}

		eventType := envelope.TypeExecFinished
		if result.TimedOut {
			eventType = envelope.TypeExecTimeout
		}
		s.emitExec(sink, eventType, rid, ExecEventData{
			Command:  cmd,
			Index:    i,
			ExitCode: result.ExitCode,
			TimedOut: result.TimedOut,
		})

		// A timed-out command aborts the rest of the batch.
		if result.TimedOut {
			return nil
		}
	}
	return nil
}

func (s *GatewayService) openConfirmation(ctx context.Context, req GatewayRequest, classification *policy.ActionClassification, sink EventSink) error {
	commands := req.Decision.Commands()
	ttl := confirmationTTL(classification)

	c, err := s.confirmer.Open(ctx, strings.Join(commands, "\n"), req.AgentID, req.TenantID, ttl)
	if err != nil {
		return fmt.Errorf("open confirmation: %w", err)
	}

	env, err := envelope.New(envelope.TypeConfirmationRequired, req.RID, ConfirmationData{
		ConfirmationID: c.ID,
		ExpiresAt:      c.ExpiresAt.UnixMilli(),
		Message:        confirmMessage(classification),
		Classification: classification,
	})
	if err != nil {
		return fmt.Errorf("build confirmation envelope: %w", err)
	}
	sink.Emit(env)

	s.logger.Info("confirmation opened",
		"confirmation_id", c.ID,
		"tenant_id", req.TenantID,
		"rid", req.RID,
		"expires_at", c.ExpiresAt)
	return nil
}

func (s *GatewayService) emitRateLimited(ctx context.Context, req GatewayRequest, result ratelimit.Result, sink EventSink) {
	env, _ := envelope.New(envelope.TypeError, req.RID, envelope.ErrorData{
		Code:              CodeRateLimited,
		Message:           "rate limit exceeded: " + result.Reason,
		RetryAfterSeconds: result.RetryAfterSeconds(),
	})
	sink.Emit(env)

	s.recorder.Record(ctx, audit.Record{
		Timestamp: s.now().UTC(),
		TenantID:  req.TenantID,
		EventType: audit.EventTypeRateLimited,
		RequestID: req.RID,
		ActorID:   req.ActorID,
		ActorType: audit.ActorTypeUser,
		AgentID:   req.AgentID,
		Reason:    result.Reason,
	})

	s.logger.Warn("request rate limited",
		"tenant_id", req.TenantID,
		"agent_id", req.AgentID,
		"reason", result.Reason,
		"retry_after_s", result.RetryAfterSeconds())
}

func (s *GatewayService) emitExec(sink EventSink, eventType, rid string, data ExecEventData) {
	env, err := envelope.New(eventType, rid, data)
	if err != nil {
		s.logger.Error("build exec envelope failed", "type", eventType, "error", err)
		return
	}
	sink.Emit(env)
}

// commandTimeout returns the matched policy's timeout for a command, or
// zero for the executor default.
func commandTimeout(classification *policy.ActionClassification, command string) time.Duration {
	for _, cr := range classification.Commands {
		if cr.Command == command && cr.TimeoutSeconds > 0 {
			return time.Duration(cr.TimeoutSeconds) * time.Second
		}
	}
	return 0
}

// confirmationTTL is the longest per-command timeout among the commands
// requiring confirmation, or zero for the manager default.
func confirmationTTL(classification *policy.ActionClassification) time.Duration {
	max := 0
	for _, cr := range classification.Commands {
		if cr.Status == policy.StatusConfirm && cr.TimeoutSeconds > max {
			max = cr.TimeoutSeconds
		}
	}
	return time.Duration(max) * time.Second
}

func forbidMessage(classification *policy.ActionClassification) string {
	for _, cr := range classification.Commands {
		if cr.Status == policy.StatusForbid {
			if cr.Reason != "" {
				return fmt.Sprintf("%q blocked by policy %s: %s", cr.Command, cr.PolicyName, cr.Reason)
			}
			return fmt.Sprintf("%q blocked by policy %s", cr.Command, cr.PolicyName)
		}
	}
	return "action blocked by policy"
}

func confirmMessage(classification *policy.ActionClassification) string {
	for _, cr := range classification.Commands {
		if cr.Status == policy.StatusConfirm && cr.Reason != "" {
			return cr.Reason
		}
	}
	return ""
}
