// Package policy contains domain types for command policy classification.
package policy

import "time"

// MatchType selects how a policy's MatchValue is tested against a command.
type MatchType string

const (
	// MatchExact is case-insensitive full-string equality.
	MatchExact MatchType = "exact"
	// MatchRegex is a case-insensitive regular expression match.
	// A malformed pattern never matches and is logged, never a crash.
	MatchRegex MatchType = "regex"
	// MatchWildcard supports '*' (any run) and '?' (any single character),
	// anchored to the full string.
	MatchWildcard MatchType = "wildcard"
)

// Mode is the effect of a matching policy.
type Mode string

const (
	// ModeAuto lets the command proceed without human involvement.
	ModeAuto Mode = "auto"
	// ModeConfirm requires a human confirmation before execution.
	ModeConfirm Mode = "confirm"
	// ModeForbid blocks the command and aborts the whole action.
	ModeForbid Mode = "forbid"
)

// Risk is the declared risk level of a policy.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// CommandPolicy is a single classification rule. Policies are owned by a
// tenant scope or the global default scope (empty TenantID); both are
// visible to a tenant's evaluation. Immutable during a classification pass.
type CommandPolicy struct {
	// ID is the unique identifier for this policy.
	ID string
	// TenantID scopes the policy. Empty means global default scope.
	TenantID string
	// Name is a human-readable name for this policy.
	Name string
	// MatchType selects the matching algorithm.
	MatchType MatchType
	// MatchValue is the pattern tested against normalized commands.
	MatchValue string
	// Mode is the effect when the policy matches.
	Mode Mode
	// OSWhitelist restricts the policy to the listed agent OS identifiers.
	// Empty means all. When the agent OS is known and not listed, the
	// policy is skipped even if otherwise matching.
	OSWhitelist []string
	// Risk is the declared risk level.
	Risk Risk
	// TimeoutSeconds is the confirmation TTL for confirm-mode policies.
	// Zero falls back to the system default.
	TimeoutSeconds int
	// ConfirmMessage is optional human text surfaced as the classification
	// reason.
	ConfirmMessage string
	// Priority orders evaluation (lower value = evaluated first). Ties are
	// broken by mode precedence: forbid > confirm > auto.
	Priority int
	// CreatedAt is when the policy was created (UTC).
	CreatedAt time.Time
	// UpdatedAt is when the policy was last modified (UTC).
	UpdatedAt time.Time
}

// CommandStatus is the per-command classification outcome.
type CommandStatus string

const (
	StatusAuto    CommandStatus = "auto"
	StatusConfirm CommandStatus = "confirm"
	StatusForbid  CommandStatus = "forbid"
)

// ClassificationResult is the outcome for a single command.
type ClassificationResult struct {
	// Command is the original (unnormalized) command string.
	Command string `json:"command"`
	// Status is the classification outcome.
	Status CommandStatus `json:"status"`
	// MatchedPolicyID identifies the first matching policy, if any.
	MatchedPolicyID string `json:"matched_policy_id,omitempty"`
	// PolicyName is the matched policy's human-readable name.
	PolicyName string `json:"policy_name,omitempty"`
	// Reason carries the matched policy's ConfirmMessage, if any.
	Reason string `json:"reason,omitempty"`
	// TimeoutSeconds is the matched policy's confirmation TTL.
	TimeoutSeconds int `json:"-"`
	// Risk is the matched policy's risk level.
	Risk Risk `json:"-"`
}

// ActionClassification aggregates per-command results for one action.
// OverallStatus is forbid if any command is forbidden, else confirm if
// any requires confirmation, else auto. Allowed mirrors the overall
// status for callers that only need the go/no-go bit: false exactly
// when the action is forbidden.
type ActionClassification struct {
	Allowed       bool                   `json:"allowed"`
	OverallStatus CommandStatus          `json:"overall_status"`
	BlockedCount  int                    `json:"blocked_count"`
	ConfirmCount  int                    `json:"confirm_count"`
	Commands      []ClassificationResult `json:"commands_status"`
}

// modeRank orders modes for priority tiebreaks: the strictest rule wins.
func modeRank(m Mode) int {
	switch m {
	case ModeForbid:
		return 0
	case ModeConfirm:
		return 1
	default:
		return 2
	}
}

// statusForMode maps a policy mode to the command status it produces.
func statusForMode(m Mode) CommandStatus {
	switch m {
	case ModeForbid:
		return StatusForbid
	case ModeConfirm:
		return StatusConfirm
	default:
		return StatusAuto
	}
}
