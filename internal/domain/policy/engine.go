package policy

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Engine classifies proposed commands against the policy set visible to a
// tenant. It is a pure function of (commands, policy set, agent OS): no
// internal mutable state beyond a compiled-pattern cache, safe for
// concurrent calls across tenants.
type Engine struct {
	store  Store
	logger *slog.Logger

	// regexCache memoizes compiled patterns keyed by source. Malformed
	// patterns are cached as nil so they are logged once, not per command.
	regexCache sync.Map // string -> *regexp.Regexp (nil entry = malformed)
}

// NewEngine creates a policy engine backed by the given store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// Classify evaluates each command independently against the tenant's
// visible policy set and aggregates the results. Duplicate commands are
// classified independently to preserve order and per-command reasons.
// An empty command list yields OverallStatus auto with zero counts.
func (e *Engine) Classify(ctx context.Context, commands []string, tenantID, agentOS string) (*ActionClassification, error) {
	policies, err := e.store.VisibleTo(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ordered := orderPolicies(policies)

	result := &ActionClassification{
		Allowed:       true,
		OverallStatus: StatusAuto,
		Commands:      make([]ClassificationResult, 0, len(commands)),
	}

	for _, cmd := range commands {
		cr := e.classifyOne(cmd, ordered, agentOS)
		result.Commands = append(result.Commands, cr)

		switch cr.Status {
		case StatusForbid:
			result.BlockedCount++
		case StatusConfirm:
			result.ConfirmCount++
		}
	}

	// Forbid dominates, then confirm, else auto.
	switch {
	case result.BlockedCount > 0:
		result.OverallStatus = StatusForbid
		result.Allowed = false
	case result.ConfirmCount > 0:
		result.OverallStatus = StatusConfirm
	}

	return result, nil
}

// classifyOne tests one command against the ordered policy set and stops
// at the first match. No match defaults to auto.
func (e *Engine) classifyOne(command string, ordered []CommandPolicy, agentOS string) ClassificationResult {
	normalized := Normalize(command)

	for i := range ordered {
		p := &ordered[i]
		if skipForOS(p, agentOS) {
			continue
		}
		if e.matches(p, normalized) {
			return ClassificationResult{
				Command:         command,
				Status:          statusForMode(p.Mode),
				MatchedPolicyID: p.ID,
				PolicyName:      p.Name,
				Reason:          p.ConfirmMessage,
				TimeoutSeconds:  p.TimeoutSeconds,
				Risk:            p.Risk,
			}
		}
	}

	return ClassificationResult{Command: command, Status: StatusAuto}
}

// Normalize prepares a command for matching: trim surrounding whitespace
// and lowercase.
func Normalize(command string) string {
	return strings.ToLower(strings.TrimSpace(command))
}

// orderPolicies sorts by priority ascending; ties are broken so the
// strictest mode wins (forbid > confirm > auto).
func orderPolicies(policies []CommandPolicy) []CommandPolicy {
	ordered := make([]CommandPolicy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return modeRank(ordered[i].Mode) < modeRank(ordered[j].Mode)
	})
	return ordered
}

// skipForOS reports whether the policy must be skipped because the agent
// OS is known and not in the non-empty whitelist.
func skipForOS(p *CommandPolicy, agentOS string) bool {
	if len(p.OSWhitelist) == 0 || agentOS == "" {
		return false
	}
	for _, os := range p.OSWhitelist {
		if strings.EqualFold(os, agentOS) {
			return false
		}
	}
	return true
}

// matches tests a normalized command against a single policy.
func (e *Engine) matches(p *CommandPolicy, normalized string) bool {
	switch p.MatchType {
	case MatchExact:
		return normalized == Normalize(p.MatchValue)
	case MatchRegex:
		re := e.compileRegex(p)
		if re == nil {
			return false
		}
		return re.MatchString(normalized)
	case MatchWildcard:
		re := e.compileWildcard(p)
		if re == nil {
			return false
		}
		return re.MatchString(normalized)
	default:
		e.logger.Warn("unknown policy match type",
			"policy_id", p.ID,
			"match_type", string(p.MatchType))
		return false
	}
}

// compileRegex returns the compiled case-insensitive pattern for a regex
// policy, or nil for a malformed one. Malformed patterns degrade to
// non-matching; they never crash classification.
func (e *Engine) compileRegex(p *CommandPolicy) *regexp.Regexp {
	return e.compile("re:"+p.MatchValue, "(?i)"+p.MatchValue, p.ID)
}

// compileWildcard translates '*' and '?' into an anchored regular
// expression and compiles it.
func (e *Engine) compileWildcard(p *CommandPolicy) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range p.MatchValue {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return e.compile("wc:"+p.MatchValue, b.String(), p.ID)
}

// compile memoizes pattern compilation. A malformed pattern is stored as
// a nil entry and logged once.
func (e *Engine) compile(cacheKey, pattern, policyID string) *regexp.Regexp {
	if v, ok := e.regexCache.Load(cacheKey); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		e.logger.Warn("malformed policy pattern treated as non-matching",
			"policy_id", policyID,
			"pattern", pattern,
			"error", err)
		e.regexCache.Store(cacheKey, (*regexp.Regexp)(nil))
		return nil
	}

	e.regexCache.Store(cacheKey, re)
	return re
}
