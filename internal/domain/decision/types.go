// Package decision contains the router decision model: the structured
// value produced by the upstream AI router describing what should happen
// next. The gateway consumes it as-is; it never generates decisions.
package decision

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the three decision shapes.
type Kind string

const (
	// KindChat is a plain text reply. Chat decisions bypass policy and
	// rate limiting entirely.
	KindChat Kind = "chat"
	// KindAction references a known batch or task by id.
	KindAction Kind = "action"
	// KindAIDraftAction carries ad hoc commands proposed by the router.
	// Always unconfirmed.
	KindAIDraftAction Kind = "ai_draft_action"
)

// Status indicates whether an action has already been confirmed by a human.
type Status string

const (
	StatusConfirmed   Status = "confirmed"
	StatusUnconfirmed Status = "unconfirmed"
)

// SuggestedKind discriminates the payload of an ai_draft_action.
type SuggestedKind string

const (
	SuggestedCommand     SuggestedKind = "command"
	SuggestedCommands    SuggestedKind = "commands"
	SuggestedBatchScript SuggestedKind = "batch_script"
)

// Chat is a plain text reply with no policy involvement.
type Chat struct {
	Text string `json:"text"`
}

// Action references a known batch or task by id.
type Action struct {
	TaskID        string            `json:"task_id"`
	Status        Status            `json:"status"`
	Params        map[string]string `json:"params,omitempty"`
	MissingParams []string          `json:"missing_params,omitempty"`
	Risk          string            `json:"risk,omitempty"`
	// Commands are the concrete shell commands the referenced task expands
	// to. Each one is rate-limited and policy-classified independently.
	Commands []string `json:"commands,omitempty"`
}

// Suggested is the payload of an ai_draft_action.
type Suggested struct {
	Kind SuggestedKind `json:"kind"`
	// Command is set when Kind is SuggestedCommand.
	Command string `json:"command,omitempty"`
	// Commands is set when Kind is SuggestedCommands.
	Commands []string `json:"commands,omitempty"`
	// Script is set when Kind is SuggestedBatchScript.
	Script string `json:"script,omitempty"`
}

// AIDraftAction carries router-proposed ad hoc commands.
type AIDraftAction struct {
	Status    Status    `json:"status"`
	Suggested Suggested `json:"suggested"`
}

// RouterDecision is the tagged union. Exactly one of the payload fields
// matching Kind is non-nil.
type RouterDecision struct {
	Kind    Kind           `json:"type"`
	Chat    *Chat          `json:"chat,omitempty"`
	Action  *Action        `json:"action,omitempty"`
	AIDraft *AIDraftAction `json:"ai_draft_action,omitempty"`
}

// Validate checks the union is well-formed: the Kind is known and the
// matching payload is present.
func (d *RouterDecision) Validate() error {
	switch d.Kind {
	case KindChat:
		if d.Chat == nil {
			return fmt.Errorf("decision type %q missing chat payload", d.Kind)
		}
	case KindAction:
		if d.Action == nil {
			return fmt.Errorf("decision type %q missing action payload", d.Kind)
		}
	case KindAIDraftAction:
		if d.AIDraft == nil {
			return fmt.Errorf("decision type %q missing ai_draft_action payload", d.Kind)
		}
		if d.AIDraft.Status != StatusUnconfirmed {
			return fmt.Errorf("ai_draft_action status must be %q, got %q", StatusUnconfirmed, d.AIDraft.Status)
		}
	default:
		return fmt.Errorf("unknown decision type %q", d.Kind)
	}
	return nil
}

// RequiresPolicy reports whether the decision carries commands that must
// pass the policy engine. Chat decisions bypass it entirely.
func (d *RouterDecision) RequiresPolicy() bool {
	return d.Kind == KindAction || d.Kind == KindAIDraftAction
}

// Commands returns the command strings embedded in the decision, in
// order. Chat decisions have none. A batch script counts as a single
// command for classification purposes.
func (d *RouterDecision) Commands() []string {
	switch d.Kind {
	case KindAction:
		if d.Action == nil {
			return nil
		}
		return d.Action.Commands
	case KindAIDraftAction:
		if d.AIDraft == nil {
			return nil
		}
		switch d.AIDraft.Suggested.Kind {
		case SuggestedCommand:
			return []string{d.AIDraft.Suggested.Command}
		case SuggestedCommands:
			return d.AIDraft.Suggested.Commands
		case SuggestedBatchScript:
			return []string{d.AIDraft.Suggested.Script}
		}
	}
	return nil
}

// UnmarshalJSON decodes the union and rejects malformed shapes so a bad
// decision fails at the boundary instead of deep inside the pipeline.
func (d *RouterDecision) UnmarshalJSON(data []byte) error {
	type alias RouterDecision
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*d = RouterDecision(a)
	return d.Validate()
}
