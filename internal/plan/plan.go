// Package plan holds the action plans produced for one unsubscribe attempt.
// Plans are disposable: they are derived from the live page on every attempt
// and never persisted.
package plan

import (
	"errors"
	"fmt"
	"strings"
)

type Strategy string

const (
	DirectClick Strategy = "direct_click"
	FormFill    Strategy = "form_fill"
	MultiStep   Strategy = "multi_step"
)

// Source records who produced a plan.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

type Action string

const (
	Fill    Action = "fill"
	Select  Action = "select"
	Check   Action = "check"
	Uncheck Action = "uncheck"
	Click   Action = "click"
)

func (a Action) Valid() bool {
	switch a {
	case Fill, Select, Check, Uncheck, Click:
		return true
	}
	return false
}

type SubmitKind string

const (
	SubmitClick SubmitKind = "click"
	SubmitForm  SubmitKind = "submit"
)

// ErrInvalid marks a plan that violates the plan schema.
var ErrInvalid = errors.New("invalid plan")

// Selectors is an ordered list of candidate selectors, best first.
type Selectors []string

// Compact trims entries and drops blanks and duplicates, keeping order.
func (s Selectors) Compact() Selectors {
	seen := make(map[string]bool, len(s))
	out := make(Selectors, 0, len(s))
	for _, sel := range s {
		sel = strings.TrimSpace(sel)
		if sel == "" || seen[sel] {
			continue
		}
		seen[sel] = true
		out = append(out, sel)
	}
	return out
}

type FieldAction struct {
	FieldName string `json:"field_name"`
	FieldType string `json:"field_type"`
	Action    Action `json:"action"`
	Value     string `json:"value,omitempty"`
	Selector  string `json:"selector"`
}

type SubmitAction struct {
	Selector string     `json:"selector"`
	Action   SubmitKind `json:"action"`
}

type DirectAction struct {
	TargetSelector    string    `json:"target_selector"`
	FallbackSelectors Selectors `json:"fallback_selectors"`
}

// Candidates returns the target followed by the fallbacks, in try order.
func (d DirectAction) Candidates() Selectors {
	return append(Selectors{d.TargetSelector}, d.FallbackSelectors...).Compact()
}

type FormAction struct {
	FormSelector string        `json:"form_selector"`
	FieldActions []FieldAction `json:"field_actions"`
	SubmitAction SubmitAction  `json:"submit_action"`
}

// Plan is either a direct click or a form interaction.
type Plan struct {
	Strategy  Strategy
	Source    Source
	Reasoning string
	Direct    *DirectAction
	Form      *FormAction
}

func (p Plan) IsForm() bool {
	return p.Strategy == FormFill || p.Strategy == MultiStep
}

// Validate checks the plan against the schema the executor relies on.
func (p Plan) Validate() error {
	switch p.Strategy {
	case DirectClick:
		if p.Direct == nil || len(p.Direct.Candidates()) == 0 {
			return fmt.Errorf("%w: direct plan without selectors", ErrInvalid)
		}
	case FormFill, MultiStep:
		if p.Form == nil {
			return fmt.Errorf("%w: %s plan without form", ErrInvalid, p.Strategy)
		}
		return p.Form.Validate()
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalid, p.Strategy)
	}
	return nil
}

func (f FormAction) Validate() error {
	for i, fa := range f.FieldActions {
		if !fa.Action.Valid() {
			return fmt.Errorf("%w: field action %d: unknown action %q", ErrInvalid, i, fa.Action)
		}
		if strings.TrimSpace(fa.Selector) == "" {
			return fmt.Errorf("%w: field action %d: empty selector", ErrInvalid, i)
		}
		if fa.Action == Select && strings.TrimSpace(fa.Value) == "" {
			return fmt.Errorf("%w: field action %d: select without value", ErrInvalid, i)
		}
	}
	switch f.SubmitAction.Action {
	case "", SubmitClick, SubmitForm:
	default:
		return fmt.Errorf("%w: unknown submit action %q", ErrInvalid, f.SubmitAction.Action)
	}
	return nil
}
