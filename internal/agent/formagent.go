package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/llm"
	"github.com/polzovatel/unsubscribe-agent/internal/plan"
	"github.com/polzovatel/unsubscribe-agent/internal/snapshot"
)

// Placeholder values for fields an opt-out form asks for but does not need.
const (
	placeholderName    = "Subscriber"
	placeholderPhone   = "0000000000"
	placeholderAddress = "N/A"
	placeholderCompany = "N/A"
	placeholderReason  = "No longer interested"
)

const formSystemPrompt = `You are filling an unsubscribe form on behalf of the user.
You receive the full structure of the page's forms and the user's email address.

FIELD RULES:
1. Email fields: the user's own email address.
2. Name fields: "Subscriber". Phone: "0000000000". Address and company: "N/A".
3. Reason, frequency and preference fields: choose "no longer interested", "never"
   or the option closest to stopping all email.
4. Confirmation checkboxes (confirm, unsubscribe from all, I agree): check.
   Checkboxes that keep subscriptions active: uncheck.
5. NEVER touch hidden fields (hidden=true or type=hidden); they are honeypots.
6. The submit target is the control most likely to complete the opt-out.
Use only selectors present in the structure.

Respond with a SINGLE JSON object and NOTHING else:
{"field_actions":[{"field_name":"...","field_type":"...","action":"fill|select|check|uncheck|click","value":"...","selector":"..."}],
 "submit_action":{"selector":"...","action":"click|submit"}}`

var (
	emailHints    = []string{"email", "e-mail", "mail"}
	nameHints     = []string{"name", "first", "last", "full"}
	phoneHints    = []string{"phone", "tel", "mobile"}
	addressHints  = []string{"address", "street", "city", "zip", "postal"}
	companyHints  = []string{"company", "organization", "organisation", "business"}
	reasonHints   = []string{"reason", "why", "feedback", "comment", "frequency", "how often", "preference"}
	confirmHints  = []string{"confirm", "unsubscribe", "opt out", "opt-out", "stop", "agree", "remove me", "all emails", "all communications"}
	keepHints     = []string{"send me", "keep me", "receive", "subscribe to", "newsletter", "updates", "offers", "promotions"}
	leaveOptions  = []string{"no longer interested", "not interested", "never", "unsubscribe", "none", "stop", "too many", "no emails", "opt out"}
	submitHints   = []string{"unsubscribe", "confirm", "opt out", "remove", "submit", "save", "update", "continue", "yes"}
	hiddenTypes   = map[string]bool{"hidden": true, "password": true, "file": true, "button": true, "reset": true}
	textareaTypes = map[string]bool{"textarea": true}
)

// FormAgent plans field and submit actions for a form page.
type FormAgent struct {
	llm    llm.Client
	logger zerolog.Logger
}

func NewFormAgent(client llm.Client, logger zerolog.Logger) *FormAgent {
	return &FormAgent{llm: client, logger: logger.With().Str("comp", "form_agent").Logger()}
}

// PlanFormActions returns the actions for the form matching formSelector
// (or the best form on the page). Like the page planner, it never fails.
func (a *FormAgent) PlanFormActions(ctx context.Context, forms []snapshot.FormStructure, formSelector, userEmail string) (plan.FormAction, plan.Source) {
	target := pickForm(forms, formSelector)
	if a.llm != nil && len(forms) > 0 {
		fa, err := a.modelFormActions(ctx, forms, userEmail)
		if err == nil {
			fa = dropHiddenTargets(fa, forms)
			if fa.FormSelector == "" {
				fa.FormSelector = formSelector
			}
			return fa, plan.SourceModel
		}
		a.logger.Warn().Err(err).Msg("model form plan unusable, using fallback")
	}
	fa := FallbackFormActions(target, userEmail)
	if fa.FormSelector == "" {
		fa.FormSelector = formSelector
	}
	return fa, plan.SourceFallback
}

func (a *FormAgent) modelFormActions(ctx context.Context, forms []snapshot.FormStructure, userEmail string) (plan.FormAction, error) {
	raw, err := json.Marshal(map[string]any{"forms": forms, "userEmail": userEmail})
	if err != nil {
		return plan.FormAction{}, err
	}
	resp, err := a.llm.Generate(ctx, llm.Request{
		System:      formSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: "FORMS:\n" + string(raw)}},
		Temperature: 0,
		MaxTokens:   1200,
		JSON:        true,
	})
	if err != nil {
		return plan.FormAction{}, fmt.Errorf("generate: %w", err)
	}
	return parseFormActions(resp.Text)
}

func parseFormActions(text string) (plan.FormAction, error) {
	jsonStr, err := modelJSON(text)
	if err != nil {
		return plan.FormAction{}, err
	}
	var fa plan.FormAction
	if err := json.Unmarshal([]byte(jsonStr), &fa); err != nil {
		return plan.FormAction{}, fmt.Errorf("llm json parse: %w", err)
	}
	if len(fa.FieldActions) == 0 && fa.SubmitAction.Selector == "" {
		return plan.FormAction{}, fmt.Errorf("%w: empty form plan", plan.ErrInvalid)
	}
	if err := fa.Validate(); err != nil {
		return plan.FormAction{}, err
	}
	return fa, nil
}

// dropHiddenTargets removes model actions aimed at hidden fields.
func dropHiddenTargets(fa plan.FormAction, forms []snapshot.FormStructure) plan.FormAction {
	hidden := map[string]bool{}
	for _, f := range forms {
		for _, fld := range f.Fields {
			if isHiddenField(fld) {
				for _, s := range fld.Selectors {
					hidden[s] = true
				}
			}
		}
	}
	kept := fa.FieldActions[:0]
	for _, act := range fa.FieldActions {
		if !hidden[act.Selector] {
			kept = append(kept, act)
		}
	}
	fa.FieldActions = kept
	return fa
}

func pickForm(forms []snapshot.FormStructure, selector string) snapshot.FormStructure {
	for _, f := range forms {
		if selector != "" && f.Selector == selector {
			return f
		}
	}
	best, bestScore := snapshot.FormStructure{}, -1
	for _, f := range forms {
		score := 0
		for _, fld := range f.Fields {
			if isHiddenField(fld) {
				continue
			}
			score++
			if matchesField(fld, emailHints) {
				score += 5
			}
		}
		for _, s := range f.Submits {
			if containsAny(strings.ToLower(s.Text), submitHints) {
				score += 3
			}
		}
		if score > bestScore {
			best, bestScore = f, score
		}
	}
	return best
}

// FallbackFormActions fills form with the fixed field heuristics.
func FallbackFormActions(form snapshot.FormStructure, userEmail string) plan.FormAction {
	fa := plan.FormAction{FormSelector: form.Selector}
	radioDone := map[string]bool{}
	for _, fld := range form.Fields {
		if isHiddenField(fld) {
			continue
		}
		act, ok := fieldAction(fld, userEmail)
		if !ok {
			continue
		}
		if fld.Type == "radio" {
			if radioDone[fld.Name] {
				continue
			}
			radioDone[fld.Name] = true
		}
		fa.FieldActions = append(fa.FieldActions, act)
	}
	fa.SubmitAction = pickSubmit(form)
	return fa
}

func fieldAction(fld snapshot.Field, userEmail string) (plan.FieldAction, bool) {
	act := plan.FieldAction{
		FieldName: firstNonEmpty(fld.Name, fld.ID, fld.Label),
		FieldType: firstNonEmpty(fld.Type, fld.Tag),
		Selector:  fieldSelector(fld),
	}
	if act.Selector == "" {
		return act, false
	}

	switch {
	case fld.Tag == "select":
		v, ok := leaveOption(fld)
		if !ok {
			return act, false
		}
		act.Action, act.Value = plan.Select, v
		return act, true

	case fld.Type == "checkbox":
		label := fieldText(fld)
		switch {
		case containsAny(label, confirmHints):
			act.Action = plan.Check
		case containsAny(label, keepHints):
			act.Action = plan.Uncheck
		default:
			return act, false
		}
		return act, true

	case fld.Type == "radio":
		if !containsAny(fieldText(fld)+" "+strings.ToLower(fld.Value), leaveOptions) {
			return act, false
		}
		act.Action = plan.Check
		return act, true
	}

	switch {
	case fld.Type == "email" || matchesField(fld, emailHints):
		act.Value = userEmail
	case matchesField(fld, reasonHints) || textareaTypes[fld.Tag]:
		act.Value = placeholderReason
	case fld.Type == "tel" || matchesField(fld, phoneHints):
		act.Value = placeholderPhone
	case matchesField(fld, companyHints):
		act.Value = placeholderCompany
	case matchesField(fld, addressHints):
		act.Value = placeholderAddress
	case matchesField(fld, nameHints):
		act.Value = placeholderName
	default:
		return act, false
	}
	if act.Value == "" {
		return act, false
	}
	act.Action = plan.Fill
	return act, true
}

// leaveOption picks the select option closest to "stop emailing me".
func leaveOption(fld snapshot.Field) (string, bool) {
	for _, pref := range leaveOptions {
		for _, o := range fld.Options {
			if strings.Contains(strings.ToLower(o.Text), pref) || strings.Contains(strings.ToLower(o.Value), pref) {
				return optionValue(o), true
			}
		}
	}
	if !fld.Required {
		return "", false
	}
	for _, o := range fld.Options {
		if strings.TrimSpace(o.Value) != "" {
			return optionValue(o), true
		}
	}
	return "", false
}

func optionValue(o snapshot.Option) string {
	if o.Value != "" {
		return o.Value
	}
	return o.Text
}

func pickSubmit(form snapshot.FormStructure) plan.SubmitAction {
	for _, hint := range submitHints {
		for _, s := range form.Submits {
			if s.Selector != "" && strings.Contains(strings.ToLower(s.Text), hint) {
				return plan.SubmitAction{Selector: s.Selector, Action: plan.SubmitClick}
			}
		}
	}
	for _, s := range form.Submits {
		if s.Selector != "" && s.Type == "submit" {
			return plan.SubmitAction{Selector: s.Selector, Action: plan.SubmitClick}
		}
	}
	if len(form.Submits) > 0 && form.Submits[0].Selector != "" {
		return plan.SubmitAction{Selector: form.Submits[0].Selector, Action: plan.SubmitClick}
	}
	if form.Selector != "" && form.Selector != "body" {
		return plan.SubmitAction{Selector: form.Selector, Action: plan.SubmitForm}
	}
	return plan.SubmitAction{}
}

func isHiddenField(fld snapshot.Field) bool {
	return fld.Hidden || hiddenTypes[fld.Type]
}

// fieldSelector prefers selectors that address exactly this control.
func fieldSelector(fld snapshot.Field) string {
	if fld.Type == "radio" || fld.Type == "checkbox" {
		for _, s := range fld.Selectors {
			if snapshot.IsIDSelector(s) || strings.Contains(s, "[value=") {
				return s
			}
		}
	}
	return fld.Selector()
}

func fieldText(fld snapshot.Field) string {
	return strings.ToLower(strings.Join([]string{fld.Label, fld.Name, fld.ID, fld.Placeholder}, " "))
}

func matchesField(fld snapshot.Field, hints []string) bool {
	return containsAny(fieldText(fld), hints)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
