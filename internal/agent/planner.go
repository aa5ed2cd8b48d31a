package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/llm"
	"github.com/polzovatel/unsubscribe-agent/internal/plan"
	"github.com/polzovatel/unsubscribe-agent/internal/snapshot"
)

const pageSystemPrompt = `You are an unsubscribe agent. You receive a structured summary of a web page
reached through an email's unsubscribe link and decide how to opt the user out.

Classify the page and choose ONE strategy:
- "direct_click": a single link or button completes the opt-out.
- "form_fill": a form must be filled and submitted.
- "multi_step": a form or preference center followed by a confirmation.

RULES:
1. Only use selectors that appear in the summary.
2. Prefer elements whose text or href mentions unsubscribe, opt-out, remove or preferences.
3. Never target hidden or honeypot fields.
4. Respond with a SINGLE JSON object and NOTHING else:
{"strategy":"direct_click|form_fill|multi_step","reasoning":"...",
 "target_selector":"...","fallback_selectors":["..."],
 "form_selector":"...","submit_selector":"..."}
target_selector is required for direct_click; form_selector for form_fill and multi_step.`

// genericDirectSelectors are tried after any page-specific candidates.
var genericDirectSelectors = plan.Selectors{
	`a:has-text("Unsubscribe")`,
	`button:has-text("Unsubscribe")`,
	`input[type="submit"][value*="nsubscribe"]`,
	`a[href*="unsubscribe"]`,
	`a:has-text("Opt out")`,
	`a:has-text("Opt-out")`,
	`a[href*="optout"]`,
	`a[href*="opt-out"]`,
	`a:has-text("Remove")`,
	`a[href*="remove"]`,
	`a:has-text("Preferences")`,
	`a[href*="preferences"]`,
}

var optOutKeywords = []string{"unsubscribe", "opt-out", "opt out", "optout", "remove", "preferences"}

const fallbackFormSubmit = `button[type="submit"], input[type="submit"], button:has-text("Unsubscribe"), button:has-text("Submit")`

// Planner chooses the plan for a page. Model failures never escape it: any
// call, parse or validation error yields the deterministic fallback plan.
type Planner struct {
	llm    llm.Client
	logger zerolog.Logger
}

// NewPlanner returns a planner. A nil client means fallback-only planning.
func NewPlanner(client llm.Client, logger zerolog.Logger) *Planner {
	return &Planner{llm: client, logger: logger.With().Str("comp", "planner").Logger()}
}

func (p *Planner) Plan(ctx context.Context, s snapshot.Summary, userEmail string) plan.Plan {
	if p.llm == nil {
		return FallbackPlan(s)
	}
	pl, err := p.modelPlan(ctx, s, userEmail)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", s.URL).Msg("model plan unusable, using fallback")
		return FallbackPlan(s)
	}
	p.logger.Info().
		Str("strategy", string(pl.Strategy)).
		Str("reasoning", truncate(pl.Reasoning, 200)).
		Msg("model plan")
	return pl
}

func (p *Planner) modelPlan(ctx context.Context, s snapshot.Summary, userEmail string) (plan.Plan, error) {
	raw, err := json.Marshal(map[string]any{
		"page":      s.ToMap(),
		"userEmail": userEmail,
	})
	if err != nil {
		return plan.Plan{}, err
	}
	resp, err := p.llm.Generate(ctx, llm.Request{
		System:      pageSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: "PAGE:\n" + string(raw)}},
		Temperature: 0,
		MaxTokens:   600,
		JSON:        true,
	})
	if err != nil {
		return plan.Plan{}, fmt.Errorf("generate: %w", err)
	}
	pl, err := parsePagePlan(resp.Text)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("%w: raw=%q", err, truncate(resp.Text, 300))
	}
	return pl, nil
}

type pagePlanJSON struct {
	Strategy          string   `json:"strategy"`
	Reasoning         string   `json:"reasoning"`
	TargetSelector    string   `json:"target_selector"`
	FallbackSelectors []string `json:"fallback_selectors"`
	FormSelector      string   `json:"form_selector"`
	SubmitSelector    string   `json:"submit_selector"`
}

func parsePagePlan(text string) (plan.Plan, error) {
	jsonStr, err := modelJSON(text)
	if err != nil {
		return plan.Plan{}, err
	}
	var parsed pagePlanJSON
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return plan.Plan{}, fmt.Errorf("llm json parse: %w", err)
	}

	pl := plan.Plan{
		Strategy:  plan.Strategy(strings.ToLower(strings.TrimSpace(parsed.Strategy))),
		Source:    plan.SourceModel,
		Reasoning: parsed.Reasoning,
	}
	switch pl.Strategy {
	case plan.DirectClick:
		pl.Direct = &plan.DirectAction{
			TargetSelector:    strings.TrimSpace(parsed.TargetSelector),
			FallbackSelectors: plan.Selectors(parsed.FallbackSelectors).Compact(),
		}
	case plan.FormFill, plan.MultiStep:
		form := strings.TrimSpace(parsed.FormSelector)
		if form == "" {
			return plan.Plan{}, fmt.Errorf("%w: %s without form_selector", plan.ErrInvalid, pl.Strategy)
		}
		pl.Form = &plan.FormAction{FormSelector: form}
		if sub := strings.TrimSpace(parsed.SubmitSelector); sub != "" {
			pl.Form.SubmitAction = plan.SubmitAction{Selector: sub, Action: plan.SubmitClick}
		}
	}
	if err := pl.Validate(); err != nil {
		return plan.Plan{}, err
	}
	return pl, nil
}

// FallbackPlan is the keyword classifier used whenever the model cannot
// produce a valid plan. It depends only on the summary.
func FallbackPlan(s snapshot.Summary) plan.Plan {
	text := strings.ToLower(s.BodyText)
	if strings.Contains(text, "form") && strings.Contains(text, "email") {
		return plan.Plan{
			Strategy:  plan.FormFill,
			Source:    plan.SourceFallback,
			Reasoning: "page text mentions a form and an email field",
			Form: &plan.FormAction{
				FormSelector: "form",
				SubmitAction: plan.SubmitAction{Selector: fallbackFormSubmit, Action: plan.SubmitClick},
			},
		}
	}

	candidates := optOutCandidates(s)
	reasoning := "clicking unsubscribe-like elements found on the page"
	if len(candidates) == 0 {
		reasoning = "no unsubscribe-like element found, trying generic selectors"
	}
	all := append(candidates, genericDirectSelectors...).Compact()
	return plan.Plan{
		Strategy:  plan.DirectClick,
		Source:    plan.SourceFallback,
		Reasoning: reasoning,
		Direct: &plan.DirectAction{
			TargetSelector:    all[0],
			FallbackSelectors: all[1:],
		},
	}
}

// optOutCandidates returns selectors of summary links and buttons whose text
// or href matches the opt-out vocabulary, links first.
func optOutCandidates(s snapshot.Summary) plan.Selectors {
	var out plan.Selectors
	for _, l := range s.Links {
		if l.Selector != "" && (containsAny(strings.ToLower(l.Text), optOutKeywords) || containsAny(strings.ToLower(l.Href), optOutKeywords)) {
			out = append(out, l.Selector)
		}
	}
	for _, b := range s.Buttons {
		if b.Selector != "" && containsAny(strings.ToLower(b.Text), optOutKeywords) {
			out = append(out, b.Selector)
		}
	}
	return out
}

// modelJSON pulls the first valid JSON object out of a model answer, looking
// inside a code fence first and then at the raw text.
func modelJSON(text string) (string, error) {
	if js, err := extractJSON(stripFences(text)); err == nil {
		return js, nil
	}
	return extractJSON(text)
}

// stripFences returns the contents of the first markdown code fence in text,
// without the fence markers and language tag. Text without a fence is
// returned trimmed.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	open := strings.Index(text, "```")
	if open < 0 {
		return text
	}
	body := strings.TrimLeftFunc(text[open+3:], func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// extractJSON returns the first balanced span of text that is valid JSON.
// Balanced but invalid spans, like braces in prose, are skipped.
func extractJSON(text string) (string, error) {
	for from := 0; from < len(text); {
		i := strings.IndexByte(text[from:], '{')
		if i < 0 {
			break
		}
		start := from + i
		if end, ok := balancedObject(text, start); ok && json.Valid([]byte(text[start:end])) {
			return text[start:end], nil
		}
		from = start + 1
	}
	return "", fmt.Errorf("json not found")
}

// balancedObject returns the end of the brace-balanced span opening at
// text[start], ignoring braces inside strings.
func balancedObject(text string, start int) (int, bool) {
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				depth++
			}
		case '}':
			if !inStr {
				depth--
				if depth == 0 {
					return i + 1, true
				}
			}
		}
	}
	return 0, false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
