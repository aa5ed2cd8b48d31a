package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/llm"
	"github.com/polzovatel/unsubscribe-agent/internal/plan"
	"github.com/polzovatel/unsubscribe-agent/internal/snapshot"
)

// stubLLM answers every request with text or err.
type stubLLM struct {
	text  string
	err   error
	calls atomic.Int32
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.calls.Add(1)
	if s.err != nil {
		return llm.Response{}, s.err
	}
	return llm.Response{Text: s.text}, nil
}

func (s *stubLLM) Name() string { return "stub" }

func TestPlan_FallbackToFormWhenModelFails(t *testing.T) {
	p := NewPlanner(&stubLLM{err: errors.New("rate limited")}, zerolog.Nop())
	s := snapshot.Summary{BodyText: "Fill in the form below with your Email address to unsubscribe"}

	for i := 0; i < 3; i++ {
		pl := p.Plan(context.Background(), s, "me@example.com")
		if pl.Strategy != plan.FormFill || pl.Source != plan.SourceFallback {
			t.Fatalf("expected fallback form plan, got %s/%s", pl.Strategy, pl.Source)
		}
		if pl.Form == nil || pl.Form.FormSelector != "form" {
			t.Fatalf("expected form selector \"form\", got %+v", pl.Form)
		}
		if pl.Form.SubmitAction.Selector == "" {
			t.Error("expected a submit-like selector")
		}
	}
}

func TestPlan_FallbackGenericDirect(t *testing.T) {
	p := NewPlanner(&stubLLM{err: errors.New("down")}, zerolog.Nop())
	pl := p.Plan(context.Background(), snapshot.Summary{BodyText: "Welcome to our newsletter archive"}, "")

	if pl.Strategy != plan.DirectClick || pl.Direct == nil {
		t.Fatalf("expected direct plan, got %+v", pl)
	}
	want := FallbackPlan(snapshot.Summary{})
	if pl.Direct.TargetSelector != genericDirectSelectors[0] {
		t.Errorf("expected generic target %q, got %q", genericDirectSelectors[0], pl.Direct.TargetSelector)
	}
	if len(pl.Direct.FallbackSelectors) != len(want.Direct.FallbackSelectors) {
		t.Errorf("expected %d fallbacks, got %d", len(want.Direct.FallbackSelectors), len(pl.Direct.FallbackSelectors))
	}
}

func TestFallbackPlan_PrefersMatchingPageElements(t *testing.T) {
	s := snapshot.Summary{
		Links: []snapshot.Link{
			{Text: "Privacy", Href: "/privacy", Selector: "#privacy"},
			{Text: "Click here", Href: "https://x.example/optout?id=1", Selector: "#optout"},
		},
		Buttons: []snapshot.Element{
			{Tag: "button", Text: "Unsubscribe", Selector: "#unsub-btn"},
		},
	}
	pl := FallbackPlan(s)
	cands := pl.Direct.Candidates()
	if cands[0] != "#optout" || cands[1] != "#unsub-btn" {
		t.Errorf("expected page elements first, got %v", cands[:2])
	}
	for _, c := range cands {
		if c == "#privacy" {
			t.Error("non opt-out link must not be a candidate")
		}
	}
}

func TestPlan_UsesValidModelPlan(t *testing.T) {
	model := &stubLLM{text: "Here is the plan:\n```json\n{\"strategy\":\"direct_click\",\"reasoning\":\"one link\",\"target_selector\":\"#unsub\",\"fallback_selectors\":[\"a.unsub\",\"\"]}\n```\nGood luck!"}
	p := NewPlanner(model, zerolog.Nop())

	pl := p.Plan(context.Background(), snapshot.Summary{}, "me@example.com")
	if pl.Source != plan.SourceModel || pl.Strategy != plan.DirectClick {
		t.Fatalf("expected model direct plan, got %s/%s", pl.Source, pl.Strategy)
	}
	if got := pl.Direct.Candidates(); len(got) != 2 || got[0] != "#unsub" || got[1] != "a.unsub" {
		t.Errorf("unexpected candidates %v", got)
	}
	if model.calls.Load() != 1 {
		t.Errorf("expected one model call, got %d", model.calls.Load())
	}
}

func TestPlan_InvalidModelOutputFallsBack(t *testing.T) {
	cases := map[string]string{
		"no json":          "I cannot help with that.",
		"unknown strategy": `{"strategy":"dance","target_selector":"#x"}`,
		"direct no target": `{"strategy":"direct_click"}`,
		"form no selector": `{"strategy":"form_fill","reasoning":"form"}`,
		"broken json":      `{"strategy": "direct_click", "target_selector": }`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewPlanner(&stubLLM{text: text}, zerolog.Nop())
			pl := p.Plan(context.Background(), snapshot.Summary{BodyText: "hello"}, "")
			if pl.Source != plan.SourceFallback {
				t.Errorf("expected fallback, got %s", pl.Source)
			}
		})
	}
}

func TestParsePagePlan_MultiStep(t *testing.T) {
	pl, err := parsePagePlan(`{"strategy":"Multi_Step","form_selector":"#prefs","submit_selector":"#save"}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if pl.Strategy != plan.MultiStep || pl.Form.FormSelector != "#prefs" {
		t.Errorf("unexpected plan %+v", pl)
	}
	if pl.Form.SubmitAction.Selector != "#save" || pl.Form.SubmitAction.Action != plan.SubmitClick {
		t.Errorf("unexpected submit %+v", pl.Form.SubmitAction)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"braces inside strings", `prose {"a":"}{","b":{"c":1}} trailing {"d":2}`, `{"a":"}{","b":{"c":1}}`},
		{"skips prose braces", "Sure {here is} the plan:\n{\"strategy\":\"direct_click\"}", `{"strategy":"direct_click"}`},
		{"skips unbalanced prefix", `{"broken": } then {"ok":true}`, `{"ok":true}`},
		{"nested after invalid outer", `{oops {"x":{"y":1}}`, `{"x":{"y":1}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractJSON(tc.in)
			if err != nil {
				t.Fatalf("extract failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}

	for _, in := range []string{"no braces here", "{not json}", `{"a": }`} {
		if got, err := extractJSON(in); err == nil {
			t.Errorf("expected error for %q, got %q", in, got)
		}
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"multi line":     "```json\n{\"x\":1}\n```",
		"single line":    "```json {\"x\":1} ```",
		"no tag":         "```{\"x\":1}```",
		"prose around":   "Here you go:\n```JSON\n{\"x\":1}\n```\nthanks",
		"unclosed fence": "```json\n{\"x\":1}",
		"no fence":       "  {\"x\":1}\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if got := stripFences(in); got != `{"x":1}` {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestPlan_RecoversModelPlanFromNoisyOutput(t *testing.T) {
	cases := map[string]string{
		"prose braces":      "Sure {here is} the plan:\n{\"strategy\":\"direct_click\",\"target_selector\":\"#unsub\"}",
		"single line fence": "```json {\"strategy\":\"direct_click\",\"target_selector\":\"#unsub\"} ```",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewPlanner(&stubLLM{text: text}, zerolog.Nop())
			pl := p.Plan(context.Background(), snapshot.Summary{BodyText: "hello"}, "")
			if pl.Source != plan.SourceModel {
				t.Fatalf("expected model plan, got %s", pl.Source)
			}
			if pl.Direct == nil || pl.Direct.TargetSelector != "#unsub" {
				t.Errorf("unexpected plan %+v", pl.Direct)
			}
		})
	}
}
