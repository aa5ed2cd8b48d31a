package snapshot_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/polzovatel/unsubscribe-agent/internal/browser/browsertest"
	"github.com/polzovatel/unsubscribe-agent/internal/snapshot"
)

func TestCollect_EnforcesCaps(t *testing.T) {
	links := make([]any, 0, 40)
	for i := 0; i < 40; i++ {
		links = append(links, map[string]any{"text": "Unsubscribe", "href": "/u", "selector": "a"})
	}
	page := browsertest.NewPage()
	page.PageTitle = "Email preferences"
	page.CurrentURL = "https://news.example.com/prefs"
	page.OnEvaluate = func(script string, arg any) (any, error) {
		return map[string]any{
			"bodyText": strings.Repeat("x", 10000),
			"links":    links,
			"buttons":  []any{map[string]any{"tag": "button", "text": strings.Repeat("b", 500), "selector": "#b"}},
		}, nil
	}

	s, err := snapshot.Collect(context.Background(), page)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(s.BodyText) != snapshot.MaxBodyText {
		t.Errorf("expected body text capped at %d, got %d", snapshot.MaxBodyText, len(s.BodyText))
	}
	if len(s.Links) != snapshot.MaxLinks {
		t.Errorf("expected %d links, got %d", snapshot.MaxLinks, len(s.Links))
	}
	if len(s.Buttons[0].Text) > 120 {
		t.Errorf("button text not truncated: %d", len(s.Buttons[0].Text))
	}
	if s.Title != "Email preferences" || s.URL != "https://news.example.com/prefs" {
		t.Errorf("title/url not taken from page: %q %q", s.Title, s.URL)
	}
}

func TestCollect_EmptyPage(t *testing.T) {
	s, err := snapshot.Collect(context.Background(), browsertest.NewPage())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if s.BodyText != "" || len(s.Forms) != 0 {
		t.Errorf("expected empty summary, got %+v", s)
	}
}

func TestCollect_EvaluateError(t *testing.T) {
	page := browsertest.NewPage()
	page.OnEvaluate = func(string, any) (any, error) { return nil, errors.New("page crashed") }
	if _, err := snapshot.Collect(context.Background(), page); err == nil {
		t.Fatal("expected error")
	}
}

func TestCollectForms(t *testing.T) {
	page := browsertest.NewPage()
	page.OnEvaluate = func(script string, arg any) (any, error) {
		return []any{map[string]any{
			"selector": "#optout",
			"fields": []any{
				map[string]any{"tag": "input", "type": "email", "name": "email", "selectors": []any{"#email", "#optout input[name=\"email\"]"}},
				map[string]any{"tag": "select", "name": "reason", "selectors": []any{"select[name=\"reason\"]"},
					"options": []any{map[string]any{"value": "1", "text": "No longer interested"}}},
			},
			"submits": []any{map[string]any{"tag": "button", "type": "submit", "text": "Confirm", "selector": "#go"}},
		}}, nil
	}

	forms, err := snapshot.CollectForms(context.Background(), page)
	if err != nil {
		t.Fatalf("CollectForms failed: %v", err)
	}
	if len(forms) != 1 || len(forms[0].Fields) != 2 {
		t.Fatalf("unexpected forms %+v", forms)
	}
	if forms[0].Fields[0].Selector() != "#email" {
		t.Errorf("expected first candidate selector, got %q", forms[0].Fields[0].Selector())
	}
	if forms[0].Fields[1].Options[0].Text != "No longer interested" {
		t.Errorf("options not decoded: %+v", forms[0].Fields[1].Options)
	}
}

func TestCollectForms_SecondFormWithoutID(t *testing.T) {
	page := browsertest.NewPage()
	page.OnEvaluate = func(script string, arg any) (any, error) {
		return []any{
			map[string]any{
				"selector": "", "index": 0,
				"fields": []any{map[string]any{"tag": "input", "type": "search", "name": "q", "selectors": []any{"input[name=\"q\"]"}}},
			},
			map[string]any{
				"selector": "", "index": 1,
				"fields": []any{
					map[string]any{"tag": "input", "type": "email", "name": "email", "selectors": []any{"div:nth-of-type(2) > form > input"}},
					map[string]any{"tag": "input", "type": "radio", "name": "freq", "value": "never",
						"selectors": []any{"input[name=\"freq\"][value=\"never\"]", "div:nth-of-type(2) > form > label > input"}},
					map[string]any{"tag": "select", "name": "reason", "id": "reason", "selectors": []any{"#reason"}},
				},
			},
		}, nil
	}

	forms, err := snapshot.CollectForms(context.Background(), page)
	if err != nil {
		t.Fatalf("CollectForms failed: %v", err)
	}
	if len(forms) != 2 {
		t.Fatalf("expected 2 forms, got %d", len(forms))
	}
	if forms[0].Selector != "form >> nth=0" || forms[1].Selector != "form >> nth=1" {
		t.Fatalf("unexpected form selectors %q, %q", forms[0].Selector, forms[1].Selector)
	}

	fields := forms[1].Fields
	if got := fields[0].Selector(); got != `form >> nth=1 >> input[name="email"]` {
		t.Errorf("email: got %q", got)
	}
	wantRadio := []string{
		`form >> nth=1 >> input[name="freq"]`,
		`form >> nth=1 >> input[name="freq"][value="never"]`,
		"div:nth-of-type(2) > form > label > input",
	}
	if strings.Join(fields[1].Selectors, "|") != strings.Join(wantRadio, "|") {
		t.Errorf("radio: got %q", fields[1].Selectors)
	}
	if got := fields[2].Selectors; len(got) != 2 || got[0] != "#reason" || got[1] != `form >> nth=1 >> select[name="reason"]` {
		t.Errorf("select: got %q", got)
	}
}

func TestCollect_FormSelectorIndexesDocument(t *testing.T) {
	page := browsertest.NewPage()
	page.OnEvaluate = func(script string, arg any) (any, error) {
		return map[string]any{"forms": []any{
			map[string]any{"selector": "#newsletter", "index": 0},
			map[string]any{"selector": "", "index": 1},
		}}, nil
	}

	s, err := snapshot.Collect(context.Background(), page)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if s.Forms[0].Selector != "#newsletter" || s.Forms[1].Selector != "form >> nth=1" {
		t.Errorf("unexpected form selectors %q, %q", s.Forms[0].Selector, s.Forms[1].Selector)
	}
}

func TestWithin(t *testing.T) {
	cases := []struct{ form, want string }{
		{"#optout", `#optout input[name="e"]`},
		{"form >> nth=2", `form >> nth=2 >> input[name="e"]`},
		{"body", `input[name="e"]`},
		{"", `input[name="e"]`},
	}
	for _, tc := range cases {
		if got := snapshot.Within(tc.form, `input[name="e"]`); got != tc.want {
			t.Errorf("Within(%q) = %q, want %q", tc.form, got, tc.want)
		}
	}
}
