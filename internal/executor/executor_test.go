package executor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/browser/browsertest"
	"github.com/polzovatel/unsubscribe-agent/internal/plan"
)

func newTestExecutor() *Executor {
	return New(Config{Pause: -1}, zerolog.Nop())
}

func TestTryEach_StopsAtFirstSuccess(t *testing.T) {
	var tried []string
	matched, err := TryEach(context.Background(), plan.Selectors{"#a", " #b\n", "#c"}, func(_ context.Context, sel string) error {
		tried = append(tried, sel)
		if sel == "#b" {
			return nil
		}
		return errors.New("missing")
	})
	if err != nil {
		t.Fatalf("TryEach failed: %v", err)
	}
	if matched != "#b" {
		t.Errorf("expected #b, got %q", matched)
	}
	if !reflect.DeepEqual(tried, []string{"#a", "#b"}) {
		t.Errorf("unexpected try order %v", tried)
	}
}

func TestTryEach_ReturnsLastError(t *testing.T) {
	_, err := TryEach(context.Background(), plan.Selectors{"#a", "#b"}, func(_ context.Context, sel string) error {
		return errors.New("gone " + sel)
	})
	if err == nil || err.Error() != "#b: gone #b" {
		t.Errorf("expected last error, got %v", err)
	}
	if _, err := TryEach(context.Background(), plan.Selectors{"", "  "}, nil); !errors.Is(err, ErrNoSelectors) {
		t.Errorf("expected ErrNoSelectors, got %v", err)
	}
}

func TestExecute_DirectUsesFallbackSelector(t *testing.T) {
	page := browsertest.NewPage().With("#fallback-1", browsertest.Element{})
	p := plan.Plan{Strategy: plan.DirectClick, Direct: &plan.DirectAction{
		TargetSelector:    "#missing",
		FallbackSelectors: plan.Selectors{"#fallback-1", "#fallback-2"},
	}}

	rep, err := newTestExecutor().Execute(context.Background(), page, p)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !rep.Applied || rep.Matched != "#fallback-1" {
		t.Errorf("expected fallback match, got %+v", rep)
	}
	for _, call := range page.CallLog() {
		if call == "click:#fallback-2" {
			t.Error("executor kept trying after a successful click")
		}
	}
}

func TestExecute_DirectAllFail(t *testing.T) {
	page := browsertest.NewPage().With("#broken", browsertest.Element{ClickErr: errors.New("detached")})
	p := plan.Plan{Strategy: plan.DirectClick, Direct: &plan.DirectAction{
		TargetSelector:    "#missing",
		FallbackSelectors: plan.Selectors{"#broken"},
	}}
	rep, err := newTestExecutor().Execute(context.Background(), page, p)
	if err == nil {
		t.Fatal("expected failure")
	}
	if rep.Applied {
		t.Error("report should not be applied")
	}
}

func TestExecute_FormFieldsAndSubmit(t *testing.T) {
	page := browsertest.NewPage().
		With("#email", browsertest.Element{}).
		With("#reason", browsertest.Element{Options: []string{"never", "weekly"}}).
		With("#confirm", browsertest.Element{Checkbox: true}).
		With("#newsletter", browsertest.Element{Checkbox: true, Checked: true}).
		With("#already", browsertest.Element{Checkbox: true, Checked: true}).
		With("#go", browsertest.Element{})

	p := plan.Plan{Strategy: plan.FormFill, Form: &plan.FormAction{
		FieldActions: []plan.FieldAction{
			{FieldName: "email", Action: plan.Fill, Value: "me@example.com", Selector: "#email"},
			{FieldName: "reason", Action: plan.Select, Value: "never", Selector: "#reason"},
			{FieldName: "confirm", Action: plan.Check, Selector: "#confirm"},
			{FieldName: "newsletter", Action: plan.Uncheck, Selector: "#newsletter"},
			{FieldName: "already", Action: plan.Check, Selector: "#already"},
			{FieldName: "ghost", Action: plan.Fill, Value: "x", Selector: "#ghost"},
		},
		SubmitAction: plan.SubmitAction{Selector: "#go", Action: plan.SubmitClick},
	}}

	rep, err := newTestExecutor().Execute(context.Background(), page, p)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rep.FieldsApplied != 5 || rep.FieldsFailed != 1 {
		t.Errorf("expected 5 applied / 1 failed, got %+v", rep)
	}
	if rep.Matched != "#go" || rep.Method != MethodClick {
		t.Errorf("unexpected submit %+v", rep)
	}
	if page.Element("#email").Value != "me@example.com" {
		t.Error("email not filled")
	}
	if page.Element("#reason").Value != "never" {
		t.Error("reason not selected")
	}
	if !page.Element("#confirm").Checked || page.Element("#newsletter").Checked {
		t.Error("checkbox state not reconciled")
	}
	if !page.Element("#already").Checked {
		t.Error("already-checked box must not be toggled off")
	}
}

func TestExecute_FormSubmitAction(t *testing.T) {
	page := browsertest.NewPage().With("#prefs", browsertest.Element{})
	p := plan.Plan{Strategy: plan.FormFill, Form: &plan.FormAction{
		SubmitAction: plan.SubmitAction{Selector: "#prefs", Action: plan.SubmitForm},
	}}
	rep, err := newTestExecutor().Execute(context.Background(), page, p)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rep.Method != MethodSubmit {
		t.Errorf("expected form-level submit, got %+v", rep)
	}
}

func TestExecute_FormFallsBackToGenericSubmit(t *testing.T) {
	page := browsertest.NewPage().With(`input[type="submit"]`, browsertest.Element{})
	p := plan.Plan{Strategy: plan.FormFill, Form: &plan.FormAction{
		SubmitAction: plan.SubmitAction{Selector: "#gone", Action: plan.SubmitClick},
	}}
	rep, err := newTestExecutor().Execute(context.Background(), page, p)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rep.Method != MethodGeneric || rep.Matched != `input[type="submit"]` {
		t.Errorf("expected generic submit, got %+v", rep)
	}
}

func TestExecute_GenericSubmitPrefersPlannedForm(t *testing.T) {
	page := browsertest.NewPage().
		With(`button[type="submit"]`, browsertest.Element{}).
		With(`form >> nth=1 >> button[type="submit"]`, browsertest.Element{})
	p := plan.Plan{Strategy: plan.FormFill, Form: &plan.FormAction{
		FormSelector: "form >> nth=1",
		SubmitAction: plan.SubmitAction{Selector: "#gone", Action: plan.SubmitClick},
	}}
	rep, err := newTestExecutor().Execute(context.Background(), page, p)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rep.Matched != `form >> nth=1 >> button[type="submit"]` {
		t.Errorf("expected submit inside the planned form, got %+v", rep)
	}
}

func TestExecute_FormPressesEnterAsLastResort(t *testing.T) {
	page := browsertest.NewPage().With("#email", browsertest.Element{})
	p := plan.Plan{Strategy: plan.MultiStep, Form: &plan.FormAction{
		FieldActions: []plan.FieldAction{{Action: plan.Fill, Value: "me@example.com", Selector: "#email"}},
	}}
	rep, err := newTestExecutor().Execute(context.Background(), page, p)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rep.Method != MethodKeyboard {
		t.Errorf("expected keyboard submit, got %+v", rep)
	}
	calls := page.CallLog()
	if calls[len(calls)-1] != "press:Enter" {
		t.Errorf("expected Enter as final call, got %v", calls)
	}
}

func TestExecute_InvalidPlan(t *testing.T) {
	_, err := newTestExecutor().Execute(context.Background(), browsertest.NewPage(), plan.Plan{Strategy: plan.DirectClick})
	if !errors.Is(err, plan.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestSanitizeSelector(t *testing.T) {
	tests := map[string]string{
		"  a[href*=\"unsubscribe\"]\n": `a[href*="unsubscribe"]`,
		"`#confirm`":                  "#confirm",
		"'#x'":                        "#x",
		"button\t\t.primary":          "button .primary",
		"":                            "",
	}
	for in, want := range tests {
		if got := sanitizeSelector(in); got != want {
			t.Errorf("sanitizeSelector(%q) = %q, want %q", in, got, want)
		}
	}
}
