package plan

import (
	"errors"
	"reflect"
	"testing"
)

func TestSelectorsCompact(t *testing.T) {
	got := Selectors{" #a ", "", "#b", "#a", "  "}.Compact()
	want := Selectors{"#a", "#b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestDirectCandidatesOrder(t *testing.T) {
	d := DirectAction{TargetSelector: "#target", FallbackSelectors: Selectors{"#one", "#target", "#two"}}
	want := Selectors{"#target", "#one", "#two"}
	if got := d.Candidates(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		plan  Plan
		valid bool
	}{
		{"direct ok", Plan{Strategy: DirectClick, Direct: &DirectAction{TargetSelector: "#u"}}, true},
		{"direct empty", Plan{Strategy: DirectClick, Direct: &DirectAction{}}, false},
		{"direct missing", Plan{Strategy: DirectClick}, false},
		{"unknown strategy", Plan{Strategy: "teleport"}, false},
		{"form ok", Plan{Strategy: FormFill, Form: &FormAction{
			FieldActions: []FieldAction{{Action: Fill, Selector: "#email", Value: "a@b.c"}},
			SubmitAction: SubmitAction{Selector: "#go", Action: SubmitClick},
		}}, true},
		{"form bad action", Plan{Strategy: FormFill, Form: &FormAction{
			FieldActions: []FieldAction{{Action: "hover", Selector: "#x"}},
		}}, false},
		{"select needs value", Plan{Strategy: MultiStep, Form: &FormAction{
			FieldActions: []FieldAction{{Action: Select, Selector: "#reason"}},
		}}, false},
		{"bad submit", Plan{Strategy: FormFill, Form: &FormAction{SubmitAction: SubmitAction{Action: "press"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
