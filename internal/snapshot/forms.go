package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/polzovatel/unsubscribe-agent/internal/browser"
)

// Field is one form control with everything the form planner may need.
type Field struct {
	Tag         string   `json:"tag"`
	Type        string   `json:"type,omitempty"`
	Name        string   `json:"name,omitempty"`
	ID          string   `json:"id,omitempty"`
	Label       string   `json:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Value       string   `json:"value,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Hidden      bool     `json:"hidden,omitempty"`
	Checked     bool     `json:"checked,omitempty"`
	Selectors   []string `json:"selectors"`
	Options     []Option `json:"options,omitempty"`
}

// Selector returns the preferred selector for the field.
func (f Field) Selector() string {
	if len(f.Selectors) == 0 {
		return ""
	}
	return f.Selectors[0]
}

// FormStructure is the full description of one form. Controls outside any
// <form> are grouped into a pseudo-form whose selector is "body".
type FormStructure struct {
	Selector string    `json:"selector"`
	Index    int       `json:"index"`
	Action   string    `json:"action,omitempty"`
	Method   string    `json:"method,omitempty"`
	Fields   []Field   `json:"fields"`
	Submits  []Element `json:"submits"`
}

const maxFieldsPerForm = 40

// FormSelector addresses the form at index among all forms in the document.
// :nth-of-type would count siblings and miss forms in separate wrappers.
func FormSelector(index int) string {
	return fmt.Sprintf("form >> nth=%d", index)
}

// Within scopes sub to the elements inside form.
func Within(form, sub string) string {
	switch {
	case form == "" || form == "body":
		return sub
	case strings.Contains(form, ">>"):
		return form + " >> " + sub
	default:
		return form + " " + sub
	}
}

// IsIDSelector reports whether s addresses a single element by id alone.
func IsIDSelector(s string) bool {
	return strings.HasPrefix(s, "#") && !strings.ContainsAny(s, " >[")
}

// withNameCandidate adds the form-scoped name selector right after the id
// selector, when the field has a name. Name+value candidates of radios and
// checkboxes are scoped to the form as well.
func withNameCandidate(f Field, form string) []string {
	if f.Name == "" || f.Tag == "" {
		return f.Selectors
	}
	byName := f.Tag + `[name="` + strings.ReplaceAll(f.Name, `"`, `\"`) + `"]`
	sels := make([]string, 0, len(f.Selectors)+1)
	for _, s := range f.Selectors {
		if strings.HasPrefix(s, byName+"[value=") {
			s = Within(form, s)
		}
		sels = append(sels, s)
	}
	scoped := Within(form, byName)
	for _, s := range sels {
		if s == scoped {
			return sels
		}
	}
	pos := 0
	if len(sels) > 0 && IsIDSelector(sels[0]) {
		pos = 1
	}
	out := make([]string, 0, len(sels)+1)
	out = append(out, sels[:pos]...)
	out = append(out, scoped)
	return append(out, sels[pos:]...)
}

// CollectForms extracts the full form structure. It is more expensive than
// Collect and only runs when a form-based plan was chosen.
func CollectForms(ctx context.Context, ctrl browser.Controller) ([]FormStructure, error) {
	val, err := ctrl.Evaluate(ctx, formScript, map[string]any{
		"forms":   MaxForms,
		"fields":  maxFieldsPerForm,
		"options": MaxOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("collect forms: %w", err)
	}
	var forms []FormStructure
	if err := decode(val, &forms); err != nil {
		return nil, fmt.Errorf("decode forms: %w", err)
	}
	for i := range forms {
		if forms[i].Selector == "" {
			forms[i].Selector = FormSelector(forms[i].Index)
		}
		for j := range forms[i].Fields {
			forms[i].Fields[j].Selectors = withNameCandidate(forms[i].Fields[j], forms[i].Selector)
		}
	}
	forms = capSlice(forms, MaxForms)
	for i := range forms {
		forms[i].Fields = capSlice(forms[i].Fields, maxFieldsPerForm)
		for j := range forms[i].Fields {
			forms[i].Fields[j].Options = capSlice(forms[i].Fields[j].Options, MaxOptions)
		}
	}
	return forms, nil
}

const formScript = `(lim) => {` + selectorHelpers + `
	function candidates(el) {
		const tag = el.tagName.toLowerCase();
		const out = [];
		if (el.id) out.push("#" + esc(el.id));
		const name = el.getAttribute("name");
		if (name && (el.type === "radio" || el.type === "checkbox")) {
			const n = name.replace(/"/g, "\\\"");
			out.push(tag + "[name=\"" + n + "\"][value=\"" + String(el.value).replace(/"/g, "\\\"") + "\"]");
		}
		const path = selectorFor(el);
		if (!out.includes(path)) out.push(path);
		return out;
	}
	function describe(root) {
		const fields = [];
		const submits = [];
		for (const el of root.querySelectorAll("input,select,textarea")) {
			if (fields.length >= lim.fields) break;
			const type = (el.getAttribute("type") || (el.tagName === "INPUT" ? "text" : "")).toLowerCase();
			if (type === "submit" || type === "image") continue;
			const f = {
				tag: el.tagName.toLowerCase(),
				type,
				name: el.getAttribute("name") || "",
				id: el.id || "",
				label: labelFor(el),
				placeholder: el.getAttribute("placeholder") || "",
				value: type === "password" ? "" : String(el.value || "").slice(0, 120),
				required: !!el.required,
				hidden: isHidden(el),
				checked: !!el.checked,
				selectors: candidates(el),
			};
			if (el.tagName === "SELECT") {
				f.options = Array.from(el.options).slice(0, lim.options).map(o => ({value: o.value, text: clean(o.text)}));
			}
			fields.push(f);
		}
		for (const b of root.querySelectorAll("button, input[type=submit], input[type=image], [role=button]")) {
			if (isHidden(b)) continue;
			const type = (b.getAttribute("type") || (b.tagName === "BUTTON" ? "submit" : "")).toLowerCase();
			submits.push({tag: b.tagName.toLowerCase(), type, text: clean(b.innerText || b.value || b.getAttribute("aria-label")), selector: selectorFor(b)});
		}
		return {fields, submits};
	}
	const out = [];
	Array.from(document.forms).slice(0, lim.forms).forEach((f, i) => {
		const d = describe(f);
		out.push({selector: f.id ? "#" + esc(f.id) : "", index: i, action: f.getAttribute("action") || "", method: (f.getAttribute("method") || "get").toLowerCase(), fields: d.fields, submits: d.submits});
	});
	if (out.length === 0) {
		const d = describe(document.body);
		if (d.fields.length || d.submits.length) out.push({selector: "body", fields: d.fields, submits: d.submits});
	}
	return out;
}`
