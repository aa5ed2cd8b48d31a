package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/polzovatel/unsubscribe-agent/internal/browser"
)

// Caps keep planner input bounded on content-heavy pages.
const (
	MaxBodyText     = 2000
	MaxForms        = 5
	MaxFormElements = 20
	MaxButtons      = 20
	MaxLinks        = 15
	MaxCheckboxes   = 10
	MaxSelects      = 10
	MaxOptions      = 15
	maxElementText  = 120
)

// Element is a clickable control (button, submit input, role=button).
type Element struct {
	Tag      string `json:"tag"`
	Type     string `json:"type,omitempty"`
	Text     string `json:"text"`
	Selector string `json:"selector"`
}

// Link is an anchor whose text or href looks like an opt-out target.
type Link struct {
	Text     string `json:"text"`
	Href     string `json:"href"`
	Selector string `json:"selector"`
}

type FormElement struct {
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Selector    string `json:"selector"`
}

type Form struct {
	Selector string        `json:"selector"`
	Index    int           `json:"index"`
	Action   string        `json:"action,omitempty"`
	Method   string        `json:"method,omitempty"`
	Elements []FormElement `json:"elements"`
}

type Checkbox struct {
	Name     string `json:"name,omitempty"`
	ID       string `json:"id,omitempty"`
	Label    string `json:"label,omitempty"`
	Checked  bool   `json:"checked"`
	Selector string `json:"selector"`
}

type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

type Select struct {
	Name     string   `json:"name,omitempty"`
	ID       string   `json:"id,omitempty"`
	Label    string   `json:"label,omitempty"`
	Selector string   `json:"selector"`
	Options  []Option `json:"options"`
}

// Summary is the size-bounded description of a page's interactive surface.
type Summary struct {
	URL        string     `json:"url"`
	Title      string     `json:"title"`
	BodyText   string     `json:"bodyText"`
	Forms      []Form     `json:"forms"`
	Buttons    []Element  `json:"buttons"`
	Links      []Link     `json:"links"`
	Checkboxes []Checkbox `json:"checkboxes"`
	Selects    []Select   `json:"selects"`
}

// ToMap returns summary as a JSON-friendly map.
func (s Summary) ToMap() map[string]any {
	return map[string]any{
		"url":        s.URL,
		"title":      s.Title,
		"bodyText":   s.BodyText,
		"forms":      s.Forms,
		"buttons":    s.Buttons,
		"links":      s.Links,
		"checkboxes": s.Checkboxes,
		"selects":    s.Selects,
	}
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\nFORMS: %d BUTTONS: %d LINKS: %d CHECKBOXES: %d SELECTS: %d\n",
		s.URL, s.Title, len(s.Forms), len(s.Buttons), len(s.Links), len(s.Checkboxes), len(s.Selects))
	for i, l := range s.Links {
		fmt.Fprintf(&b, "link %d) %q -> %s (%s)\n", i+1, l.Text, l.Href, l.Selector)
	}
	for i, el := range s.Buttons {
		fmt.Fprintf(&b, "button %d) %q (%s)\n", i+1, el.Text, el.Selector)
	}
	return b.String()
}

// Collect extracts the Summary of the current page. It only reads the DOM.
func Collect(ctx context.Context, ctrl browser.Controller) (Summary, error) {
	var s Summary
	val, err := ctrl.Evaluate(ctx, pageScript, map[string]any{
		"text":     MaxBodyText,
		"forms":    MaxForms,
		"elements": MaxFormElements,
		"buttons":  MaxButtons,
		"links":    MaxLinks,
		"boxes":    MaxCheckboxes,
		"selects":  MaxSelects,
		"options":  MaxOptions,
	})
	if err != nil {
		return s, fmt.Errorf("collect page: %w", err)
	}
	if err := decode(val, &s); err != nil {
		return s, fmt.Errorf("decode page: %w", err)
	}
	s.Title, _ = ctrl.Title(ctx)
	s.URL = ctrl.URL()
	return bound(s), nil
}

// decode round-trips an Evaluate result through JSON into out.
func decode(val any, out any) error {
	if val == nil {
		return nil
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// bound enforces the caps regardless of what the page script returned.
func bound(s Summary) Summary {
	s.BodyText = truncate(strings.TrimSpace(s.BodyText), MaxBodyText)
	s.Title = truncate(strings.TrimSpace(s.Title), maxElementText)
	s.Forms = capSlice(s.Forms, MaxForms)
	for i := range s.Forms {
		if s.Forms[i].Selector == "" {
			s.Forms[i].Selector = FormSelector(s.Forms[i].Index)
		}
		s.Forms[i].Elements = capSlice(s.Forms[i].Elements, MaxFormElements)
	}
	s.Buttons = capSlice(s.Buttons, MaxButtons)
	for i := range s.Buttons {
		s.Buttons[i].Text = truncate(s.Buttons[i].Text, maxElementText)
	}
	s.Links = capSlice(s.Links, MaxLinks)
	for i := range s.Links {
		s.Links[i].Text = truncate(s.Links[i].Text, maxElementText)
	}
	s.Checkboxes = capSlice(s.Checkboxes, MaxCheckboxes)
	s.Selects = capSlice(s.Selects, MaxSelects)
	for i := range s.Selects {
		s.Selects[i].Options = capSlice(s.Selects[i].Options, MaxOptions)
	}
	return s
}

func capSlice[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

const selectorHelpers = `
	const esc = (v) => (window.CSS && CSS.escape) ? CSS.escape(v) : String(v).replace(/[^a-zA-Z0-9_-]/g, "\\$&");
	const clean = (t) => (t || "").replace(/\s+/g, " ").trim().slice(0, 120);
	function selectorFor(el) {
		const tag = el.tagName.toLowerCase();
		if (el.id) return "#" + esc(el.id);
		const name = el.getAttribute("name");
		if (name) return tag + "[name=\"" + name.replace(/"/g, "\\\"") + "\"]";
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && node !== document.body && parts.length < 5) {
			const t = node.tagName.toLowerCase();
			const sibs = node.parentElement ? Array.from(node.parentElement.children).filter(c => c.tagName === node.tagName) : [];
			parts.unshift(sibs.length > 1 ? t + ":nth-of-type(" + (sibs.indexOf(node) + 1) + ")" : t);
			if (node.id) { parts[0] = "#" + esc(node.id); break; }
			node = node.parentElement;
		}
		return parts.join(" > ");
	}
	function labelFor(el) {
		if (el.labels && el.labels.length) return clean(el.labels[0].innerText);
		const aria = el.getAttribute("aria-label");
		if (aria) return clean(aria);
		const wrap = el.closest("label");
		if (wrap) return clean(wrap.innerText);
		return "";
	}
	function isHidden(el) {
		if (el.type === "hidden") return true;
		const st = window.getComputedStyle(el);
		if (st.display === "none" || st.visibility === "hidden" || Number(st.opacity) === 0) return true;
		const r = el.getBoundingClientRect();
		if (r.width === 0 && r.height === 0) return true;
		if (r.right < 0 || r.bottom < 0) return true;
		return el.getAttribute("aria-hidden") === "true" || el.tabIndex === -1 && /hp|honey|trap|bot/i.test(el.name || el.id || "");
	}
`

const pageScript = `(lim) => {` + selectorHelpers + `
	const out = {bodyText: "", forms: [], buttons: [], links: [], checkboxes: [], selects: []};
	out.bodyText = (document.body ? document.body.innerText : "").slice(0, lim.text);

	const forms = Array.from(document.forms).slice(0, lim.forms);
	forms.forEach((f, i) => {
		const els = Array.from(f.querySelectorAll("input,select,textarea,button")).filter(e => !isHidden(e)).slice(0, lim.elements);
		out.forms.push({
			selector: f.id ? "#" + esc(f.id) : "",
			index: i,
			action: f.getAttribute("action") || "",
			method: (f.getAttribute("method") || "get").toLowerCase(),
			elements: els.map(e => ({
				tag: e.tagName.toLowerCase(),
				type: (e.getAttribute("type") || "").toLowerCase(),
				name: e.getAttribute("name") || "",
				id: e.id || "",
				label: labelFor(e),
				placeholder: e.getAttribute("placeholder") || "",
				selector: selectorFor(e),
			})),
		});
	});

	const buttons = document.querySelectorAll("button, input[type=submit], input[type=button], [role=button]");
	for (const b of buttons) {
		if (out.buttons.length >= lim.buttons) break;
		if (isHidden(b)) continue;
		out.buttons.push({
			tag: b.tagName.toLowerCase(),
			type: (b.getAttribute("type") || "").toLowerCase(),
			text: clean(b.innerText || b.value || b.getAttribute("aria-label")),
			selector: selectorFor(b),
		});
	}

	const optOut = /unsubscribe|opt[\s-]?out|remove|preferences|manage|stop|abmelden|désinscri|darse de baja/i;
	for (const a of document.querySelectorAll("a[href]")) {
		if (out.links.length >= lim.links) break;
		const text = clean(a.innerText);
		const href = a.getAttribute("href") || "";
		if (!optOut.test(text) && !optOut.test(href)) continue;
		out.links.push({text, href: href.slice(0, 300), selector: selectorFor(a)});
	}

	for (const c of document.querySelectorAll("input[type=checkbox]")) {
		if (out.checkboxes.length >= lim.boxes) break;
		if (isHidden(c)) continue;
		out.checkboxes.push({name: c.name || "", id: c.id || "", label: labelFor(c), checked: !!c.checked, selector: selectorFor(c)});
	}

	for (const s of document.querySelectorAll("select")) {
		if (out.selects.length >= lim.selects) break;
		if (isHidden(s)) continue;
		out.selects.push({
			name: s.name || "", id: s.id || "", label: labelFor(s), selector: selectorFor(s),
			options: Array.from(s.options).slice(0, lim.options).map(o => ({value: o.value, text: clean(o.text)})),
		});
	}
	return out;
}`
