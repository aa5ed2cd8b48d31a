// Package browsertest provides in-memory stand-ins for the playwright-backed
// browser so the pipeline can be tested without Chromium.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/polzovatel/unsubscribe-agent/internal/browser"
)

// Element is one selector-addressable node of a fake page.
type Element struct {
	Checkbox bool
	Checked  bool
	Value    string
	Options  []string
	ClickErr error
	FillErr  error
}

// Page is a scriptable browser.Controller.
type Page struct {
	mu sync.Mutex

	Elements      map[string]*Element
	NavErr        error
	CurrentURL    string
	PageTitle     string
	BodyText      string
	ScreenshotErr error

	// OnClick runs after a successful click, letting tests mutate the page
	// the way a real confirmation would.
	OnClick    func(p *Page, selector string)
	OnEvaluate func(script string, arg any) (any, error)

	Calls  []string
	closes int
}

func NewPage() *Page {
	return &Page{Elements: map[string]*Element{}}
}

// With registers an element under selector and returns the page for chaining.
func (p *Page) With(selector string, el Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := el
	p.Elements[selector] = &e
	return p
}

func (p *Page) Element(selector string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Elements[selector]
}

func (p *Page) record(call string) {
	p.Calls = append(p.Calls, call)
}

// CallLog returns a copy of the recorded calls.
func (p *Page) CallLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Calls...)
}

func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Page) lookup(selector string) (*Element, error) {
	el, ok := p.Elements[selector]
	if !ok {
		return nil, fmt.Errorf("selector %q not found", selector)
	}
	return el, nil
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate:" + url)
	if p.NavErr != nil {
		return p.NavErr
	}
	if p.CurrentURL == "" {
		p.CurrentURL = url
	}
	return nil
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("wait:" + selector)
	_, err := p.lookup(selector)
	return err
}

func (p *Page) ScrollIntoView(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.lookup(selector)
	return err
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	p.record("click:" + selector)
	el, err := p.lookup(selector)
	if err == nil && el.ClickErr != nil {
		err = el.ClickErr
	}
	if err == nil && el.Checkbox {
		el.Checked = !el.Checked
	}
	hook := p.OnClick
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(p, selector)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("fill:" + selector + "=" + value)
	el, err := p.lookup(selector)
	if err != nil {
		return err
	}
	if el.FillErr != nil {
		return el.FillErr
	}
	el.Value = value
	return nil
}

func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("select:" + selector + "=" + value)
	el, err := p.lookup(selector)
	if err != nil {
		return err
	}
	if len(el.Options) > 0 {
		found := false
		for _, o := range el.Options {
			if o == value {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("option %q not available", value)
		}
	}
	el.Value = value
	return nil
}

func (p *Page) IsChecked(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(selector)
	if err != nil {
		return false, err
	}
	return el.Checked, nil
}

func (p *Page) SubmitForm(ctx context.Context, selector string) error {
	p.mu.Lock()
	p.record("submit:" + selector)
	_, err := p.lookup(selector)
	hook := p.OnClick
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(p, selector)
	}
	return nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("press:" + key)
	return nil
}

func (p *Page) WaitForSettle(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	p.mu.Lock()
	hook := p.OnEvaluate
	p.mu.Unlock()
	if hook == nil {
		return nil, nil
	}
	return hook(script, arg)
}

func (p *Page) InnerText(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if selector == "body" {
		return p.BodyText, nil
	}
	el, err := p.lookup(selector)
	if err != nil {
		return "", err
	}
	return el.Value, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageTitle, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot")
	return p.ScreenshotErr
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// Opener hands out fake pages and counts opens and closes.
type Opener struct {
	mu      sync.Mutex
	NewPage func() *Page
	OpenErr error
	pages   []*Page
}

func (o *Opener) OpenPage(ctx context.Context) (browser.Controller, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	var p *Page
	if o.NewPage != nil {
		p = o.NewPage()
	} else {
		p = NewPage()
	}
	o.pages = append(o.pages, p)
	return p, nil
}

func (o *Opener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pages)
}

func (o *Opener) Closed() int {
	o.mu.Lock()
	pages := append([]*Page(nil), o.pages...)
	o.mu.Unlock()
	total := 0
	for _, p := range pages {
		total += p.Closes()
	}
	return total
}

// Driver is a fake browser.Driver. Launches of profiles named in Fail error out.
type Driver struct {
	mu       sync.Mutex
	Fail     map[string]error
	launches []string
	handles  []*Handle
	closed   bool
}

func (d *Driver) Launch(ctx context.Context, p browser.Profile) (browser.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches = append(d.launches, p.Name)
	if err := d.Fail[p.Name]; err != nil {
		return nil, err
	}
	h := &Handle{connected: true}
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) Launches() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.launches...)
}

// Handle returns the i-th launched handle.
func (d *Driver) Handle(i int) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[i]
}

type Handle struct {
	mu        sync.Mutex
	connected bool
	callbacks []func()
	closed    bool
}

func (h *Handle) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Controller, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return nil, fmt.Errorf("browser disconnected")
	}
	return NewPage(), nil
}

func (h *Handle) OnDisconnected(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, fn)
}

func (h *Handle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.connected = false
	return nil
}

// Crash simulates the browser process dying and fires disconnect handlers.
func (h *Handle) Crash() {
	h.mu.Lock()
	h.connected = false
	cbs := append([]func(){}, h.callbacks...)
	h.mu.Unlock()
	for _, fn := range cbs {
		fn()
	}
}
