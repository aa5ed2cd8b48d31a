package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 3 * time.Second

	realisticUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"
	acceptLanguage     = "en-US,en;q=0.9"
)

// blockedResources never matter for opting out and slow every page down.
var blockedResources = map[string]bool{
	"image":      true,
	"font":       true,
	"stylesheet": true,
	"media":      true,
}

// Controller exposes the page operations the unsubscribe pipeline needs.
// One Controller is one ephemeral browsing context owned by a single task.
type Controller interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	ScrollIntoView(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	IsChecked(ctx context.Context, selector string) (bool, error)
	SubmitForm(ctx context.Context, selector string) error
	Press(ctx context.Context, key string) error
	WaitForSettle(ctx context.Context, timeout time.Duration) error
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	InnerText(ctx context.Context, selector string) (string, error)
	Title(ctx context.Context) (string, error)
	URL() string
	Screenshot(ctx context.Context, path string) error
	Close(ctx context.Context) error
}

// PageOptions configures the identity of new pages.
type PageOptions struct {
	UserAgent      string
	AcceptLanguage string
	ActionTimeout  time.Duration
	BlockResources bool
}

func DefaultPageOptions() PageOptions {
	return PageOptions{
		UserAgent:      realisticUserAgent,
		AcceptLanguage: acceptLanguage,
		ActionTimeout:  defaultActionTimeout,
		BlockResources: true,
	}
}

// NavError reports a navigation that did not reach a 2xx document.
type NavError struct {
	URL     string
	Status  int
	Message string
	Timeout bool
	Err     error
}

func (e *NavError) Error() string {
	switch {
	case e.Status > 0:
		return fmt.Sprintf("navigate %s: HTTP %d %s", e.URL, e.Status, strings.TrimSpace(e.Message))
	case e.Timeout:
		return fmt.Sprintf("navigate %s: timed out: %s", e.URL, e.Message)
	default:
		return fmt.Sprintf("navigate %s: %s", e.URL, e.Message)
	}
}

func (e *NavError) Unwrap() error { return e.Err }

type controller struct {
	context       playwright.BrowserContext
	page          playwright.Page
	actionTimeout time.Duration
}

func newController(bctx playwright.BrowserContext, opts PageOptions) (*controller, error) {
	if opts.BlockResources {
		err := bctx.Route("**/*", func(route playwright.Route) {
			if blockedResources[route.Request().ResourceType()] {
				_ = route.Abort()
				return
			}
			_ = route.Continue()
		})
		if err != nil {
			return nil, wrap(err)
		}
	}
	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", wrap(err))
	}
	if opts.AcceptLanguage != "" {
		if err := page.SetExtraHTTPHeaders(map[string]string{"Accept-Language": opts.AcceptLanguage}); err != nil {
			_ = page.Close()
			return nil, wrap(err)
		}
	}
	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &controller{context: bctx, page: page, actionTimeout: timeout}, nil
}

func (c *controller) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}
	// domcontentloaded instead of networkidle: unsubscribe pages often keep
	// analytics connections open forever.
	resp, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return &NavError{
			URL:     url,
			Message: err.Error(),
			Timeout: errors.Is(err, playwright.ErrTimeout),
			Err:     wrap(err),
		}
	}
	if resp != nil {
		if status := resp.Status(); status < 200 || status > 299 {
			return &NavError{URL: url, Status: status, Message: resp.StatusText()}
		}
	}
	return nil
}

func (c *controller) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = c.actionTimeout
	}
	return wrap(c.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func (c *controller) ScrollIntoView(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Locator(selector).First().ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: c.timeoutMs(),
	}))
}

func (c *controller) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// First() avoids strict mode violations when several elements match.
	return wrap(c.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: c.timeoutMs(),
	}))
}

func (c *controller) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.Locator(selector).First()
	if err := loc.Clear(playwright.LocatorClearOptions{Timeout: c.timeoutMs()}); err != nil {
		return wrap(err)
	}
	return wrap(loc.Fill(value, playwright.LocatorFillOptions{Timeout: c.timeoutMs()}))
}

func (c *controller) SelectOption(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.Locator(selector).First()
	_, err := loc.SelectOption(playwright.SelectOptionValues{
		Values: &[]string{value},
	}, playwright.LocatorSelectOptionOptions{Timeout: c.timeoutMs()})
	if err == nil {
		return nil
	}
	// Models sometimes answer with the visible label instead of the value.
	_, labelErr := loc.SelectOption(playwright.SelectOptionValues{
		Labels: &[]string{value},
	}, playwright.LocatorSelectOptionOptions{Timeout: c.timeoutMs()})
	if labelErr == nil {
		return nil
	}
	return wrap(err)
}

func (c *controller) IsChecked(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	checked, err := c.page.Locator(selector).First().IsChecked(playwright.LocatorIsCheckedOptions{
		Timeout: c.timeoutMs(),
	})
	return checked, wrap(err)
}

// SubmitForm submits the form owning selector (or the form itself).
func (c *controller) SubmitForm(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	script := `(el) => {
		const form = el.tagName === "FORM" ? el : el.closest("form");
		if (!form) throw new Error("no enclosing form");
		if (form.requestSubmit) { form.requestSubmit(); } else { form.submit(); }
		return true;
	}`
	_, err := c.page.Locator(selector).First().Evaluate(script, nil, playwright.LocatorEvaluateOptions{
		Timeout: c.timeoutMs(),
	})
	return wrap(err)
}

func (c *controller) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Keyboard().Press(key))
}

func (c *controller) WaitForSettle(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = c.actionTimeout
	}
	return wrap(c.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func (c *controller) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, err := c.page.Evaluate(script, arg)
	return val, wrap(err)
}

func (c *controller) InnerText(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, err := c.page.InnerText(selector, playwright.PageInnerTextOptions{Timeout: c.timeoutMs()})
	return val, wrap(err)
}

func (c *controller) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := c.page.Title()
	return title, wrap(err)
}

func (c *controller) URL() string {
	return c.page.URL()
}

func (c *controller) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return wrap(err)
}

// Close tears down the page and its browsing context. It ignores ctx so that
// deferred cleanup still runs after cancellation.
func (c *controller) Close(ctx context.Context) error {
	_ = ctx
	if c.page != nil {
		_ = c.page.Close()
	}
	if c.context != nil {
		return wrap(c.context.Close())
	}
	return nil
}

func (c *controller) timeoutMs() *float64 {
	return playwright.Float(float64(c.actionTimeout.Milliseconds()))
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
