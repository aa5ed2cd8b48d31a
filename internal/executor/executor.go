package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/browser"
	"github.com/polzovatel/unsubscribe-agent/internal/plan"
	"github.com/polzovatel/unsubscribe-agent/internal/snapshot"
)

const (
	defaultWaitTimeout = 3 * time.Second
	defaultPause       = 300 * time.Millisecond
	submitKey          = "Enter"
)

// genericSubmitSelectors are tried when the planned submit control is missing.
var genericSubmitSelectors = plan.Selectors{
	`button[type="submit"]`,
	`input[type="submit"]`,
	`button:has-text("Unsubscribe")`,
	`button:has-text("Confirm")`,
	`button:has-text("Submit")`,
	`button:has-text("Save")`,
	`[role="button"]:has-text("Unsubscribe")`,
}

// Method names how the terminal step of a plan was carried out.
type Method string

const (
	MethodClick    Method = "click"
	MethodSubmit   Method = "submit"
	MethodGeneric  Method = "generic_submit"
	MethodKeyboard Method = "keyboard"
)

// Report describes what the executor did to the page.
type Report struct {
	Applied       bool
	Matched       string
	Method        Method
	FieldsApplied int
	FieldsFailed  int
}

type Config struct {
	WaitTimeout time.Duration
	Pause       time.Duration
}

type Executor struct {
	cfg    Config
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, logger zerolog.Logger) *Executor {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	// Zero means the default pause; negative disables it.
	if cfg.Pause == 0 {
		cfg.Pause = defaultPause
	} else if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	return &Executor{cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Execute applies p to the page. The returned error means the terminal
// click/submit never succeeded; individual field failures are only counted.
func (e *Executor) Execute(ctx context.Context, page browser.Controller, p plan.Plan) (Report, error) {
	switch {
	case p.Strategy == plan.DirectClick && p.Direct != nil:
		return e.direct(ctx, page, *p.Direct)
	case p.IsForm() && p.Form != nil:
		return e.form(ctx, page, *p.Form)
	default:
		return Report{}, fmt.Errorf("execute: %w", plan.ErrInvalid)
	}
}

func (e *Executor) direct(ctx context.Context, page browser.Controller, d plan.DirectAction) (Report, error) {
	matched, err := TryEach(ctx, d.Candidates(), func(ctx context.Context, sel string) error {
		return e.clickVisible(ctx, page, sel)
	})
	if err != nil {
		return Report{}, fmt.Errorf("direct click: %w", err)
	}
	e.logger.Info().Str("selector", matched).Msg("clicked unsubscribe target")
	return Report{Applied: true, Matched: matched, Method: MethodClick}, nil
}

// clickVisible waits briefly for sel, scrolls it into view, pauses and clicks.
func (e *Executor) clickVisible(ctx context.Context, page browser.Controller, sel string) error {
	if err := page.WaitFor(ctx, sel, e.cfg.WaitTimeout); err != nil {
		return err
	}
	if err := page.ScrollIntoView(ctx, sel); err != nil {
		e.logger.Debug().Err(err).Str("selector", sel).Msg("scroll into view")
	}
	if err := e.sleep(ctx, e.cfg.Pause); err != nil {
		return err
	}
	return page.Click(ctx, sel)
}

func (e *Executor) form(ctx context.Context, page browser.Controller, f plan.FormAction) (Report, error) {
	var rep Report
	for _, fa := range f.FieldActions {
		if err := e.applyField(ctx, page, fa); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rep, ctxErr
			}
			rep.FieldsFailed++
			e.logger.Warn().Err(err).
				Str("field", fa.FieldName).
				Str("action", string(fa.Action)).
				Str("selector", fa.Selector).
				Msg("field action failed, skipping")
			continue
		}
		rep.FieldsApplied++
	}

	if f.SubmitAction.Selector != "" {
		matched, err := TryEach(ctx, plan.Selectors{f.SubmitAction.Selector}, func(ctx context.Context, sel string) error {
			if err := page.WaitFor(ctx, sel, e.cfg.WaitTimeout); err != nil {
				return err
			}
			if f.SubmitAction.Action == plan.SubmitForm {
				return page.SubmitForm(ctx, sel)
			}
			return e.clickVisible(ctx, page, sel)
		})
		if err == nil {
			rep.Applied, rep.Matched = true, matched
			rep.Method = MethodClick
			if f.SubmitAction.Action == plan.SubmitForm {
				rep.Method = MethodSubmit
			}
			return rep, nil
		}
		e.logger.Warn().Err(err).Msg("planned submit failed, trying generic submit controls")
	}

	matched, err := TryEach(ctx, submitCandidates(f.FormSelector), func(ctx context.Context, sel string) error {
		return e.clickVisible(ctx, page, sel)
	})
	if err == nil {
		rep.Applied, rep.Matched, rep.Method = true, matched, MethodGeneric
		return rep, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return rep, ctxErr
	}

	e.logger.Warn().Err(err).Msg("no submit control found, pressing submit key")
	if pressErr := page.Press(ctx, submitKey); pressErr != nil {
		return rep, fmt.Errorf("submit: %w", errors.Join(err, pressErr))
	}
	rep.Applied, rep.Matched, rep.Method = true, submitKey, MethodKeyboard
	return rep, nil
}

// submitCandidates tries the generic submit controls inside form before the
// ones anywhere on the page.
func submitCandidates(form string) plan.Selectors {
	out := make(plan.Selectors, 0, 2*len(genericSubmitSelectors))
	if form != "" && form != "body" {
		for _, sel := range genericSubmitSelectors {
			out = append(out, snapshot.Within(form, sel))
		}
	}
	return append(out, genericSubmitSelectors...)
}

func (e *Executor) applyField(ctx context.Context, page browser.Controller, fa plan.FieldAction) error {
	sel := sanitizeSelector(fa.Selector)
	if sel == "" {
		return ErrNoSelectors
	}
	if err := page.WaitFor(ctx, sel, e.cfg.WaitTimeout); err != nil {
		return err
	}
	switch fa.Action {
	case plan.Fill:
		return page.Fill(ctx, sel, fa.Value)
	case plan.Select:
		return page.SelectOption(ctx, sel, fa.Value)
	case plan.Check, plan.Uncheck:
		want := fa.Action == plan.Check
		checked, err := page.IsChecked(ctx, sel)
		if err != nil {
			return err
		}
		if checked == want {
			return nil
		}
		return page.Click(ctx, sel)
	case plan.Click:
		return page.Click(ctx, sel)
	default:
		return fmt.Errorf("unknown action %q", fa.Action)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
