// Package agent runs one unsubscribe attempt end to end: claim the task, open
// a page, plan, act, verify and record the outcome.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/browser"
	"github.com/polzovatel/unsubscribe-agent/internal/executor"
	"github.com/polzovatel/unsubscribe-agent/internal/plan"
	"github.com/polzovatel/unsubscribe-agent/internal/snapshot"
	"github.com/polzovatel/unsubscribe-agent/internal/store"
	"github.com/polzovatel/unsubscribe-agent/internal/verify"
)

const (
	MsgSuccess  = "Successfully unsubscribed"
	MsgUnclear  = "completed but success unclear"
	MsgRejected = "page reported an error after the unsubscribe attempt"
)

const defaultSettle = 3 * time.Second

var (
	ErrNoLink      = errors.New("no unsubscribe link")
	ErrInvalidLink = errors.New("invalid unsubscribe link")
)

// PageOpener leases a page from the shared browser.
type PageOpener interface {
	OpenPage(ctx context.Context) (browser.Controller, error)
}

type TaskStore interface {
	Claim(ctx context.Context, emailID, link string) (*store.Task, error)
	Commit(ctx context.Context, emailID string, out store.Outcome) error
	Get(ctx context.Context, emailID string) (*store.Task, error)
}

type EmailLookup interface {
	Lookup(ctx context.Context, id string) (*store.Email, error)
}

type Request struct {
	EmailID   string
	Link      string
	UserEmail string
}

// Result separates "failed with error" (Error set) from "ran to completion
// but unverified" (Outcome Unverified).
type Result struct {
	EmailID         string         `json:"emailId"`
	Success         bool           `json:"success"`
	Outcome         verify.Outcome `json:"outcome"`
	Message         string         `json:"message"`
	Error           string         `json:"error,omitempty"`
	FinalURL        string         `json:"finalUrl,omitempty"`
	ScreenshotPath  string         `json:"screenshotPath,omitempty"`
	Strategy        plan.Strategy  `json:"strategy,omitempty"`
	PlanSource      plan.Source    `json:"planSource,omitempty"`
	MatchedSelector string         `json:"matchedSelector,omitempty"`
}

type Config struct {
	NavTimeout       time.Duration
	SettleTimeout    time.Duration
	ScreenshotDir    string
	DefaultUserEmail string
}

type Deps struct {
	Pages    PageOpener
	Tasks    TaskStore
	Emails   EmailLookup // optional
	Planner  *Planner
	Forms    *FormAgent
	Executor *executor.Executor
}

type Unsubscriber struct {
	cfg    Config
	deps   Deps
	locks  *keyedMutex
	logger zerolog.Logger
}

func New(cfg Config, deps Deps, logger zerolog.Logger) *Unsubscriber {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettle
	}
	if deps.Planner == nil {
		deps.Planner = NewPlanner(nil, logger)
	}
	if deps.Forms == nil {
		deps.Forms = NewFormAgent(nil, logger)
	}
	if deps.Executor == nil {
		deps.Executor = executor.New(executor.Config{}, logger)
	}
	return &Unsubscriber{
		cfg:    cfg,
		deps:   deps,
		locks:  newKeyedMutex(),
		logger: logger.With().Str("comp", "pipeline").Logger(),
	}
}

// Unsubscribe runs one attempt for req.EmailID. Attempts on the same email
// are serialised, and an email whose task already completed is not revisited.
// The error is non-nil only when no attempt could be recorded.
func (u *Unsubscriber) Unsubscribe(ctx context.Context, req Request) (Result, error) {
	req.EmailID = strings.TrimSpace(req.EmailID)
	if req.EmailID == "" {
		return Result{}, fmt.Errorf("unsubscribe: empty email id")
	}
	unlock := u.locks.Lock(req.EmailID)
	defer unlock()

	log := u.logger.With().Str("email_id", req.EmailID).Logger()

	existing, err := u.deps.Tasks.Get(ctx, req.EmailID)
	if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		return Result{}, err
	}
	if existing != nil && existing.Status == store.StatusCompleted {
		log.Info().Msg("task already completed")
		return Result{
			EmailID: req.EmailID,
			Success: true,
			Outcome: verify.Confirmed,
			Message: existing.SuccessMessage,
		}, nil
	}

	link, userEmail, err := u.resolve(ctx, req, existing)
	if err != nil {
		return Result{}, err
	}
	task, err := u.deps.Tasks.Claim(ctx, req.EmailID, link)
	if err != nil {
		return Result{}, err
	}
	log.Info().Int("attempt", task.Attempts).Str("link", link).Msg("unsubscribe attempt")

	start := time.Now()
	res := u.attempt(ctx, log, req.EmailID, link, userEmail)
	res.EmailID = req.EmailID

	out := store.Outcome{Status: store.StatusFailed, ErrorMessage: res.Error}
	if res.Success {
		out = store.Outcome{Status: store.StatusCompleted, SuccessMessage: res.Message}
	} else if out.ErrorMessage == "" {
		out.ErrorMessage = res.Message
	}
	// The outcome is recorded even if the caller went away mid-attempt.
	if err := u.deps.Tasks.Commit(context.WithoutCancel(ctx), req.EmailID, out); err != nil {
		log.Error().Err(err).Msg("failed to record outcome")
		return res, err
	}

	log.Info().
		Bool("success", res.Success).
		Str("outcome", string(res.Outcome)).
		Str("strategy", string(res.Strategy)).
		Dur("took", time.Since(start)).
		Msg("unsubscribe finished")
	return res, nil
}

func (u *Unsubscriber) resolve(ctx context.Context, req Request, existing *store.Task) (string, string, error) {
	link, userEmail := strings.TrimSpace(req.Link), strings.TrimSpace(req.UserEmail)
	if (link == "" || userEmail == "") && u.deps.Emails != nil {
		email, err := u.deps.Emails.Lookup(ctx, req.EmailID)
		switch {
		case err == nil:
			if link == "" {
				link = email.UnsubscribeLink
			}
			if userEmail == "" {
				userEmail = email.UserEmail
			}
		case !errors.Is(err, store.ErrEmailNotFound):
			return "", "", err
		}
	}
	if link == "" && existing != nil {
		link = existing.UnsubscribeLink
	}
	if userEmail == "" {
		userEmail = u.cfg.DefaultUserEmail
	}
	if link == "" {
		return "", "", fmt.Errorf("email %s: %w", req.EmailID, ErrNoLink)
	}
	parsed, err := url.Parse(link)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidLink, link)
	}
	return link, userEmail, nil
}

// attempt owns the page for one try. The page is closed on every path,
// panics included.
func (u *Unsubscriber) attempt(ctx context.Context, log zerolog.Logger, emailID, link, userEmail string) (res Result) {
	page, err := u.deps.Pages.OpenPage(ctx)
	if err != nil {
		return failed(fmt.Sprintf("open page: %v", err), "")
	}
	defer func() {
		if err := page.Close(context.WithoutCancel(ctx)); err != nil {
			log.Debug().Err(err).Msg("close page")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("unsubscribe attempt panicked")
			shot := browser.Capture(context.WithoutCancel(ctx), page, u.cfg.ScreenshotDir, emailID, "panic", log)
			res = failed(fmt.Sprintf("unexpected error: %v", r), shot)
		}
	}()

	if err := page.Navigate(ctx, link, u.cfg.NavTimeout); err != nil {
		shot := browser.Capture(ctx, page, u.cfg.ScreenshotDir, emailID, "nav-error", log)
		return failed(fmt.Sprintf("navigation failed: %v", err), shot)
	}
	browser.Capture(ctx, page, u.cfg.ScreenshotDir, emailID, "before", log)

	summary, err := snapshot.Collect(ctx, page)
	if err != nil {
		log.Warn().Err(err).Msg("page analysis failed, planning from partial snapshot")
	}
	log.Debug().
		Str("url", summary.URL).
		Int("forms", len(summary.Forms)).
		Int("buttons", len(summary.Buttons)).
		Int("links", len(summary.Links)).
		Msg("snapshot")

	pl := u.deps.Planner.Plan(ctx, summary, userEmail)
	if pl.IsForm() {
		pl = u.planForm(ctx, log, page, pl, userEmail)
	}
	res.Strategy, res.PlanSource = pl.Strategy, pl.Source

	report, execErr := u.deps.Executor.Execute(ctx, page, pl)
	if execErr != nil {
		shot := browser.Capture(ctx, page, u.cfg.ScreenshotDir, emailID, "exec-error", log)
		r := failed(fmt.Sprintf("no unsubscribe action succeeded: %v", execErr), shot)
		r.Strategy, r.PlanSource, r.FinalURL = pl.Strategy, pl.Source, page.URL()
		return r
	}
	res.MatchedSelector = report.Matched

	if err := page.WaitForSettle(ctx, u.cfg.SettleTimeout); err != nil {
		log.Debug().Err(err).Msg("page did not settle")
	}

	outcome, signals := verify.Verify(ctx, page)
	res.Outcome = outcome
	res.FinalURL = page.URL()
	res.ScreenshotPath = browser.Capture(ctx, page, u.cfg.ScreenshotDir, emailID, "after", log)
	log.Debug().
		Bool("text", signals.Text).
		Bool("title", signals.Title).
		Bool("url", signals.URL).
		Bool("error", signals.Error).
		Msg("verification signals")

	switch outcome {
	case verify.Confirmed:
		res.Success = true
		res.Message = MsgSuccess
	case verify.Rejected:
		res.Message = MsgRejected
		res.Error = withArtifact(MsgRejected, res.ScreenshotPath)
	default:
		res.Message = MsgUnclear
	}
	return res
}

// planForm collects the full form structure and fills in field actions.
func (u *Unsubscriber) planForm(ctx context.Context, log zerolog.Logger, page browser.Controller, pl plan.Plan, userEmail string) plan.Plan {
	forms, err := snapshot.CollectForms(ctx, page)
	if err != nil {
		log.Warn().Err(err).Msg("form structure unavailable")
	}
	fa, src := u.deps.Forms.PlanFormActions(ctx, forms, pl.Form.FormSelector, userEmail)
	if fa.SubmitAction.Selector == "" {
		fa.SubmitAction = pl.Form.SubmitAction
	}
	if err := fa.Validate(); err != nil {
		log.Warn().Err(err).Msg("form actions invalid, keeping page plan")
		return pl
	}
	log.Info().
		Str("form", fa.FormSelector).
		Int("fields", len(fa.FieldActions)).
		Str("source", string(src)).
		Msg("form plan")
	pl.Form = &fa
	return pl
}

func failed(msg, shot string) Result {
	return Result{
		Outcome:        verify.Rejected,
		Message:        msg,
		Error:          withArtifact(msg, shot),
		ScreenshotPath: shot,
	}
}

func withArtifact(msg, shot string) string {
	if shot == "" {
		return msg
	}
	return fmt.Sprintf("%s [screenshot: %s]", msg, shot)
}
