// Package service is the caller-facing surface of the unsubscribe agent,
// shared by the CLI and the HTTP API.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/agent"
	"github.com/polzovatel/unsubscribe-agent/internal/browser"
	"github.com/polzovatel/unsubscribe-agent/internal/bulk"
	"github.com/polzovatel/unsubscribe-agent/internal/config"
	"github.com/polzovatel/unsubscribe-agent/internal/executor"
	"github.com/polzovatel/unsubscribe-agent/internal/llm"
	"github.com/polzovatel/unsubscribe-agent/internal/store"
)

const healthTimeout = 20 * time.Second

// Sessions is the part of the browser session manager the service needs.
type Sessions interface {
	agent.PageOpener
	Acquire(ctx context.Context) (browser.Handle, error)
	State() browser.State
}

type Service struct {
	cfg      config.Config
	sessions Sessions
	model    llm.Client
	modelErr error
	db       *sql.DB
	tasks    *store.TaskRepository
	emails   *store.EmailRepository
	pipeline *agent.Unsubscriber
	bulk     *bulk.Orchestrator
	logger   zerolog.Logger
}

type Deps struct {
	Sessions Sessions
	DB       *sql.DB
	// Model may be nil; planning then uses the deterministic fallback only.
	Model    llm.Client
	ModelErr error
	// Executor defaults to one using cfg.ActionTimeout.
	Executor *executor.Executor
}

func New(cfg config.Config, deps Deps, logger zerolog.Logger) *Service {
	if deps.Executor == nil {
		deps.Executor = executor.New(executor.Config{WaitTimeout: cfg.ActionTimeout}, logger.With().Str("comp", "executor").Logger())
	}
	s := &Service{
		cfg:      cfg,
		sessions: deps.Sessions,
		model:    deps.Model,
		modelErr: deps.ModelErr,
		db:       deps.DB,
		tasks:    store.NewTaskRepository(deps.DB),
		emails:   store.NewEmailRepository(deps.DB),
		logger:   logger.With().Str("comp", "service").Logger(),
	}
	s.pipeline = agent.New(agent.Config{
		NavTimeout:       cfg.NavTimeout,
		ScreenshotDir:    cfg.ScreenshotDir,
		DefaultUserEmail: cfg.DefaultUserEmail,
	}, agent.Deps{
		Pages:    deps.Sessions,
		Tasks:    s.tasks,
		Emails:   s.emails,
		Planner:  agent.NewPlanner(deps.Model, logger),
		Forms:    agent.NewFormAgent(deps.Model, logger),
		Executor: deps.Executor,
	}, logger)
	s.bulk = bulk.New(s.pipeline.Unsubscribe, s.tasks, bulk.Options{
		Delay:         cfg.BulkDelay,
		MaxConcurrent: cfg.BulkMaxConcurrent,
	}, cfg.RetryDelay, logger)
	return s
}

// UnsubscribeFromEmail runs one attempt. Link and userEmail may be empty and
// are then resolved from the email record.
func (s *Service) UnsubscribeFromEmail(ctx context.Context, emailID, link, userEmail string) (agent.Result, error) {
	return s.pipeline.Unsubscribe(ctx, agent.Request{EmailID: emailID, Link: link, UserEmail: userEmail})
}

func (s *Service) BulkUnsubscribe(ctx context.Context, emailIDs []string, userEmail string, opts bulk.Options) bulk.Report {
	return s.bulk.RunBulk(ctx, emailIDs, userEmail, opts)
}

// GetUnsubscribeTaskStatus returns nil, nil when the email has no task.
func (s *Service) GetUnsubscribeTaskStatus(ctx context.Context, emailID string) (*store.Task, error) {
	task, err := s.tasks.Get(ctx, emailID)
	if errors.Is(err, store.ErrTaskNotFound) {
		return nil, nil
	}
	return task, err
}

func (s *Service) RetryFailedUnsubscribes(ctx context.Context, userEmail string) (bulk.Report, error) {
	return s.bulk.RetryFailed(ctx, s.cfg.RetryMaxAttempts, userEmail)
}

// ImportEmail records an email so later requests can resolve its link.
func (s *Service) ImportEmail(ctx context.Context, e store.Email) error {
	return s.emails.Put(ctx, e)
}

// Health reports each subsystem independently.
type Health struct {
	Browser       bool   `json:"browser"`
	BrowserDetail string `json:"browserDetail"`
	Planner       bool   `json:"planner"`
	PlannerDetail string `json:"plannerDetail"`
	Store         bool   `json:"store"`
	StoreDetail   string `json:"storeDetail"`
}

func (h Health) OK() bool {
	return h.Browser && h.Planner && h.Store
}

func (s *Service) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var h Health
	if _, err := s.sessions.Acquire(ctx); err != nil {
		h.BrowserDetail = err.Error()
	} else {
		h.Browser = true
		h.BrowserDetail = "browser " + s.sessions.State().String()
	}

	switch {
	case s.model == nil:
		h.PlannerDetail = "planner model not configured, using fallback planning"
		if s.modelErr != nil {
			h.PlannerDetail = fmt.Sprintf("%s: %v", h.PlannerDetail, s.modelErr)
		}
	default:
		_, err := s.model.Generate(ctx, llm.Request{
			Messages:  []llm.Message{{Role: "user", Content: `Reply with {"ok":true}`}},
			MaxTokens: 16,
		})
		if err != nil {
			h.PlannerDetail = err.Error()
		} else {
			h.Planner = true
			h.PlannerDetail = "model " + s.model.Name() + " reachable"
		}
	}

	if err := store.Ping(ctx, s.db); err != nil {
		h.StoreDetail = err.Error()
	} else {
		h.Store = true
		h.StoreDetail = "database reachable"
	}

	s.logger.Debug().
		Bool("browser", h.Browser).
		Bool("planner", h.Planner).
		Bool("store", h.Store).
		Msg("health check")
	return h
}
