// Package bulk fans batches of emails through the unsubscribe pipeline and
// drives the retry sweep over failed tasks.
package bulk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/agent"
	"github.com/polzovatel/unsubscribe-agent/internal/store"
)

// RunFunc runs the single-email pipeline.
type RunFunc func(ctx context.Context, req agent.Request) (agent.Result, error)

// FailedLister lists failed tasks that still have attempts left.
type FailedLister interface {
	ListFailed(ctx context.Context, maxAttempts int) ([]*store.Task, error)
}

type Options struct {
	Delay         time.Duration
	MaxConcurrent int
}

type Item struct {
	EmailID string `json:"emailId"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report aggregates one bulk run. Counts are computed after every item of
// every window has settled.
type Report struct {
	RunID   string `json:"runId"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Results []Item `json:"results"`
}

func (r *Report) add(it Item) {
	r.Results = append(r.Results, it)
	if it.Success {
		r.Success++
	} else {
		r.Failed++
	}
}

type Orchestrator struct {
	run        RunFunc
	tasks      FailedLister
	defaults   Options
	retryDelay time.Duration
	logger     zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(run RunFunc, tasks FailedLister, defaults Options, retryDelay time.Duration, logger zerolog.Logger) *Orchestrator {
	if defaults.MaxConcurrent <= 0 {
		defaults.MaxConcurrent = 3
	}
	return &Orchestrator{
		run:        run,
		tasks:      tasks,
		defaults:   defaults,
		retryDelay: retryDelay,
		logger:     logger.With().Str("comp", "bulk").Logger(),
		sleep:      sleepCtx,
	}
}

// RunBulk processes emailIDs in windows of MaxConcurrent, waiting Delay
// between windows. One item's failure or panic never aborts the batch.
func (o *Orchestrator) RunBulk(ctx context.Context, emailIDs []string, userEmail string, opts Options) Report {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = o.defaults.MaxConcurrent
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	} else if opts.Delay == 0 {
		opts.Delay = o.defaults.Delay
	}

	rep := Report{RunID: uuid.NewString(), Results: make([]Item, 0, len(emailIDs))}
	log := o.logger.With().Str("run_id", rep.RunID).Logger()
	log.Info().Int("emails", len(emailIDs)).Int("max_concurrent", opts.MaxConcurrent).Dur("delay", opts.Delay).Msg("bulk run started")

	for start := 0; start < len(emailIDs); start += opts.MaxConcurrent {
		end := min(start+opts.MaxConcurrent, len(emailIDs))
		if start > 0 {
			if err := o.sleep(ctx, opts.Delay); err != nil {
				for _, id := range emailIDs[start:] {
					rep.add(Item{EmailID: id, Error: fmt.Sprintf("not attempted: %v", err)})
				}
				break
			}
		}

		window := emailIDs[start:end]
		items := make([]Item, len(window))
		var wg sync.WaitGroup
		for i, id := range window {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				items[i] = o.runOne(ctx, log, agent.Request{EmailID: id, UserEmail: userEmail})
			}(i, id)
		}
		wg.Wait()
		for _, it := range items {
			rep.add(it)
		}
		log.Debug().Int("window_start", start).Int("success", rep.Success).Int("failed", rep.Failed).Msg("window settled")
	}

	log.Info().Int("success", rep.Success).Int("failed", rep.Failed).Msg("bulk run finished")
	return rep
}

// RetryFailed reruns failed tasks with attempts left, one at a time.
func (o *Orchestrator) RetryFailed(ctx context.Context, maxAttempts int, userEmail string) (Report, error) {
	tasks, err := o.tasks.ListFailed(ctx, maxAttempts)
	if err != nil {
		return Report{}, err
	}
	rep := Report{RunID: uuid.NewString(), Results: make([]Item, 0, len(tasks))}
	log := o.logger.With().Str("run_id", rep.RunID).Logger()
	log.Info().Int("tasks", len(tasks)).Int("max_attempts", maxAttempts).Msg("retry sweep started")

	for i, task := range tasks {
		if i > 0 {
			if err := o.sleep(ctx, o.retryDelay); err != nil {
				for _, t := range tasks[i:] {
					rep.add(Item{EmailID: t.EmailID, Error: fmt.Sprintf("not attempted: %v", err)})
				}
				break
			}
		}
		rep.add(o.runOne(ctx, log, agent.Request{
			EmailID:   task.EmailID,
			Link:      task.UnsubscribeLink,
			UserEmail: userEmail,
		}))
	}

	log.Info().Int("success", rep.Success).Int("failed", rep.Failed).Msg("retry sweep finished")
	return rep, nil
}

func (o *Orchestrator) runOne(ctx context.Context, log zerolog.Logger, req agent.Request) (it Item) {
	it.EmailID = req.EmailID
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("email_id", req.EmailID).Interface("panic", r).Msg("bulk item panicked")
			it = Item{EmailID: req.EmailID, Error: fmt.Sprintf("unexpected error: %v", r)}
		}
	}()

	res, err := o.run(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("email_id", req.EmailID).Msg("bulk item failed")
		it.Error = err.Error()
		return it
	}
	it.Success = res.Success
	it.Message = res.Message
	it.Error = res.Error
	return it
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
