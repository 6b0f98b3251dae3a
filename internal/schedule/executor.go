package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/laneiq/freightlens/internal/clock"
	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/metrics"
	"github.com/laneiq/freightlens/internal/store"
)

// Runner is the orchestrator surface the executor drives.
type Runner interface {
	RunSaved(ctx context.Context, savedID, userID string) (*domain.AnalysisResult, bool, error)
}

// Config tunes the polling executor.
type Config struct {
	PollInterval time.Duration // how often due schedules are queried
	Workers      int           // concurrent schedule runs
	BatchLimit   int           // max due schedules claimed per poll
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 32
	}
	return c
}

// Executor polls for due schedules and runs their saved analyses through
// a bounded worker pool. A saturated pool defers the overflow to the next
// poll without touching next_run_at, so no firing is lost.
type Executor struct {
	cfg       Config
	schedules store.ScheduleStore
	runner    Runner
	clk       clock.Clock
	log       zerolog.Logger
	met       *metrics.Metrics

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewExecutor builds an executor. met may be nil.
func NewExecutor(cfg Config, schedules store.ScheduleStore, runner Runner, clk clock.Clock, log zerolog.Logger, met *metrics.Metrics) *Executor {
	cfg = cfg.withDefaults()
	if met == nil {
		met = metrics.Nop()
	}
	return &Executor{
		cfg:       cfg,
		schedules: schedules,
		runner:    runner,
		clk:       clk,
		log:       log.With().Str("component", "schedule_executor").Logger(),
		met:       met,
		sem:       make(chan struct{}, cfg.Workers),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight runs.
func (e *Executor) Run(ctx context.Context) error {
	e.log.Info().
		Dur("poll_interval", e.cfg.PollInterval).
		Int("workers", e.cfg.Workers).
		Msg("schedule executor started")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		e.Tick(ctx)
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.log.Info().Msg("schedule executor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one poll pass: query due schedules and dispatch as many as the
// worker pool will take right now.
func (e *Executor) Tick(ctx context.Context) {
	now := e.clk.Now()
	due, err := e.schedules.Due(ctx, now, e.cfg.BatchLimit)
	if err != nil {
		e.log.Error().Err(err).Msg("query due schedules")
		return
	}
	for _, sched := range due {
		select {
		case e.sem <- struct{}{}:
		default:
			// Pool is full. The remainder stays due and is picked up
			// on a later poll.
			e.log.Debug().Str("schedule_id", sched.ID).Msg("worker pool saturated, deferring")
			return
		}
		e.wg.Add(1)
		go func(sched domain.AnalysisSchedule) {
			defer e.wg.Done()
			defer func() { <-e.sem }()
			e.runOne(ctx, sched)
		}(sched)
	}
}

// Wait blocks until all dispatched runs finish. Run calls it on shutdown;
// tests call it after Tick.
func (e *Executor) Wait() { e.wg.Wait() }

func (e *Executor) runOne(ctx context.Context, sched domain.AnalysisSchedule) {
	log := e.log.With().
		Str("schedule_id", sched.ID).
		Str("saved_analysis_id", sched.SavedAnalysisID).
		Logger()

	outcome := "completed"
	_, _, err := e.runner.RunSaved(ctx, sched.SavedAnalysisID, sched.CreatedBy)
	switch {
	case err == nil:
	case domain.IsKind(err, domain.KindNotFound):
		// Saved analysis vanished under the schedule. Keep the schedule
		// armed; the registry refuses deletes while schedules reference
		// the saved analysis, so this is transient or operator-driven.
		outcome = "missing_saved"
		log.Warn().Err(err).Msg("saved analysis not found, skipping run")
	default:
		outcome = "failed"
		log.Error().Err(err).Msg("scheduled analysis failed")
	}
	e.met.ScheduleRuns.WithLabelValues(outcome).Inc()

	now := e.clk.Now()
	if err := e.rearm(ctx, sched, now); err != nil {
		log.Error().Err(err).Msg("re-arm schedule")
	}
}

// rearm advances next_run_at. Fixed cadences step from the scheduled fire
// time so late polls do not drift the anchor; a next still in the past is
// re-stepped from now to avoid a catch-up cascade.
func (e *Executor) rearm(ctx context.Context, sched domain.AnalysisSchedule, now time.Time) error {
	anchor := now
	if sched.NextRunAt != nil {
		anchor = *sched.NextRunAt
	}
	next, err := ComputeNext(sched.ScheduleKind, sched.ScheduleSpec, anchor)
	if err == nil && !next.After(now) {
		next, err = ComputeNext(sched.ScheduleKind, sched.ScheduleSpec, now)
	}
	if err != nil {
		e.log.Error().Err(err).Str("schedule_id", sched.ID).
			Msg("next-fire computation failed, deactivating schedule")
		return e.schedules.Deactivate(ctx, sched.ID)
	}
	return e.schedules.MarkRun(ctx, sched.ID, now, next)
}
