package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loyaltyops/accrual-core/internal/logger"
)

// Scheduler sweeps recurring jobs and restarts the ones whose cron
// schedule says they are due. A job that is still RUNNING is skipped;
// executions of the same job never overlap.
type Scheduler struct {
	jobs     Store
	execs    ExecutionStore
	orch     *Orchestrator
	parser   cron.Parser
	interval time.Duration
	logger   logger.Interface

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(jobStore Store, execStore ExecutionStore, orch *Orchestrator, interval time.Duration, log logger.Interface) *Scheduler {
	return &Scheduler{
		jobs:  jobStore,
		execs: execStore,
		orch:  orch,
		// Standard 5-field cron: minute hour day month weekday.
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   log,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. It does not block.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", "sweep_interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped: context cancelled")
				return
			case <-s.done:
				s.logger.Info("scheduler stopped")
				return
			case now := <-ticker.C:
				s.Sweep(ctx, now)
			}
		}
	}()
}

// Stop shuts the sweep loop down and waits for it.
func (s *Scheduler) Stop() {
	s.doneOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Sweep starts every recurring job that is due at now. Exported so a
// sweep can be driven directly in tests and tools.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	recurring, err := s.jobs.ListRecurring(ctx)
	if err != nil {
		s.logger.Error("list recurring jobs", "error", err)
		return
	}

	for _, job := range recurring {
		if job.Schedule == "" {
			continue
		}
		// Only jobs that finished a run (or never ran) are candidates;
		// RUNNING jobs are skipped, CANCELLED jobs stay stopped until
		// an operator restarts them.
		if job.Status != StatusPending && job.Status != StatusCompleted && job.Status != StatusFailed {
			continue
		}

		due, err := s.isDue(ctx, job, now)
		if err != nil {
			s.logger.Error("parse job schedule",
				"job_id", job.ID, "schedule", job.Schedule, "error", err)
			continue
		}
		if !due {
			continue
		}

		if _, err := s.orch.Start(ctx, job.ID); err != nil {
			if errors.Is(err, ErrJobAlreadyRunning) {
				s.logger.Debug("job already running, skipping", "job_id", job.ID)
				continue
			}
			s.logger.Error("start due job", "job_id", job.ID, "error", err)
		}
	}
}

// isDue reports whether the job's next scheduled run after its last
// activity has passed.
func (s *Scheduler) isDue(ctx context.Context, job *Job, now time.Time) (bool, error) {
	schedule, err := s.parser.Parse(job.Schedule)
	if err != nil {
		return false, err
	}

	last := job.CreatedAt
	latest, err := s.execs.ListByJob(ctx, job.ID, 1, 0)
	if err != nil {
		return false, err
	}
	if len(latest) > 0 && latest[0].EndTime != nil {
		last = *latest[0].EndTime
	}

	return !schedule.Next(last).After(now), nil
}
