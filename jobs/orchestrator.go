package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loyaltyops/accrual-core/internal/logger"
)

var (
	// ErrJobAlreadyRunning is returned by Start when the job already
	// has a RUNNING execution. No second execution is created.
	ErrJobAlreadyRunning = errors.New("job already has a running execution")
	// ErrUnknownJobType is a configuration error surfaced at Start,
	// never discovered mid-run.
	ErrUnknownJobType = errors.New("unknown job type")
)

// RunStats are the record counters a runner reports back.
type RunStats struct {
	Processed int
	Succeeded int
	Failed    int
}

// Runner executes the work of one job type.
type Runner interface {
	Run(ctx context.Context, job *Job, exec *Execution) (RunStats, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job *Job, exec *Execution) (RunStats, error)

func (f RunnerFunc) Run(ctx context.Context, job *Job, exec *Execution) (RunStats, error) {
	return f(ctx, job, exec)
}

// Orchestrator owns the job/execution state machine. Start dispatches
// work asynchronously; Stop cancels cooperatively.
type Orchestrator struct {
	jobs    Store
	execs   ExecutionStore
	runners map[Type]Runner
	logger  logger.Interface

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(jobStore Store, execStore ExecutionStore, log logger.Interface) *Orchestrator {
	return &Orchestrator{
		jobs:    jobStore,
		execs:   execStore,
		runners: make(map[Type]Runner),
		logger:  log,
		active:  make(map[string]context.CancelFunc),
	}
}

// RegisterRunner wires the runner for a job type. Called once at setup.
func (o *Orchestrator) RegisterRunner(t Type, r Runner) {
	o.runners[t] = r
}

// Create persists a new job in PENDING status. No execution exists yet.
func (o *Orchestrator) Create(ctx context.Context, job *Job) error {
	if !job.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusPending

	if err := o.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	o.logger.Info("job created",
		"job_id", job.ID, "job_type", job.Type, "campaign_id", job.CampaignID)
	return nil
}

// Start creates a RUNNING execution for the job and dispatches its
// runner on a background goroutine. It fails with ErrJobAlreadyRunning
// when an execution is already in flight, and with ErrUnknownJobType
// when no runner is registered for the job's type.
func (o *Orchestrator) Start(ctx context.Context, jobID string) (*Execution, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	runner, ok := o.runners[job.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
	}

	// Admission is serialized so two concurrent Starts cannot both
	// pass the running check.
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, inFlight := o.active[jobID]; inFlight {
		return nil, ErrJobAlreadyRunning
	}
	if running, runErr := o.execs.Running(ctx, jobID); runErr != nil {
		return nil, fmt.Errorf("check running execution: %w", runErr)
	} else if running != nil {
		return nil, ErrJobAlreadyRunning
	}

	exec := &Execution{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Status:    StatusRunning,
		StartTime: time.Now().UTC(),
	}
	if err := o.execs.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	job.Status = StatusRunning
	job.ErrorMessage = nil
	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	// The execution outlives the caller's request context.
	runCtx, cancel := context.WithCancel(context.Background())
	o.active[jobID] = cancel

	o.wg.Add(1)
	go o.run(runCtx, runner, job, exec)

	o.logger.Info("execution started",
		"job_id", jobID, "execution_id", exec.ID, "job_type", job.Type)
	return exec, nil
}

// Stop cancels the job's in-flight work and moves it to CANCELLED.
// Cancellation is cooperative: the current batch finishes. When a run
// is in flight the run goroutine mirrors the execution's terminal
// status onto the job, so a run that completed just before the cancel
// keeps its COMPLETED status.
func (o *Orchestrator) Stop(ctx context.Context, jobID string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	cancel, inFlight := o.active[jobID]
	o.mu.Unlock()

	if inFlight {
		cancel()
		o.logger.Info("job stopping", "job_id", jobID)
		return nil
	}

	// No goroutine of ours; an orphaned RUNNING execution (crash
	// leftover) is closed out directly.
	running, runErr := o.execs.Running(ctx, jobID)
	if runErr != nil {
		return fmt.Errorf("check running execution: %w", runErr)
	}
	if running != nil {
		now := time.Now().UTC()
		running.Status = StatusCancelled
		running.EndTime = &now
		if err := o.execs.Update(ctx, running); err != nil {
			return fmt.Errorf("cancel execution: %w", err)
		}
	}

	job.Status = StatusCancelled
	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	o.logger.Info("job stopped", "job_id", jobID)
	return nil
}

// Shutdown cancels all in-flight executions and waits for them to
// finish their current batch.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for jobID, cancel := range o.active {
		o.logger.Info("cancelling execution on shutdown", "job_id", jobID)
		cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, runner Runner, job *Job, exec *Execution) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.active, job.ID)
		o.mu.Unlock()
	}()

	stats, runErr := runner.Run(ctx, job, exec)

	now := time.Now().UTC()
	exec.EndTime = &now
	exec.RecordsProcessed = stats.Processed
	exec.RecordsSucceeded = stats.Succeeded
	exec.RecordsFailed = stats.Failed

	switch {
	case runErr != nil && (errors.Is(runErr, context.Canceled) || ctx.Err() != nil):
		// Cancellation is not an error; partial counters are kept.
		exec.Status = StatusCancelled
	case runErr != nil:
		exec.Status = StatusFailed
		msg := runErr.Error()
		exec.ErrorMessage = &msg
		o.logger.Error("execution failed",
			"job_id", job.ID, "execution_id", exec.ID, "error", runErr)
	default:
		exec.Status = StatusCompleted
	}

	if err := o.execs.Update(context.Background(), exec); err != nil {
		o.logger.Error("persist execution", "execution_id", exec.ID, "error", err)
	}

	o.finishJob(job, exec, stats)
}

// finishJob mirrors the execution's terminal status onto the job and
// rolls the counters: cumulative across runs for recurring jobs,
// replaced for one-off jobs.
func (o *Orchestrator) finishJob(job *Job, exec *Execution, stats RunStats) {
	ctx := context.Background()

	fresh, err := o.jobs.Get(ctx, job.ID)
	if err != nil {
		o.logger.Error("load job for finish", "job_id", job.ID, "error", err)
		return
	}

	fresh.Status = exec.Status
	fresh.ErrorMessage = exec.ErrorMessage
	if fresh.IsRecurring {
		fresh.TotalRecords += stats.Processed
		fresh.ProcessedRecords += stats.Succeeded
		fresh.FailedRecords += stats.Failed
	} else {
		fresh.TotalRecords = stats.Processed
		fresh.ProcessedRecords = stats.Succeeded
		fresh.FailedRecords = stats.Failed
	}

	if err := o.jobs.Update(ctx, fresh); err != nil {
		o.logger.Error("persist job", "job_id", job.ID, "error", err)
		return
	}

	o.logger.Info("execution finished",
		"job_id", job.ID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed)
}
