package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrExecutionNotFound is returned when an execution id does not exist.
	ErrExecutionNotFound = errors.New("execution not found")
)

// Store persists jobs.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	ListRecurring(ctx context.Context) ([]*Job, error)
}

// ExecutionStore persists executions. Update must never regress an
// execution out of a terminal status.
type ExecutionStore interface {
	Create(ctx context.Context, exec *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	Update(ctx context.Context, exec *Execution) error

	// ListByJob returns executions newest-first.
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]*Execution, error)

	// Running returns the RUNNING execution for the job, or nil.
	Running(ctx context.Context, jobID string) (*Execution, error)
}

// InMemoryStore implements Store with a map. Used in tests.
type InMemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{jobs: make(map[string]*Job)}
}

func (s *InMemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *InMemoryStore) Update(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	job.CreatedAt = existing.CreatedAt
	job.UpdatedAt = time.Now()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListRecurring(_ context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, job := range s.jobs {
		if job.IsRecurring {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// InMemoryExecutionStore implements ExecutionStore with a map. Used in
// tests and as the reference for the postgres store's terminal guard.
type InMemoryExecutionStore struct {
	mu    sync.Mutex
	execs map[string]*Execution
}

func NewInMemoryExecutionStore() *InMemoryExecutionStore {
	return &InMemoryExecutionStore{execs: make(map[string]*Execution)}
}

func (s *InMemoryExecutionStore) Create(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}

func (s *InMemoryExecutionStore) Get(_ context.Context, id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.execs[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	cp := *exec
	return &cp, nil
}

// Update persists the execution. When the stored execution is already
// terminal the stored status and end time win; only counters are
// merged, keeping the status monotonic.
func (s *InMemoryExecutionStore) Update(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.execs[exec.ID]
	if !ok {
		return ErrExecutionNotFound
	}

	cp := *exec
	if existing.Status.Terminal() {
		cp.Status = existing.Status
		cp.EndTime = existing.EndTime
		cp.ErrorMessage = existing.ErrorMessage
	}
	s.execs[exec.ID] = &cp
	return nil
}

func (s *InMemoryExecutionStore) ListByJob(_ context.Context, jobID string, limit, offset int) ([]*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Execution
	for _, exec := range s.execs {
		if exec.JobID == jobID {
			cp := *exec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryExecutionStore) Running(_ context.Context, jobID string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, exec := range s.execs {
		if exec.JobID == jobID && exec.Status == StatusRunning {
			cp := *exec
			return &cp, nil
		}
	}
	return nil, nil
}
