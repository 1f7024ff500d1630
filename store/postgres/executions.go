package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/loyaltyops/accrual-core/jobs"
)

// ExecutionStore implements jobs.ExecutionStore.
type ExecutionStore struct {
	db *sqlx.DB
}

func NewExecutionStore(db *sqlx.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) Create(ctx context.Context, exec *jobs.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_executions (
			id, job_id, status, start_time,
			records_processed, records_succeeded, records_failed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, exec.ID, exec.JobID, exec.Status, exec.StartTime,
		exec.RecordsProcessed, exec.RecordsSucceeded, exec.RecordsFailed)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) Get(ctx context.Context, id string) (*jobs.Execution, error) {
	var exec jobs.Execution
	err := s.db.GetContext(ctx, &exec, `
		SELECT id, job_id, status, start_time, end_time,
		       records_processed, records_succeeded, records_failed, error_message
		FROM job_executions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return &exec, nil
}

// Update persists the execution. The CASE guards keep a terminal status
// from being overwritten: a CANCELLED execution stays CANCELLED even if
// a slow runner reports completion afterwards. Counters always win.
func (s *ExecutionStore) Update(ctx context.Context, exec *jobs.Execution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_executions
		SET records_processed = $2,
		    records_succeeded = $3,
		    records_failed = $4,
		    status = CASE
		        WHEN status IN ('COMPLETED', 'FAILED', 'CANCELLED') THEN status
		        ELSE $5
		    END,
		    end_time = CASE
		        WHEN status IN ('COMPLETED', 'FAILED', 'CANCELLED') THEN end_time
		        ELSE $6
		    END,
		    error_message = CASE
		        WHEN status IN ('COMPLETED', 'FAILED', 'CANCELLED') THEN error_message
		        ELSE $7
		    END
		WHERE id = $1
	`, exec.ID, exec.RecordsProcessed, exec.RecordsSucceeded, exec.RecordsFailed,
		exec.Status, exec.EndTime, exec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update execution: rows affected: %w", err)
	}
	if affected == 0 {
		return jobs.ErrExecutionNotFound
	}
	return nil
}

func (s *ExecutionStore) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]*jobs.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	var out []*jobs.Execution
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, job_id, status, start_time, end_time,
		       records_processed, records_succeeded, records_failed, error_message
		FROM job_executions
		WHERE job_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return out, nil
}

func (s *ExecutionStore) Running(ctx context.Context, jobID string) (*jobs.Execution, error) {
	var exec jobs.Execution
	err := s.db.GetContext(ctx, &exec, `
		SELECT id, job_id, status, start_time, end_time,
		       records_processed, records_succeeded, records_failed, error_message
		FROM job_executions
		WHERE job_id = $1 AND status = 'RUNNING'
		ORDER BY start_time DESC
		LIMIT 1
	`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find running execution: %w", err)
	}
	return &exec, nil
}
