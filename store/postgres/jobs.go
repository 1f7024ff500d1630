package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/loyaltyops/accrual-core/jobs"
)

// JobStore implements jobs.Store.
type JobStore struct {
	db *sqlx.DB
}

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *jobs.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, campaign_id, job_type, schedule, is_recurring,
			data_source_config, batch_size, max_concurrency, status,
			total_records, processed_records, failed_records,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
	`, job.ID, job.CampaignID, job.Type, job.Schedule, job.IsRecurring,
		[]byte(job.DataSourceConfig), job.BatchSize, job.MaxConcurrency, job.Status,
		job.TotalRecords, job.ProcessedRecords, job.FailedRecords)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	var job jobs.Job
	err := s.db.GetContext(ctx, &job, `
		SELECT id, campaign_id, job_type, schedule, is_recurring,
		       data_source_config, batch_size, max_concurrency, status,
		       total_records, processed_records, failed_records,
		       error_message, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) Update(ctx context.Context, job *jobs.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET schedule = $2,
		    is_recurring = $3,
		    data_source_config = $4,
		    batch_size = $5,
		    max_concurrency = $6,
		    status = $7,
		    total_records = $8,
		    processed_records = $9,
		    failed_records = $10,
		    error_message = $11,
		    updated_at = now()
		WHERE id = $1
	`, job.ID, job.Schedule, job.IsRecurring, []byte(job.DataSourceConfig),
		job.BatchSize, job.MaxConcurrency, job.Status,
		job.TotalRecords, job.ProcessedRecords, job.FailedRecords,
		job.ErrorMessage)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: rows affected: %w", err)
	}
	if affected == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

func (s *JobStore) ListRecurring(ctx context.Context) ([]*jobs.Job, error) {
	var out []*jobs.Job
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, campaign_id, job_type, schedule, is_recurring,
		       data_source_config, batch_size, max_concurrency, status,
		       total_records, processed_records, failed_records,
		       error_message, created_at, updated_at
		FROM jobs
		WHERE is_recurring = true
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list recurring jobs: %w", err)
	}
	return out, nil
}
