// Package jobs owns the lifecycle of long-running units of work:
// extraction jobs, rule-application jobs and ledger sync jobs.
package jobs

import (
	"encoding/json"
	"time"
)

// Type routes a job to its runner.
type Type string

const (
	TypeInitialLoad       Type = "INITIAL_LOAD"
	TypeIncrementalUpdate Type = "INCREMENTAL_UPDATE"
	TypeRulesProcessing   Type = "RULES_PROCESSING"
	TypeLedgerSync        Type = "LEDGER_SYNC"
)

// Valid reports whether t is a known job type.
func (t Type) Valid() bool {
	switch t {
	case TypeInitialLoad, TypeIncrementalUpdate, TypeRulesProcessing, TypeLedgerSync:
		return true
	}
	return false
}

// Status is shared by jobs and executions.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is final. A terminal execution
// never regresses.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a declared unit of recurring or one-off work. Its status
// mirrors the latest execution; counters accumulate across runs when
// IsRecurring.
type Job struct {
	ID               string          `db:"id" json:"id"`
	CampaignID       string          `db:"campaign_id" json:"campaignId"`
	Type             Type            `db:"job_type" json:"jobType"`
	Schedule         string          `db:"schedule" json:"schedule,omitempty"`
	IsRecurring      bool            `db:"is_recurring" json:"isRecurring"`
	DataSourceConfig json.RawMessage `db:"data_source_config" json:"dataSourceConfig,omitempty"`
	BatchSize        int             `db:"batch_size" json:"batchSize"`
	MaxConcurrency   int             `db:"max_concurrency" json:"maxConcurrency"`
	Status           Status          `db:"status" json:"status"`
	TotalRecords     int             `db:"total_records" json:"totalRecords"`
	ProcessedRecords int             `db:"processed_records" json:"processedRecords"`
	FailedRecords    int             `db:"failed_records" json:"failedRecords"`
	ErrorMessage     *string         `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}

// Execution is one timed run of a job.
type Execution struct {
	ID               string     `db:"id" json:"id"`
	JobID            string     `db:"job_id" json:"jobId"`
	Status           Status     `db:"status" json:"status"`
	StartTime        time.Time  `db:"start_time" json:"startTime"`
	EndTime          *time.Time `db:"end_time" json:"endTime,omitempty"`
	RecordsProcessed int        `db:"records_processed" json:"recordsProcessed"`
	RecordsSucceeded int        `db:"records_succeeded" json:"recordsSucceeded"`
	RecordsFailed    int        `db:"records_failed" json:"recordsFailed"`
	ErrorMessage     *string    `db:"error_message" json:"errorMessage,omitempty"`
}
