package main

import (
	"encoding/json"

	"github.com/loyaltyops/accrual-core/jobs"
	"github.com/loyaltyops/accrual-core/processor"
	"github.com/loyaltyops/accrual-core/transaction"
)

// EvaluateRequest carries an unsaved transaction to run through a
// campaign's rule set.
type EvaluateRequest struct {
	CampaignID  string             `json:"campaignId"`
	Transaction TransactionPayload `json:"transaction"`
}

// TransactionPayload is the transaction shape accepted on the evaluate
// endpoint.
type TransactionPayload struct {
	ExternalID   string               `json:"externalId"`
	ExternalType string               `json:"externalType"`
	UserID       string               `json:"userId"`
	Data         transaction.FieldMap `json:"data"`
}

// EvaluateResponse is the full audit trail for one ad-hoc evaluation.
type EvaluateResponse struct {
	Result         *processor.Result `json:"result"`
	EvaluationTime string            `json:"evaluationTime"`
}

// CreateJobRequest is the body for declaring a new job.
type CreateJobRequest struct {
	CampaignID       string          `json:"campaignId"`
	Type             jobs.Type       `json:"jobType"`
	Schedule         string          `json:"schedule,omitempty"`
	IsRecurring      bool            `json:"isRecurring"`
	DataSourceConfig json.RawMessage `json:"dataSourceConfig,omitempty"`
	BatchSize        int             `json:"batchSize,omitempty"`
	MaxConcurrency   int             `json:"maxConcurrency,omitempty"`
}

// ExecutionsResponse is a page of a job's execution history.
type ExecutionsResponse struct {
	Executions []*jobs.Execution `json:"executions"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// RetryFailedResponse reports how many transactions went back to
// PENDING.
type RetryFailedResponse struct {
	TransactionsReset int `json:"transactionsReset"`
}
