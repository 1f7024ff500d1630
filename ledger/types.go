// Package ledger talks to the remote loyalty ledger. Accrual calls are
// recorded locally before dispatch so delivery is at-least-once; the
// idempotency key lets the remote side deduplicate.
package ledger

import "time"

// DispatchStatus is the delivery state of an accrual call.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "PENDING"
	DispatchSent    DispatchStatus = "SENT"
	DispatchFailed  DispatchStatus = "FAILED"
)

// AccrualCall describes one point credit owed to a member account,
// produced by a passing accrual or bonus rule.
type AccrualCall struct {
	ID            string         `db:"id" json:"id"`
	CampaignID    string         `db:"campaign_id" json:"campaignId"`
	UserID        string         `db:"user_id" json:"userId"`
	Points        int            `db:"points" json:"points"`
	RuleID        string         `db:"rule_id" json:"ruleId"`
	TransactionID string         `db:"transaction_id" json:"transactionId"`
	Description   string         `db:"description" json:"description"`
	Metadata      map[string]any `db:"-" json:"metadata,omitempty"`
	Priority      int            `db:"priority" json:"priority"`

	Status       DispatchStatus `db:"dispatch_status" json:"-"`
	LastError    *string        `db:"last_error" json:"-"`
	CreatedAt    time.Time      `db:"created_at" json:"-"`
	DispatchedAt *time.Time     `db:"dispatched_at" json:"-"`
}

// IdempotencyKey identifies this accrual to the remote ledger across
// redeliveries.
func (c *AccrualCall) IdempotencyKey() string {
	return c.TransactionID + ":" + c.RuleID
}
