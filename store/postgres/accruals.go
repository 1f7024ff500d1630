package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/loyaltyops/accrual-core/ledger"
)

// AccrualStore implements ledger.Store.
type AccrualStore struct {
	db *sqlx.DB
}

func NewAccrualStore(db *sqlx.DB) *AccrualStore {
	return &AccrualStore{db: db}
}

func (s *AccrualStore) Insert(ctx context.Context, call *ledger.AccrualCall) error {
	if call.Status == "" {
		call.Status = ledger.DispatchPending
	}

	metadata, err := json.Marshal(call.Metadata)
	if err != nil {
		return fmt.Errorf("marshal accrual metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accrual_calls (
			id, campaign_id, user_id, points, rule_id, transaction_id,
			description, metadata, priority, dispatch_status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
	`, call.ID, call.CampaignID, call.UserID, call.Points, call.RuleID,
		call.TransactionID, call.Description, metadata, call.Priority, call.Status)
	if err != nil {
		return fmt.Errorf("insert accrual call: %w", err)
	}
	return nil
}

func (s *AccrualStore) ListUndispatched(ctx context.Context, campaignID string, limit int) ([]*ledger.AccrualCall, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, campaign_id, user_id, points, rule_id, transaction_id,
		       description, metadata, priority, dispatch_status, last_error,
		       created_at, dispatched_at
		FROM accrual_calls
		WHERE campaign_id = $1 AND dispatch_status IN ('PENDING', 'FAILED')
		ORDER BY created_at ASC
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched accrual calls: %w", err)
	}
	defer rows.Close()

	var out []*ledger.AccrualCall
	for rows.Next() {
		var call ledger.AccrualCall
		var metadata []byte
		if err := rows.Scan(&call.ID, &call.CampaignID, &call.UserID, &call.Points,
			&call.RuleID, &call.TransactionID, &call.Description, &metadata,
			&call.Priority, &call.Status, &call.LastError,
			&call.CreatedAt, &call.DispatchedAt); err != nil {
			return nil, fmt.Errorf("scan accrual call: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &call.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal accrual metadata: %w", err)
			}
		}
		out = append(out, &call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accrual calls: %w", err)
	}
	return out, nil
}

func (s *AccrualStore) MarkSent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accrual_calls
		SET dispatch_status = 'SENT', dispatched_at = now(), last_error = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark accrual call sent: %w", err)
	}
	return requireAffected(res, ledger.ErrCallNotFound)
}

func (s *AccrualStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accrual_calls
		SET dispatch_status = 'FAILED', last_error = $2
		WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark accrual call failed: %w", err)
	}
	return requireAffected(res, ledger.ErrCallNotFound)
}
