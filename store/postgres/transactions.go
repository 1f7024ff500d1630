package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/loyaltyops/accrual-core/transaction"
)

// TransactionStore implements transaction.Store.
type TransactionStore struct {
	db *sqlx.DB
}

func NewTransactionStore(db *sqlx.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// Insert stores a new transaction. The unique (campaign_id, external_id)
// index makes re-ingestion idempotent: conflicts surface as ErrDuplicate.
func (s *TransactionStore) Insert(ctx context.Context, txn *transaction.Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, campaign_id, external_id, external_type, user_id,
			transaction_data, processing_status, retry_count, max_retries,
			points_allocated, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (campaign_id, external_id) DO NOTHING
	`, txn.ID, txn.CampaignID, txn.ExternalID, txn.ExternalType, txn.UserID,
		txn.Data, txn.Status, txn.RetryCount, txn.MaxRetries,
		txn.PointsAllocated, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert transaction: rows affected: %w", err)
	}
	if affected == 0 {
		return transaction.ErrDuplicate
	}
	return nil
}

func (s *TransactionStore) Get(ctx context.Context, id string) (*transaction.Transaction, error) {
	var txn transaction.Transaction
	err := s.db.GetContext(ctx, &txn, `
		SELECT id, campaign_id, external_id, external_type, user_id,
		       transaction_data, processing_status, retry_count, max_retries,
		       points_allocated, error_message, created_at, updated_at, processed_at
		FROM transactions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transaction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &txn, nil
}

// ClaimPending moves up to limit PENDING transactions to PROCESSING and
// returns them. SKIP LOCKED keeps concurrent claimers off each other's
// rows.
func (s *TransactionStore) ClaimPending(ctx context.Context, campaignID string, limit int) ([]*transaction.Transaction, error) {
	rows, err := s.db.QueryxContext(ctx, `
		UPDATE transactions
		SET processing_status = 'PROCESSING', updated_at = now()
		WHERE id IN (
			SELECT id FROM transactions
			WHERE campaign_id = $1 AND processing_status = 'PENDING'
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, external_id, external_type, user_id,
		          transaction_data, processing_status, retry_count, max_retries,
		          points_allocated, error_message, created_at, updated_at, processed_at
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending transactions: %w", err)
	}
	defer rows.Close()

	var claimed []*transaction.Transaction
	for rows.Next() {
		var txn transaction.Transaction
		if err := rows.StructScan(&txn); err != nil {
			return nil, fmt.Errorf("scan claimed transaction: %w", err)
		}
		claimed = append(claimed, &txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed transactions: %w", err)
	}
	return claimed, nil
}

func (s *TransactionStore) Update(ctx context.Context, txn *transaction.Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET processing_status = $2,
		    retry_count = $3,
		    points_allocated = $4,
		    error_message = $5,
		    processed_at = $6,
		    updated_at = now()
		WHERE id = $1
	`, txn.ID, txn.Status, txn.RetryCount, txn.PointsAllocated,
		txn.ErrorMessage, txn.ProcessedAt)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction: rows affected: %w", err)
	}
	if affected == 0 {
		return transaction.ErrNotFound
	}
	return nil
}

// Watermark returns the newest created_at among the campaign's
// transactions, the incremental extraction cutoff.
func (s *TransactionStore) Watermark(ctx context.Context, campaignID string) (*time.Time, error) {
	var watermark sql.NullTime
	err := s.db.GetContext(ctx, &watermark, `
		SELECT max(created_at) FROM transactions WHERE campaign_id = $1
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	if !watermark.Valid {
		return nil, nil
	}
	return &watermark.Time, nil
}

func (s *TransactionStore) ResetFailed(ctx context.Context, campaignID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET processing_status = 'PENDING', error_message = NULL, updated_at = now()
		WHERE campaign_id = $1
		  AND processing_status = 'FAILED'
		  AND retry_count < max_retries
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("reset failed transactions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed transactions: rows affected: %w", err)
	}
	return int(affected), nil
}
