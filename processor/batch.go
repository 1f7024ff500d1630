package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loyaltyops/accrual-core/internal/logger"
	"github.com/loyaltyops/accrual-core/ledger"
	"github.com/loyaltyops/accrual-core/rules"
	"github.com/loyaltyops/accrual-core/transaction"
)

const (
	defaultBatchSize      = 100
	defaultMaxConcurrency = 4
)

// Stats are the running counters of one batch run.
type Stats struct {
	Processed int
	Succeeded int
	Failed    int
}

// BatchRunner drains PENDING transactions for a campaign through the
// processor in bounded-concurrency batches. Cancellation is
// cooperative: the context is checked between batches, and in-flight
// work in the current batch is allowed to finish.
type BatchRunner struct {
	txns      transaction.Store
	ruleSets  rules.Store
	accruals  ledger.Store
	gateway   ledger.Gateway
	processor *Processor
	logger    logger.Interface
}

func NewBatchRunner(
	txns transaction.Store,
	ruleSets rules.Store,
	accruals ledger.Store,
	gateway ledger.Gateway,
	proc *Processor,
	log logger.Interface,
) *BatchRunner {
	return &BatchRunner{
		txns:      txns,
		ruleSets:  ruleSets,
		accruals:  accruals,
		gateway:   gateway,
		processor: proc,
		logger:    log,
	}
}

// Run processes pending transactions for the campaign until none
// remain or the context is cancelled. A missing rule set is a
// configuration error and fails the run immediately.
func (r *BatchRunner) Run(ctx context.Context, campaignID string, batchSize, maxConcurrency int) (Stats, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	ruleSet, err := r.ruleSets.Get(ctx, campaignID)
	if err != nil {
		return Stats{}, fmt.Errorf("load rule set: %w", err)
	}

	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, err := r.txns.ClaimPending(ctx, campaignID, batchSize)
		if err != nil {
			return stats, fmt.Errorf("claim pending transactions: %w", err)
		}
		if len(batch) == 0 {
			return stats, nil
		}

		batchStats := r.runBatch(ctx, batch, ruleSet, maxConcurrency)
		stats.Processed += batchStats.Processed
		stats.Succeeded += batchStats.Succeeded
		stats.Failed += batchStats.Failed
	}
}

// runBatch processes one claimed batch with at most maxConcurrency
// transactions in flight.
func (r *BatchRunner) runBatch(ctx context.Context, batch []*transaction.Transaction, ruleSet *rules.RuleSet, maxConcurrency int) Stats {
	var stats Stats
	results := make([]error, len(batch))

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrency)
	for i, txn := range batch {
		i, txn := i, txn
		g.Go(func() error {
			results[i] = r.processOne(ctx, txn, ruleSet)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range results {
		stats.Processed++
		if err != nil {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
	}
	return stats
}

// processOne applies the rule set to a single claimed transaction and
// persists the outcome. Returned errors are infrastructure failures;
// a rejected transaction is still a successful processing outcome.
func (r *BatchRunner) processOne(ctx context.Context, txn *transaction.Transaction, ruleSet *rules.RuleSet) error {
	result := r.processor.Process(txn, ruleSet)

	txn.Status = transaction.StatusCompleted
	txn.PointsAllocated = result.PointsAllocated
	if result.Error != "" {
		txn.ErrorMessage = &result.Error
	} else {
		txn.ErrorMessage = nil
	}
	now := time.Now().UTC()
	txn.ProcessedAt = &now

	if err := r.txns.Update(ctx, txn); err != nil {
		r.markFailed(ctx, txn, err)
		return err
	}

	// Record accrual calls before dispatch so a crash after this point
	// still leaves them owed to the ledger.
	for _, call := range result.AccrualCalls {
		if err := r.accruals.Insert(ctx, call); err != nil {
			r.logger.Error("record accrual call failed",
				"transaction_id", txn.ID, "rule_id", call.RuleID, "error", err)
			continue
		}
		r.dispatch(ctx, call)
	}

	return nil
}

// dispatch sends one accrual call. A failure is recorded per call and
// never discards the transaction's other rule results; the LEDGER_SYNC
// job re-sends failed calls later.
func (r *BatchRunner) dispatch(ctx context.Context, call *ledger.AccrualCall) {
	if err := r.gateway.SendAccrual(ctx, call); err != nil {
		r.logger.Warn("accrual dispatch failed",
			"transaction_id", call.TransactionID,
			"rule_id", call.RuleID,
			"retryable", errors.Is(err, ledger.ErrRetryable),
			"error", err)
		if markErr := r.accruals.MarkFailed(ctx, call.ID, err.Error()); markErr != nil {
			r.logger.Error("mark accrual failed", "call_id", call.ID, "error", markErr)
		}
		return
	}
	if err := r.accruals.MarkSent(ctx, call.ID); err != nil {
		r.logger.Error("mark accrual sent", "call_id", call.ID, "error", err)
	}
}

// markFailed moves the transaction to FAILED and burns one retry.
func (r *BatchRunner) markFailed(ctx context.Context, txn *transaction.Transaction, cause error) {
	txn.Status = transaction.StatusFailed
	txn.RetryCount++
	msg := cause.Error()
	txn.ErrorMessage = &msg
	if err := r.txns.Update(ctx, txn); err != nil {
		r.logger.Error("persist failed transaction", "transaction_id", txn.ID, "error", err)
	}
}

// SyncLedger re-sends accrual calls still owed to the ledger for the
// campaign. Used by LEDGER_SYNC jobs.
func (r *BatchRunner) SyncLedger(ctx context.Context, campaignID string, batchSize int) (Stats, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		calls, err := r.accruals.ListUndispatched(ctx, campaignID, batchSize)
		if err != nil {
			return stats, fmt.Errorf("list undispatched accruals: %w", err)
		}
		if len(calls) == 0 {
			return stats, nil
		}

		progressed := false
		for _, call := range calls {
			stats.Processed++
			if sendErr := r.gateway.SendAccrual(ctx, call); sendErr != nil {
				stats.Failed++
				if markErr := r.accruals.MarkFailed(ctx, call.ID, sendErr.Error()); markErr != nil {
					r.logger.Error("mark accrual failed", "call_id", call.ID, "error", markErr)
				}
				continue
			}
			stats.Succeeded++
			progressed = true
			if err := r.accruals.MarkSent(ctx, call.ID); err != nil {
				r.logger.Error("mark accrual sent", "call_id", call.ID, "error", err)
			}
		}

		// Every remaining call failed again; stop instead of spinning
		// on the same undeliverable batch.
		if !progressed {
			return stats, nil
		}
	}
}
