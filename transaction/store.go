package transaction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a transaction does not exist.
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicate is returned when inserting a transaction whose
	// (campaignId, externalId) pair is already ingested.
	ErrDuplicate = errors.New("transaction already ingested")
)

// Store persists transactions. Implementations must make row updates
// keyed by id so executions touching disjoint transactions never
// conflict.
type Store interface {
	// Insert stores a new transaction. Returns ErrDuplicate when the
	// (campaignId, externalId) pair already exists.
	Insert(ctx context.Context, txn *Transaction) error

	// Get returns a transaction by id.
	Get(ctx context.Context, id string) (*Transaction, error)

	// ClaimPending atomically moves up to limit PENDING transactions of
	// the campaign to PROCESSING and returns them.
	ClaimPending(ctx context.Context, campaignID string, limit int) ([]*Transaction, error)

	// Update persists the transaction's status, points, retry counters
	// and error message.
	Update(ctx context.Context, txn *Transaction) error

	// Watermark returns the maximum CreatedAt of already-ingested
	// transactions for the campaign, or nil when none exist.
	Watermark(ctx context.Context, campaignID string) (*time.Time, error)

	// ResetFailed moves FAILED transactions with retry budget left back
	// to PENDING and returns how many were reset.
	ResetFailed(ctx context.Context, campaignID string) (int, error)
}

// InMemoryStore implements Store with a map. Used in tests and as the
// reference implementation for the postgres store's semantics.
type InMemoryStore struct {
	mu   sync.Mutex
	txns map[string]*Transaction
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{txns: make(map[string]*Transaction)}
}

func (s *InMemoryStore) Insert(_ context.Context, txn *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.txns {
		if existing.CampaignID == txn.CampaignID && existing.ExternalID == txn.ExternalID {
			return ErrDuplicate
		}
	}

	now := time.Now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now
	cp := *txn
	s.txns[txn.ID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

func (s *InMemoryStore) ClaimPending(_ context.Context, campaignID string, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*Transaction
	for _, txn := range s.txns {
		if txn.CampaignID == campaignID && txn.Status == StatusPending {
			pending = append(pending, txn)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	claimed := make([]*Transaction, 0, len(pending))
	for _, txn := range pending {
		txn.Status = StatusProcessing
		txn.UpdatedAt = time.Now()
		cp := *txn
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *InMemoryStore) Update(_ context.Context, txn *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txns[txn.ID]; !ok {
		return ErrNotFound
	}
	txn.UpdatedAt = time.Now()
	cp := *txn
	s.txns[txn.ID] = &cp
	return nil
}

func (s *InMemoryStore) Watermark(_ context.Context, campaignID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max *time.Time
	for _, txn := range s.txns {
		if txn.CampaignID != campaignID {
			continue
		}
		t := txn.CreatedAt
		if max == nil || t.After(*max) {
			max = &t
		}
	}
	return max, nil
}

func (s *InMemoryStore) ResetFailed(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, txn := range s.txns {
		if txn.CampaignID == campaignID && txn.Status == StatusFailed && txn.RetryCount < txn.MaxRetries {
			txn.Status = StatusPending
			txn.UpdatedAt = time.Now()
			reset++
		}
	}
	return reset, nil
}
