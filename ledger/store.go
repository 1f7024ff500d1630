package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCallNotFound is returned when an accrual call id does not exist.
var ErrCallNotFound = errors.New("accrual call not found")

// Store records accrual calls and their dispatch state.
type Store interface {
	Insert(ctx context.Context, call *AccrualCall) error

	// ListUndispatched returns calls still owed to the ledger for the
	// campaign: PENDING calls plus previously FAILED ones.
	ListUndispatched(ctx context.Context, campaignID string, limit int) ([]*AccrualCall, error)

	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// InMemoryStore implements Store with a map. Used in tests.
type InMemoryStore struct {
	mu    sync.Mutex
	calls map[string]*AccrualCall
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{calls: make(map[string]*AccrualCall)}
}

func (s *InMemoryStore) Insert(_ context.Context, call *AccrualCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if call.Status == "" {
		call.Status = DispatchPending
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	cp := *call
	s.calls[call.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListUndispatched(_ context.Context, campaignID string, limit int) ([]*AccrualCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*AccrualCall
	for _, call := range s.calls {
		if call.CampaignID != campaignID {
			continue
		}
		if call.Status == DispatchPending || call.Status == DispatchFailed {
			cp := *call
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return ErrCallNotFound
	}
	now := time.Now()
	call.Status = DispatchSent
	call.DispatchedAt = &now
	call.LastError = nil
	return nil
}

func (s *InMemoryStore) MarkFailed(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return ErrCallNotFound
	}
	call.Status = DispatchFailed
	call.LastError = &errMsg
	return nil
}
