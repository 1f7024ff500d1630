package rules

import (
	"context"
	"errors"
	"sync"
)

// ErrRuleSetNotFound is returned when no active rule set exists for a
// campaign.
var ErrRuleSetNotFound = errors.New("rule set not found")

// Store retrieves rule sets. Rule sets are authored upstream; this core
// only reads them.
type Store interface {
	// Get returns the highest-version active rule set for the campaign.
	Get(ctx context.Context, campaignID string) (*RuleSet, error)
}

// InMemoryStore implements Store with a map keyed by campaign. Used in
// tests and for fixture-driven runs.
type InMemoryStore struct {
	mu   sync.RWMutex
	sets map[string]*RuleSet
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sets: make(map[string]*RuleSet)}
}

// Put stores a rule set, replacing a lower or equal version.
func (s *InMemoryStore) Put(rs *RuleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sets[rs.CampaignID]
	if !ok || existing.Version <= rs.Version {
		s.sets[rs.CampaignID] = rs
	}
}

func (s *InMemoryStore) Get(_ context.Context, campaignID string) (*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.sets[campaignID]
	if !ok {
		return nil, ErrRuleSetNotFound
	}
	return rs, nil
}
