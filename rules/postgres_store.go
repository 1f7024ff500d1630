package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresStore reads rule set documents from the rule_sets table. The
// table is written by the upstream rule authoring service.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the highest-version active rule set for the campaign.
func (s *PostgresStore) Get(ctx context.Context, campaignID string) (*RuleSet, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT document
		FROM rule_sets
		WHERE campaign_id = $1 AND active = true
		ORDER BY version DESC
		LIMIT 1
	`, campaignID).Scan(&doc)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrRuleSetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule set: %w", err)
	}

	rs, err := ParseRuleSet(doc)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, err)
	}
	return rs, nil
}
