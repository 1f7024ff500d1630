package rules

import (
	"encoding/json"
	"fmt"
)

// RuleSet is a named, versioned collection of rules scoped to one
// campaign.
type RuleSet struct {
	CampaignID  string
	Name        string
	Version     int
	Eligibility []*Rule
	Accrual     []*Rule
	Bonus       []*Rule
}

// EnabledByCategory returns the enabled rules of the given category.
// Disabled rules are skipped entirely; they are never evaluated or
// counted.
func (rs *RuleSet) EnabledByCategory(cat Category) []*Rule {
	var src []*Rule
	switch cat {
	case CategoryEligibility:
		src = rs.Eligibility
	case CategoryAccrual:
		src = rs.Accrual
	case CategoryBonus:
		src = rs.Bonus
	}

	out := make([]*Rule, 0, len(src))
	for _, r := range src {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

type ruleDoc struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Enabled     *bool           `json:"enabled"`
	Priority    int             `json:"priority"`
	Condition   json.RawMessage `json:"condition"`
	Calculation json.RawMessage `json:"calculation"`
}

type ruleSetDoc struct {
	CampaignID string `json:"campaignId"`
	Name       string `json:"name"`
	Version    int    `json:"version"`
	Rules      struct {
		Eligibility []ruleDoc `json:"eligibility"`
		Accrual     []ruleDoc `json:"accrual"`
		Bonus       []ruleDoc `json:"bonus"`
	} `json:"rules"`
}

// ParseRuleSet decodes a rule set document. A malformed condition or
// calculation anywhere in the document is a configuration error and
// fails the whole parse.
func ParseRuleSet(doc []byte) (*RuleSet, error) {
	var raw ruleSetDoc
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}

	rs := &RuleSet{
		CampaignID: raw.CampaignID,
		Name:       raw.Name,
		Version:    raw.Version,
	}

	var err error
	if rs.Eligibility, err = parseRules(raw.Rules.Eligibility, CategoryEligibility); err != nil {
		return nil, err
	}
	if rs.Accrual, err = parseRules(raw.Rules.Accrual, CategoryAccrual); err != nil {
		return nil, err
	}
	if rs.Bonus, err = parseRules(raw.Rules.Bonus, CategoryBonus); err != nil {
		return nil, err
	}

	return rs, nil
}

func parseRules(docs []ruleDoc, cat Category) ([]*Rule, error) {
	out := make([]*Rule, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("%s rule without id", cat)
		}

		r := &Rule{
			ID:       d.ID,
			Name:     d.Name,
			Category: cat,
			Priority: d.Priority,
			Enabled:  true,
		}
		if d.Enabled != nil {
			r.Enabled = *d.Enabled
		}

		if len(d.Condition) == 0 {
			return nil, fmt.Errorf("rule %s: missing condition", d.ID)
		}
		cond, err := DecodeCondition(d.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", d.ID, err)
		}
		r.Condition = cond

		// Accrual and bonus rules compute points; eligibility rules
		// only gate.
		if cat != CategoryEligibility {
			if len(d.Calculation) == 0 {
				return nil, fmt.Errorf("rule %s: %s rule missing calculation", d.ID, cat)
			}
			calc, err := DecodeCalculation(d.Calculation)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", d.ID, err)
			}
			r.Calculation = calc
		}

		out = append(out, r)
	}
	return out, nil
}
