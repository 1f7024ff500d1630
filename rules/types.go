// Package rules defines the loyalty rule model and its evaluators.
//
// A rule set is a versioned JSON document produced upstream and consumed
// read-only here. Conditions and calculations are closed tagged variants:
// decoding rejects unknown type tags outright so the evaluators' dispatch
// stays exhaustive.
package rules

import (
	"encoding/json"
	"fmt"
)

// Category buckets rules by what they gate or compute.
type Category string

const (
	CategoryEligibility Category = "eligibility"
	CategoryAccrual     Category = "accrual"
	CategoryBonus       Category = "bonus"
)

// Rule is one immutable eligibility/accrual/bonus rule.
type Rule struct {
	ID          string
	Name        string
	Category    Category
	Enabled     bool
	Priority    int
	Condition   Condition
	Calculation Calculation // nil for eligibility rules
}

// CompareOp is a field comparison operator.
type CompareOp string

const (
	OpEquals             CompareOp = "equals"
	OpNotEquals          CompareOp = "notEquals"
	OpGreaterThan        CompareOp = "greaterThan"
	OpGreaterThanOrEqual CompareOp = "greaterThanOrEqual"
	OpLessThan           CompareOp = "lessThan"
	OpLessThanOrEqual    CompareOp = "lessThanOrEqual"
	OpContains           CompareOp = "contains"
	OpStartsWith         CompareOp = "startsWith"
	OpEndsWith           CompareOp = "endsWith"
)

// AggregateOp is a threshold comparison operator for aggregate conditions.
type AggregateOp string

const (
	AggGTE AggregateOp = "gte"
	AggGT  AggregateOp = "gt"
	AggLTE AggregateOp = "lte"
	AggLT  AggregateOp = "lt"
	AggEQ  AggregateOp = "eq"
)

// LogicalOp combines sub-conditions.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "AND"
	LogicalOr  LogicalOp = "OR"
)

// Condition is the sealed condition variant.
type Condition interface {
	condition()
}

// FieldComparison compares a transaction field against a literal value.
type FieldComparison struct {
	Field    string    `json:"field"`
	Operator CompareOp `json:"operator"`
	Value    any       `json:"value"`
}

// Aggregate compares a named field against a numeric threshold.
//
// It evaluates against the current transaction only; there is no
// cross-transaction aggregation window.
type Aggregate struct {
	Aggregation string      `json:"aggregation"`
	Field       string      `json:"field"`
	Operator    AggregateOp `json:"operator"`
	Value       float64     `json:"value"`
}

// Logical combines sub-conditions with AND/OR, short-circuiting
// left to right.
type Logical struct {
	Operator      LogicalOp `json:"operator"`
	SubConditions []Condition
}

// CustomCondition dispatches to a registered handler by name.
type CustomCondition struct {
	Handler string         `json:"handler"`
	Params  map[string]any `json:"params"`
}

func (FieldComparison) condition() {}
func (Aggregate) condition()       {}
func (Logical) condition()         {}
func (CustomCondition) condition() {}

// RoundingMode controls how a mathematical calculation rounds.
type RoundingMode string

const (
	RoundFloor RoundingMode = "floor"
	RoundCeil  RoundingMode = "ceil"
	RoundHalf  RoundingMode = "round"
)

// Calculation is the sealed calculation variant.
type Calculation interface {
	calculation()
}

// Mathematical sums the named fields, multiplies, then rounds.
type Mathematical struct {
	Fields     []string     `json:"fields"`
	Multiplier float64      `json:"multiplier"`
	Rounding   RoundingMode `json:"rounding"`
}

// Fixed awards a constant point amount.
type Fixed struct {
	Points int `json:"points"`
}

// Percentage awards sum(fields) * percentage / 100.
type Percentage struct {
	Fields     []string `json:"fields"`
	Percentage float64  `json:"percentage"`
}

// CustomCalculation dispatches to a registered handler by name.
type CustomCalculation struct {
	Handler string         `json:"handler"`
	Params  map[string]any `json:"params"`
}

func (Mathematical) calculation()      {}
func (Fixed) calculation()             {}
func (Percentage) calculation()        {}
func (CustomCalculation) calculation() {}

// DecodeCondition parses one condition document by its type tag.
func DecodeCondition(data []byte) (Condition, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}

	switch tag.Type {
	case "fieldComparison":
		var c FieldComparison
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("fieldComparison condition: %w", err)
		}
		return c, nil
	case "aggregate":
		var c Aggregate
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("aggregate condition: %w", err)
		}
		return c, nil
	case "logical":
		var raw struct {
			Operator      LogicalOp         `json:"operator"`
			SubConditions []json.RawMessage `json:"subConditions"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("logical condition: %w", err)
		}
		if raw.Operator != LogicalAnd && raw.Operator != LogicalOr {
			return nil, fmt.Errorf("logical condition: unknown operator %q", raw.Operator)
		}
		c := Logical{Operator: raw.Operator}
		for i, sub := range raw.SubConditions {
			decoded, err := DecodeCondition(sub)
			if err != nil {
				return nil, fmt.Errorf("logical sub-condition %d: %w", i, err)
			}
			c.SubConditions = append(c.SubConditions, decoded)
		}
		return c, nil
	case "custom":
		var c CustomCondition
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("custom condition: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", tag.Type)
	}
}

// DecodeCalculation parses one calculation document by its type tag.
func DecodeCalculation(data []byte) (Calculation, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("calculation: %w", err)
	}

	switch tag.Type {
	case "mathematical":
		var c Mathematical
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("mathematical calculation: %w", err)
		}
		switch c.Rounding {
		case RoundFloor, RoundCeil, RoundHalf:
		case "":
			c.Rounding = RoundFloor
		default:
			return nil, fmt.Errorf("mathematical calculation: unknown rounding mode %q", c.Rounding)
		}
		return c, nil
	case "fixed":
		var c Fixed
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("fixed calculation: %w", err)
		}
		return c, nil
	case "percentage":
		var c Percentage
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("percentage calculation: %w", err)
		}
		return c, nil
	case "custom":
		var c CustomCalculation
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("custom calculation: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown calculation type %q", tag.Type)
	}
}
