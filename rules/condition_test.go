package rules

import (
	"errors"
	"testing"

	"github.com/loyaltyops/accrual-core/transaction"
)

func testTxn(data transaction.FieldMap) *transaction.Transaction {
	return &transaction.Transaction{
		ID:         "txn-1",
		CampaignID: "camp-1",
		UserID:     "user-1",
		Data:       data,
	}
}

func TestEvaluateFieldComparison(t *testing.T) {
	txn := testTxn(transaction.FieldMap{
		"tier":   "Premium",
		"amount": 125.5,
		"count":  "3",
		"sku":    "PROMO-2024-SUMMER",
	})

	tests := []struct {
		name string
		cond FieldComparison
		want bool
	}{
		{"equals string", FieldComparison{Field: "tier", Operator: OpEquals, Value: "Premium"}, true},
		{"equals mismatch", FieldComparison{Field: "tier", Operator: OpEquals, Value: "Standard"}, false},
		{"notEquals", FieldComparison{Field: "tier", Operator: OpNotEquals, Value: "Standard"}, true},
		{"equals numeric string vs number", FieldComparison{Field: "count", Operator: OpEquals, Value: 3}, true},
		{"greaterThan", FieldComparison{Field: "amount", Operator: OpGreaterThan, Value: 100}, true},
		{"greaterThan false", FieldComparison{Field: "amount", Operator: OpGreaterThan, Value: 200}, false},
		{"greaterThanOrEqual boundary", FieldComparison{Field: "amount", Operator: OpGreaterThanOrEqual, Value: 125.5}, true},
		{"lessThan", FieldComparison{Field: "amount", Operator: OpLessThan, Value: 200}, true},
		{"lessThanOrEqual", FieldComparison{Field: "amount", Operator: OpLessThanOrEqual, Value: 125.5}, true},
		{"greaterThan on numeric string", FieldComparison{Field: "count", Operator: OpGreaterThan, Value: 2}, true},
		{"contains", FieldComparison{Field: "sku", Operator: OpContains, Value: "2024"}, true},
		{"startsWith", FieldComparison{Field: "sku", Operator: OpStartsWith, Value: "PROMO"}, true},
		{"endsWith", FieldComparison{Field: "sku", Operator: OpEndsWith, Value: "SUMMER"}, true},
		{"endsWith false", FieldComparison{Field: "sku", Operator: OpEndsWith, Value: "WINTER"}, false},
	}

	e := NewEvaluator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateCondition(tt.cond, txn)
			if err != nil {
				t.Fatalf("EvaluateCondition() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateFieldComparisonErrors(t *testing.T) {
	txn := testTxn(transaction.FieldMap{"tier": "Premium"})
	e := NewEvaluator(nil)

	// Missing field is an evaluation error, not false.
	if _, err := e.EvaluateCondition(FieldComparison{Field: "missing", Operator: OpEquals, Value: 1}, txn); err == nil {
		t.Error("expected error for missing field")
	}

	// Ordering operator on a non-numeric field fails loudly.
	if _, err := e.EvaluateCondition(FieldComparison{Field: "tier", Operator: OpGreaterThan, Value: 10}, txn); err == nil {
		t.Error("expected error for non-numeric ordering comparison")
	}
}

func TestEvaluateAggregate(t *testing.T) {
	txn := testTxn(transaction.FieldMap{"amount": 100.0})
	e := NewEvaluator(nil)

	tests := []struct {
		op   AggregateOp
		val  float64
		want bool
	}{
		{AggGTE, 100, true},
		{AggGTE, 101, false},
		{AggGT, 99, true},
		{AggGT, 100, false},
		{AggLTE, 100, true},
		{AggLT, 100, false},
		{AggEQ, 100, true},
		{AggEQ, 99, false},
	}

	for _, tt := range tests {
		got, err := e.EvaluateCondition(Aggregate{Aggregation: "sum", Field: "amount", Operator: tt.op, Value: tt.val}, txn)
		if err != nil {
			t.Fatalf("aggregate %s %v failed: %v", tt.op, tt.val, err)
		}
		if got != tt.want {
			t.Errorf("aggregate %s %v = %v, want %v", tt.op, tt.val, got, tt.want)
		}
	}
}

func TestEvaluateLogical(t *testing.T) {
	txn := testTxn(transaction.FieldMap{"tier": "Premium", "amount": 50.0})
	e := NewEvaluator(nil)

	premium := FieldComparison{Field: "tier", Operator: OpEquals, Value: "Premium"}
	big := FieldComparison{Field: "amount", Operator: OpGreaterThan, Value: 100}

	tests := []struct {
		name string
		cond Logical
		want bool
	}{
		{"AND all true", Logical{Operator: LogicalAnd, SubConditions: []Condition{premium}}, true},
		{"AND one false", Logical{Operator: LogicalAnd, SubConditions: []Condition{premium, big}}, false},
		{"OR one true", Logical{Operator: LogicalOr, SubConditions: []Condition{big, premium}}, true},
		{"OR all false", Logical{Operator: LogicalOr, SubConditions: []Condition{big}}, false},
		{"empty AND", Logical{Operator: LogicalAnd}, true},
		{"empty OR", Logical{Operator: LogicalOr}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateCondition(tt.cond, txn)
			if err != nil {
				t.Fatalf("EvaluateCondition() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogicalShortCircuitSkipsErrors(t *testing.T) {
	txn := testTxn(transaction.FieldMap{"tier": "Standard"})
	e := NewEvaluator(nil)

	// The second sub-condition would error (missing field), but AND
	// stops at the first false.
	cond := Logical{Operator: LogicalAnd, SubConditions: []Condition{
		FieldComparison{Field: "tier", Operator: OpEquals, Value: "Premium"},
		FieldComparison{Field: "missing", Operator: OpGreaterThan, Value: 1},
	}}

	got, err := e.EvaluateCondition(cond, txn)
	if err != nil {
		t.Fatalf("short-circuit should avoid the error: %v", err)
	}
	if got {
		t.Error("expected false")
	}
}

func TestCustomConditionDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterCondition("always", func(params map[string]any, _ *transaction.Transaction) (bool, error) {
		return params["result"] == true, nil
	})
	e := NewEvaluator(reg)
	txn := testTxn(transaction.FieldMap{})

	got, err := e.EvaluateCondition(CustomCondition{Handler: "always", Params: map[string]any{"result": true}}, txn)
	if err != nil {
		t.Fatalf("custom condition failed: %v", err)
	}
	if !got {
		t.Error("expected true from custom handler")
	}
}

func TestCustomConditionUnregisteredHandler(t *testing.T) {
	e := NewEvaluator(nil)
	txn := testTxn(transaction.FieldMap{})

	_, err := e.EvaluateCondition(CustomCondition{Handler: "ghost"}, txn)
	if !errors.Is(err, ErrHandlerNotRegistered) {
		t.Errorf("expected ErrHandlerNotRegistered, got %v", err)
	}
}
