package rules

import (
	"strings"
	"testing"
)

func TestDecodeConditionKnownTypes(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want any
	}{
		{
			name: "fieldComparison",
			doc:  `{"type":"fieldComparison","field":"status","operator":"equals","value":"Premium"}`,
			want: FieldComparison{Field: "status", Operator: OpEquals, Value: "Premium"},
		},
		{
			name: "aggregate",
			doc:  `{"type":"aggregate","aggregation":"sum","field":"amount","operator":"gte","value":100}`,
			want: Aggregate{Aggregation: "sum", Field: "amount", Operator: AggGTE, Value: 100},
		},
		{
			name: "custom",
			doc:  `{"type":"custom","handler":"cel","params":{"expression":"true"}}`,
			want: CustomCondition{Handler: "cel", Params: map[string]any{"expression": "true"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCondition([]byte(tt.doc))
			if err != nil {
				t.Fatalf("DecodeCondition() failed: %v", err)
			}
			switch want := tt.want.(type) {
			case FieldComparison:
				if got != want {
					t.Errorf("got %+v, want %+v", got, want)
				}
			case Aggregate:
				if got != want {
					t.Errorf("got %+v, want %+v", got, want)
				}
			case CustomCondition:
				c, ok := got.(CustomCondition)
				if !ok || c.Handler != want.Handler {
					t.Errorf("got %+v, want %+v", got, want)
				}
			}
		})
	}
}

func TestDecodeConditionLogicalNested(t *testing.T) {
	doc := `{
		"type": "logical",
		"operator": "AND",
		"subConditions": [
			{"type":"fieldComparison","field":"status","operator":"equals","value":"Premium"},
			{"type":"logical","operator":"OR","subConditions":[
				{"type":"fieldComparison","field":"amount","operator":"greaterThan","value":50}
			]}
		]
	}`

	got, err := DecodeCondition([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeCondition() failed: %v", err)
	}

	logical, ok := got.(Logical)
	if !ok {
		t.Fatalf("expected Logical, got %T", got)
	}
	if logical.Operator != LogicalAnd {
		t.Errorf("operator = %q, want AND", logical.Operator)
	}
	if len(logical.SubConditions) != 2 {
		t.Fatalf("expected 2 sub-conditions, got %d", len(logical.SubConditions))
	}
	if _, ok := logical.SubConditions[1].(Logical); !ok {
		t.Errorf("expected nested Logical, got %T", logical.SubConditions[1])
	}
}

func TestDecodeConditionRejectsUnknownType(t *testing.T) {
	_, err := DecodeCondition([]byte(`{"type":"regex","pattern":".*"}`))
	if err == nil {
		t.Fatal("expected error for unknown condition type")
	}
	if !strings.Contains(err.Error(), "unknown condition type") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecodeConditionRejectsUnknownLogicalOperator(t *testing.T) {
	_, err := DecodeCondition([]byte(`{"type":"logical","operator":"XOR","subConditions":[]}`))
	if err == nil {
		t.Fatal("expected error for unknown logical operator")
	}
}

func TestDecodeCalculationDefaultsRoundingToFloor(t *testing.T) {
	got, err := DecodeCalculation([]byte(`{"type":"mathematical","fields":["amount"],"multiplier":0.01}`))
	if err != nil {
		t.Fatalf("DecodeCalculation() failed: %v", err)
	}

	m, ok := got.(Mathematical)
	if !ok {
		t.Fatalf("expected Mathematical, got %T", got)
	}
	if m.Rounding != RoundFloor {
		t.Errorf("rounding = %q, want floor", m.Rounding)
	}
}

func TestDecodeCalculationRejectsUnknownRounding(t *testing.T) {
	_, err := DecodeCalculation([]byte(`{"type":"mathematical","fields":["amount"],"multiplier":1,"rounding":"banker"}`))
	if err == nil {
		t.Fatal("expected error for unknown rounding mode")
	}
}

func TestDecodeCalculationRejectsUnknownType(t *testing.T) {
	_, err := DecodeCalculation([]byte(`{"type":"lookup","table":"points"}`))
	if err == nil {
		t.Fatal("expected error for unknown calculation type")
	}
}

func TestParseRuleSet(t *testing.T) {
	doc := `{
		"campaignId": "camp-1",
		"name": "Summer Promo",
		"version": 3,
		"rules": {
			"eligibility": [
				{"id":"e1","name":"premium only","condition":{"type":"fieldComparison","field":"tier","operator":"equals","value":"Premium"}}
			],
			"accrual": [
				{"id":"a1","condition":{"type":"fieldComparison","field":"amount","operator":"greaterThan","value":0},"calculation":{"type":"mathematical","fields":["amount"],"multiplier":0.01}},
				{"id":"a2","enabled":false,"condition":{"type":"fieldComparison","field":"amount","operator":"greaterThan","value":0},"calculation":{"type":"fixed","points":5}}
			],
			"bonus": []
		}
	}`

	rs, err := ParseRuleSet([]byte(doc))
	if err != nil {
		t.Fatalf("ParseRuleSet() failed: %v", err)
	}

	if rs.CampaignID != "camp-1" || rs.Version != 3 {
		t.Errorf("unexpected header: %+v", rs)
	}
	if len(rs.Eligibility) != 1 || len(rs.Accrual) != 2 {
		t.Fatalf("unexpected rule counts: %d eligibility, %d accrual", len(rs.Eligibility), len(rs.Accrual))
	}

	// Omitted enabled defaults to true; explicit false is kept.
	if !rs.Accrual[0].Enabled {
		t.Error("a1 should default to enabled")
	}
	if rs.Accrual[1].Enabled {
		t.Error("a2 should be disabled")
	}
	if rs.Eligibility[0].Calculation != nil {
		t.Error("eligibility rule should have no calculation")
	}

	enabled := rs.EnabledByCategory(CategoryAccrual)
	if len(enabled) != 1 || enabled[0].ID != "a1" {
		t.Errorf("EnabledByCategory should skip disabled rules, got %d", len(enabled))
	}
}

func TestParseRuleSetRequiresCalculationForAccrual(t *testing.T) {
	doc := `{
		"campaignId": "camp-1",
		"rules": {
			"accrual": [
				{"id":"a1","condition":{"type":"fieldComparison","field":"amount","operator":"greaterThan","value":0}}
			]
		}
	}`

	_, err := ParseRuleSet([]byte(doc))
	if err == nil {
		t.Fatal("expected error for accrual rule without calculation")
	}
	if !strings.Contains(err.Error(), "missing calculation") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseRuleSetPropagatesBadCondition(t *testing.T) {
	doc := `{
		"campaignId": "camp-1",
		"rules": {
			"eligibility": [
				{"id":"e1","condition":{"type":"nonsense"}}
			]
		}
	}`

	if _, err := ParseRuleSet([]byte(doc)); err == nil {
		t.Fatal("expected error for unknown condition type inside rule set")
	}
}
