package rules

import (
	"fmt"
	"strings"

	"github.com/loyaltyops/accrual-core/transaction"
)

// Evaluator evaluates conditions and calculations against transactions.
// Evaluation is pure: no side effects, no persistence. A returned error
// belongs to the rule being evaluated, never to the process.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator creates an evaluator. A nil registry means no custom
// handlers are available.
func NewEvaluator(registry *Registry) *Evaluator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Evaluator{registry: registry}
}

// EvaluateCondition resolves a condition tree against the transaction.
func (e *Evaluator) EvaluateCondition(cond Condition, txn *transaction.Transaction) (bool, error) {
	switch c := cond.(type) {
	case FieldComparison:
		return e.evalFieldComparison(c, txn)
	case Aggregate:
		return e.evalAggregate(c, txn)
	case Logical:
		return e.evalLogical(c, txn)
	case CustomCondition:
		handler, ok := e.registry.condition(c.Handler)
		if !ok {
			return false, fmt.Errorf("condition handler %q: %w", c.Handler, ErrHandlerNotRegistered)
		}
		return handler(c.Params, txn)
	default:
		return false, fmt.Errorf("unsupported condition %T", cond)
	}
}

func (e *Evaluator) evalFieldComparison(c FieldComparison, txn *transaction.Transaction) (bool, error) {
	raw, ok := txn.Data.Get(c.Field)
	if !ok {
		return false, fmt.Errorf("field %q not present", c.Field)
	}

	switch c.Operator {
	case OpEquals, OpNotEquals:
		equal := looseEqual(raw, c.Value)
		if c.Operator == OpNotEquals {
			return !equal, nil
		}
		return equal, nil

	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		// Numeric operators coerce both sides, failing loudly rather
		// than defaulting to false.
		left, err := txn.Data.Number(c.Field)
		if err != nil {
			return false, err
		}
		right, err := transaction.CoerceNumber(c.Value)
		if err != nil {
			return false, fmt.Errorf("comparison value for field %q: %w", c.Field, err)
		}
		switch c.Operator {
		case OpGreaterThan:
			return left > right, nil
		case OpGreaterThanOrEqual:
			return left >= right, nil
		case OpLessThan:
			return left < right, nil
		default:
			return left <= right, nil
		}

	case OpContains, OpStartsWith, OpEndsWith:
		left, err := txn.Data.String(c.Field)
		if err != nil {
			return false, err
		}
		right := fmt.Sprintf("%v", c.Value)
		switch c.Operator {
		case OpContains:
			return strings.Contains(left, right), nil
		case OpStartsWith:
			return strings.HasPrefix(left, right), nil
		default:
			return strings.HasSuffix(left, right), nil
		}

	default:
		return false, fmt.Errorf("unknown comparison operator %q", c.Operator)
	}
}

// evalAggregate compares the named field of the current transaction
// against the threshold. Aggregation across transactions is out of
// scope; the Aggregation name is carried for audit only.
func (e *Evaluator) evalAggregate(c Aggregate, txn *transaction.Transaction) (bool, error) {
	left, err := txn.Data.Number(c.Field)
	if err != nil {
		return false, err
	}

	switch c.Operator {
	case AggGTE:
		return left >= c.Value, nil
	case AggGT:
		return left > c.Value, nil
	case AggLTE:
		return left <= c.Value, nil
	case AggLT:
		return left < c.Value, nil
	case AggEQ:
		return left == c.Value, nil
	default:
		return false, fmt.Errorf("unknown aggregate operator %q", c.Operator)
	}
}

// evalLogical short-circuits: AND stops at the first false, OR at the
// first true. Empty AND is true, empty OR is false.
func (e *Evaluator) evalLogical(c Logical, txn *transaction.Transaction) (bool, error) {
	switch c.Operator {
	case LogicalAnd:
		for _, sub := range c.SubConditions {
			ok, err := e.EvaluateCondition(sub, txn)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case LogicalOr:
		for _, sub := range c.SubConditions {
			ok, err := e.EvaluateCondition(sub, txn)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown logical operator %q", c.Operator)
	}
}

// looseEqual compares numerically when both sides coerce to numbers,
// falling back to string comparison otherwise.
func looseEqual(left, right any) bool {
	ln, lerr := transaction.CoerceNumber(left)
	rn, rerr := transaction.CoerceNumber(right)
	if lerr == nil && rerr == nil {
		return ln == rn
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}
