package rules

import (
	"fmt"
	"math"

	"github.com/loyaltyops/accrual-core/transaction"
)

// EvaluateCalculation computes the point amount for a calculation.
// Results are clamped to zero or above; a calculation can never take
// points away.
func (e *Evaluator) EvaluateCalculation(calc Calculation, txn *transaction.Transaction) (int, error) {
	switch c := calc.(type) {
	case Mathematical:
		sum, err := sumFields(c.Fields, txn)
		if err != nil {
			return 0, err
		}
		return clamp(round(sum*c.Multiplier, c.Rounding)), nil

	case Fixed:
		return clamp(c.Points), nil

	case Percentage:
		sum, err := sumFields(c.Fields, txn)
		if err != nil {
			return 0, err
		}
		return clamp(int(math.Floor(sum * c.Percentage / 100))), nil

	case CustomCalculation:
		handler, ok := e.registry.calculation(c.Handler)
		if !ok {
			return 0, fmt.Errorf("calculation handler %q: %w", c.Handler, ErrHandlerNotRegistered)
		}
		points, err := handler(c.Params, txn)
		if err != nil {
			return 0, err
		}
		return clamp(points), nil

	default:
		return 0, fmt.Errorf("unsupported calculation %T", calc)
	}
}

func sumFields(fields []string, txn *transaction.Transaction) (float64, error) {
	var sum float64
	for _, f := range fields {
		v, err := txn.Data.Number(f)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

// round applies the declared rounding mode. "round" is half away from
// zero, matching math.Round.
func round(v float64, mode RoundingMode) int {
	switch mode {
	case RoundCeil:
		return int(math.Ceil(v))
	case RoundHalf:
		return int(math.Round(v))
	default:
		return int(math.Floor(v))
	}
}

func clamp(points int) int {
	if points < 0 {
		return 0
	}
	return points
}
