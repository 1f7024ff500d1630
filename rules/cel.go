package rules

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/loyaltyops/accrual-core/transaction"
)

// celCostLimit bounds expression evaluation so a runaway custom
// expression cannot exhaust the process.
const celCostLimit = 1_000_000

// CELHandler backs "custom" conditions and calculations with CEL
// expressions. The opaque params carry an "expression" string evaluated
// against a single dynamic variable, txn, bound to the transaction's
// field map. Compiled programs are cached by expression; the cache is
// safe for concurrent use.
type CELHandler struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELHandler builds the CEL environment.
func NewCELHandler() (*CELHandler, error) {
	env, err := cel.NewEnv(
		cel.Variable("txn", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELHandler{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Register wires the handler into a registry under the "cel" name.
func (h *CELHandler) Register(reg *Registry) {
	reg.RegisterCondition("cel", h.Condition)
	reg.RegisterCalculation("cel", h.Calculation)
}

// Condition evaluates the expression and expects a boolean result.
// Non-boolean results are treated as false.
func (h *CELHandler) Condition(params map[string]any, txn *transaction.Transaction) (bool, error) {
	out, err := h.eval(params, txn)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	return ok && b, nil
}

// Calculation evaluates the expression and expects a numeric result,
// truncated to an int.
func (h *CELHandler) Calculation(params map[string]any, txn *transaction.Transaction) (int, error) {
	out, err := h.eval(params, txn)
	if err != nil {
		return 0, err
	}
	switch n := out.(type) {
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("CEL calculation result %d overflows int", n)
		}
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("CEL calculation returned %T, want number", out)
	}
}

func (h *CELHandler) eval(params map[string]any, txn *transaction.Transaction) (any, error) {
	expr, ok := params["expression"].(string)
	if !ok || expr == "" {
		return nil, fmt.Errorf("custom handler params missing expression")
	}

	prog, err := h.program(expr)
	if err != nil {
		return nil, err
	}

	out, _, err := prog.Eval(map[string]any{
		"txn": map[string]any(txn.Data),
	})
	if err != nil {
		return nil, fmt.Errorf("CEL evaluation: %w", err)
	}
	return out.Value(), nil
}

func (h *CELHandler) program(expr string) (cel.Program, error) {
	h.mu.RLock()
	prog, ok := h.programs[expr]
	h.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := h.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := h.env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	h.mu.Lock()
	h.programs[expr] = prog
	h.mu.Unlock()

	return prog, nil
}
