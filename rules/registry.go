package rules

import (
	"errors"
	"sync"

	"github.com/loyaltyops/accrual-core/transaction"
)

// ErrHandlerNotRegistered is returned when a custom condition or
// calculation names a handler nobody registered.
var ErrHandlerNotRegistered = errors.New("custom handler not registered")

// ConditionHandler evaluates a custom condition against a transaction.
type ConditionHandler func(params map[string]any, txn *transaction.Transaction) (bool, error)

// CalculationHandler computes points for a custom calculation.
type CalculationHandler func(params map[string]any, txn *transaction.Transaction) (int, error)

// Registry holds the custom handlers available to an evaluator.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	mu           sync.RWMutex
	conditions   map[string]ConditionHandler
	calculations map[string]CalculationHandler
}

func NewRegistry() *Registry {
	return &Registry{
		conditions:   make(map[string]ConditionHandler),
		calculations: make(map[string]CalculationHandler),
	}
}

// RegisterCondition makes a condition handler available under name,
// replacing any previous registration.
func (r *Registry) RegisterCondition(name string, h ConditionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions[name] = h
}

// RegisterCalculation makes a calculation handler available under name,
// replacing any previous registration.
func (r *Registry) RegisterCalculation(name string, h CalculationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calculations[name] = h
}

func (r *Registry) condition(name string) (ConditionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.conditions[name]
	return h, ok
}

func (r *Registry) calculation(name string) (CalculationHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.calculations[name]
	return h, ok
}
