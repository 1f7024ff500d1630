// Package processor applies a campaign's rule set to transactions.
//
// Processing one transaction is pure: the processor reads the
// transaction and rule set and returns a result plus the accrual calls
// owed to the ledger. Persistence and dispatch happen in the batch
// runner, keeping this component trivially testable.
package processor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loyaltyops/accrual-core/internal/logger"
	"github.com/loyaltyops/accrual-core/ledger"
	"github.com/loyaltyops/accrual-core/rules"
	"github.com/loyaltyops/accrual-core/transaction"
)

// RuleEvaluationResult is the audit record for one evaluated rule. It is
// the system's explanation for why a transaction did or did not earn
// points.
type RuleEvaluationResult struct {
	RuleID   string         `json:"ruleId"`
	RuleName string         `json:"ruleName,omitempty"`
	Category rules.Category `json:"category"`
	Passed   bool           `json:"passed"`
	Points   int            `json:"points"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Result is the outcome of processing one transaction.
type Result struct {
	TransactionID   string                 `json:"transactionId"`
	Success         bool                   `json:"success"`
	PointsAllocated int                    `json:"pointsAllocated"`
	RulesEvaluated  []RuleEvaluationResult `json:"rulesEvaluated"`
	AccrualCalls    []*ledger.AccrualCall  `json:"accrualCalls"`
	Error           string                 `json:"error,omitempty"`
}

// Processor runs the eligibility -> accrual -> bonus pipeline.
type Processor struct {
	evaluator *rules.Evaluator
	logger    logger.Interface
}

func New(evaluator *rules.Evaluator, log logger.Interface) *Processor {
	return &Processor{evaluator: evaluator, logger: log}
}

// Process evaluates the rule set against one transaction.
//
// Stages run strictly in order: every enabled eligibility rule must
// pass before any accrual or bonus rule is evaluated. An eligibility
// failure or error rejects the transaction with zero points. Accrual
// and bonus rules evaluate independently; a failing rule's error is
// recorded on its own result and the remaining rules still run.
func (p *Processor) Process(txn *transaction.Transaction, rs *rules.RuleSet) *Result {
	result := &Result{TransactionID: txn.ID}

	for _, rule := range rs.EnabledByCategory(rules.CategoryEligibility) {
		evalResult := p.evalCondition(rule, txn)
		result.RulesEvaluated = append(result.RulesEvaluated, evalResult)

		if !evalResult.Passed {
			result.Success = false
			result.PointsAllocated = 0
			if evalResult.Error != "" {
				result.Error = fmt.Sprintf("eligibility rule %s: %s", rule.ID, evalResult.Error)
			} else {
				result.Error = fmt.Sprintf("eligibility rule %s not satisfied", rule.ID)
			}
			return result
		}
	}

	result.Success = true
	p.applyEarningRules(txn, rs, rules.CategoryAccrual, result)
	p.applyEarningRules(txn, rs, rules.CategoryBonus, result)

	return result
}

// applyEarningRules evaluates accrual or bonus rules, accumulating
// points and emitting one accrual call per passing rule.
func (p *Processor) applyEarningRules(txn *transaction.Transaction, rs *rules.RuleSet, cat rules.Category, result *Result) {
	for _, rule := range rs.EnabledByCategory(cat) {
		start := time.Now()
		evalResult := RuleEvaluationResult{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Category: cat,
		}

		passed, err := p.evaluator.EvaluateCondition(rule.Condition, txn)
		if err != nil {
			evalResult.Error = err.Error()
			evalResult.Duration = time.Since(start)
			result.RulesEvaluated = append(result.RulesEvaluated, evalResult)
			p.logger.Warn("rule condition failed",
				"rule_id", rule.ID, "transaction_id", txn.ID, "error", err)
			continue
		}

		if passed {
			points, calcErr := p.evaluator.EvaluateCalculation(rule.Calculation, txn)
			if calcErr != nil {
				evalResult.Error = calcErr.Error()
				evalResult.Duration = time.Since(start)
				result.RulesEvaluated = append(result.RulesEvaluated, evalResult)
				p.logger.Warn("rule calculation failed",
					"rule_id", rule.ID, "transaction_id", txn.ID, "error", calcErr)
				continue
			}

			evalResult.Passed = true
			evalResult.Points = points
			result.PointsAllocated += points
			result.AccrualCalls = append(result.AccrualCalls, &ledger.AccrualCall{
				ID:            uuid.NewString(),
				CampaignID:    txn.CampaignID,
				UserID:        txn.UserID,
				Points:        points,
				RuleID:        rule.ID,
				TransactionID: txn.ID,
				Description:   fmt.Sprintf("%s rule %s", cat, rule.ID),
				Priority:      rule.Priority,
				Metadata: map[string]any{
					"externalId":   txn.ExternalID,
					"externalType": txn.ExternalType,
				},
			})
		}

		evalResult.Duration = time.Since(start)
		result.RulesEvaluated = append(result.RulesEvaluated, evalResult)
	}
}

func (p *Processor) evalCondition(rule *rules.Rule, txn *transaction.Transaction) RuleEvaluationResult {
	start := time.Now()
	evalResult := RuleEvaluationResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Category: rule.Category,
	}

	passed, err := p.evaluator.EvaluateCondition(rule.Condition, txn)
	if err != nil {
		evalResult.Error = err.Error()
	} else {
		evalResult.Passed = passed
	}
	evalResult.Duration = time.Since(start)
	return evalResult
}
