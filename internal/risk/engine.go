// Package risk derives the advisory risk level of a deal from CEL rules.
package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/commission/internal/domain"
)

// Engine compiles and evaluates risk rules.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*compiledRule
	maxWorkers int
}

type compiledRule struct {
	rule    *domain.RiskRule
	program cel.Program
}

// Input is the deal data visible to rule expressions.
type Input struct {
	Amount      float64
	DealType    domain.DealType
	Priority    domain.Priority
	Currency    string
	RecentDeals int64
}

// NewEngine creates a rule engine evaluating at most maxWorkers rules at once.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("deal_type", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("recent_deals", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*compiledRule),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles rule without loading it.
func (e *Engine) Validate(rule *domain.RiskRule) error {
	if rule == nil {
		return domain.Invalid("rule", "is required")
	}
	if rule.ID == "" {
		return domain.Invalid("id", "is required")
	}
	if rule.Weight < 0 {
		return domain.Invalid("weight", "must not be negative")
	}
	_, err := e.compile(rule)
	return err
}

// Reload replaces the loaded rule set. Disabled rules are skipped. On a
// compile error the previous set stays loaded.
func (e *Engine) Reload(rules []*domain.RiskRule) error {
	next := make(map[string]*compiledRule, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		c, err := e.compile(r)
		if err != nil {
			return err
		}
		next[r.ID] = c
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// Rules returns the loaded rules ordered by id.
func (e *Engine) Rules() []*domain.RiskRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RiskRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Evaluate runs every loaded rule against in, in parallel. Results are
// ordered by rule id.
func (e *Engine) Evaluate(ctx context.Context, in Input) []domain.RiskRuleResult {
	e.mu.RLock()
	rules := make([]*compiledRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		rules = append(rules, c)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].rule.ID < rules[j].rule.ID })

	activation := map[string]any{
		"amount":       in.Amount,
		"deal_type":    string(in.DealType),
		"priority":     string(in.Priority),
		"currency":     in.Currency,
		"recent_deals": in.RecentDeals,
	}

	results := make([]domain.RiskRuleResult, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, r := range rules {
		wg.Add(1)
		go func(idx int, c *compiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluate(ctx, c, activation)
		}(i, r)
	}

	wg.Wait()
	return results
}

func evaluate(ctx context.Context, c *compiledRule, activation map[string]any) domain.RiskRuleResult {
	result := domain.RiskRuleResult{
		RuleID: c.rule.ID,
		Weight: c.rule.Weight,
	}

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result
	}

	out, _, err := c.program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	result.Score = clamp(toScore(out))
	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

func (e *Engine) compile(rule *domain.RiskRule) (*compiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, domain.Invalid("expression", "rule %s does not compile: %v", rule.ID, issues.Err())
	}

	out := ast.OutputType()
	if out != cel.BoolType && out != cel.DoubleType && out != cel.IntType {
		return nil, domain.Invalid("expression", "rule %s must return bool, int, or double, got %s", rule.ID, out)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &compiledRule{rule: rule, program: program}, nil
}
