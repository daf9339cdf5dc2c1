// Package cel provides a CEL-based rule evaluator shared by the device
// tracker's enforcement overrides and the update coordinator's custom
// preflight checks.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/one-ui/control-plane/internal/domain/rule"
)

// maxExpressionLength is the maximum allowed length for a rule condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL conditions for rule.Rule values.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates a new CEL evaluator with the shared rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a CEL expression, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a CEL expression is syntactically valid and
// safe to evaluate (expression length, nesting depth, compile-time checks).
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	_, err := e.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}

	return nil
}

// Evaluate runs a compiled CEL program against the given evaluation context.
// Returns true if the condition evaluates to true, false otherwise.
func (e *Evaluator) Evaluate(prg cel.Program, evalCtx rule.EvaluationContext) (bool, error) {
	activation := BuildActivation(evalCtx)

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}

// EvaluateRules walks rules in order and returns the first match. Callers
// (device tracker, update coordinator) compile rules lazily via Compile and
// may cache the compiled program; this helper is for the simple ad hoc case
// where rules change infrequently and recompilation cost is acceptable.
func (e *Evaluator) EvaluateRules(rules []rule.Rule, evalCtx rule.EvaluationContext) (rule.Decision, error) {
	for _, r := range rules {
		prg, err := e.Compile(r.Condition)
		if err != nil {
			return rule.Decision{}, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		matched, err := e.Evaluate(prg, evalCtx)
		if err != nil {
			return rule.Decision{}, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if matched {
			return rule.Decision{Matched: true, RuleName: r.Name, Outcome: r.Action}, nil
		}
	}
	return rule.Decision{}, nil
}
