package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Limits on condition expressions. Expressions come from the plugin
// configuration document, which may be operator-editable at deploy time, so
// compile and evaluation are both bounded.
const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	interruptCheckFreq  = 100
	exprEvalTimeout     = 5 * time.Second
)

// ExprEvaluator compiles and evaluates the optional CEL expression clause of
// plugin conditions. All expressions are compiled during manager
// initialization; the program cache is read-only afterwards, so concurrent
// dispatches evaluate without locking.
type ExprEvaluator struct {
	env      *cel.Env
	programs map[string]cel.Program
}

// NewExprEvaluator creates an evaluator whose environment exposes the global
// context fields and the payload identifier.
func NewExprEvaluator() (*ExprEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("request_id", cel.StringType),
		cel.Variable("server_id", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("user", cel.StringType),
		cel.Variable("payload", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create expression environment: %w", err)
	}
	return &ExprEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile parses, checks, and caches an expression. Called once per distinct
// expression during initialization; compilation failures are fatal
// configuration errors.
func (e *ExprEvaluator) Compile(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if _, ok := e.programs[expr]; ok {
		return nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile expression: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return fmt.Errorf("build expression program: %w", err)
	}
	e.programs[expr] = prg
	return nil
}

// Eval evaluates a previously compiled expression against the global context
// and payload identifier. Returns false with an error for expressions that
// were never compiled, fail at runtime, or do not produce a boolean.
func (e *ExprEvaluator) Eval(expr string, g *GlobalContext, matchValue string) (bool, error) {
	if e == nil {
		return false, errors.New("no expression evaluator configured")
	}
	prg, ok := e.programs[expr]
	if !ok {
		return false, fmt.Errorf("expression not compiled: %q", expr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), exprEvalTimeout)
	defer cancel()

	out, _, err := prg.ContextEval(ctx, map[string]any{
		"request_id": g.RequestID,
		"server_id":  g.ServerID,
		"tenant_id":  g.TenantID,
		"user":       g.User,
		"payload":    matchValue,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", out.Value())
	}
	return b, nil
}
