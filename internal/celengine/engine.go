// Package celengine is a thin wrapper around google/cel-go, grounded on
// toolhive's pkg/auth/awssts role_mapper.go pattern (NewEngine / Compile /
// Evaluate over a cel.Env with declared Variable bindings). toolhive itself
// routes this through a private module (stacklok/toolhive-core/cel); this
// package inlines the same small surface directly over cel-go, which is the
// real, fetchable dependency toolhive-core wraps.
package celengine

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Engine owns a cel.Env built from a fixed set of variable declarations and
// compiles expressions against it.
type Engine struct {
	env *cel.Env
}

// NewEngine builds an Engine whose expressions may reference the given
// variables (typically produced via cel.Variable(name, celType)).
func NewEngine(decls ...cel.EnvOption) (*Engine, error) {
	env, err := cel.NewEnv(decls...)
	if err != nil {
		return nil, fmt.Errorf("celengine: failed to build environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// CompiledExpression is a parsed-and-checked CEL program ready to evaluate
// repeatedly against different activations. Compilation happens once per
// reload generation; the compiled policy rules that wrap these are held by
// the registry's CompiledEndpoint, not cached by PolicyEvaluator.
type CompiledExpression struct {
	ast     *cel.Ast
	program cel.Program
	source  string
}

// Source returns the original expression text, useful for error messages and
// audit logging.
func (c *CompiledExpression) Source() string { return c.source }

// Compile parses and type-checks expr against the Engine's environment.
func (e *Engine) Compile(expr string) (*CompiledExpression, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("celengine: compile %q: %w", expr, issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("celengine: program %q: %w", expr, err)
	}

	return &CompiledExpression{ast: ast, program: program, source: expr}, nil
}

// Evaluate runs the compiled expression against the given variable bindings
// and returns its native Go result plus an error for any CEL runtime
// failure. Evaluation is total: it never panics, converting any CEL runtime
// error into a regular Go error.
func (c *CompiledExpression) Evaluate(vars map[string]any) (ref any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("celengine: expression %q panicked during evaluation: %v", c.source, r)
		}
	}()

	out, _, evalErr := c.program.Eval(vars)
	if evalErr != nil {
		return nil, fmt.Errorf("celengine: evaluate %q: %w", c.source, evalErr)
	}
	return out.Value(), nil
}

// EvaluateBool runs the compiled expression and requires a boolean result,
// the shape every PolicyRule condition must produce.
func (c *CompiledExpression) EvaluateBool(vars map[string]any) (bool, error) {
	out, err := c.Evaluate(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("celengine: expression %q did not evaluate to a boolean (got %T)", c.source, out)
	}
	return b, nil
}
