// Package policy implements the PolicyEvaluator and policy-rule composition
// rules of spec.md §4.9 and the execution-pipeline policy steps of §4.8.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/mxcp-io/mxcp-core/internal/celengine"
	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/value"
)

// Phase identifies whether a rule gates execution (input) or transforms the
// result (output), per the PolicyRule.applies_to field in spec.md §3.
type Phase string

const (
	Input  Phase = "input"
	Output Phase = "output"
)

// Action is the repertoire of spec.md §3/§4.8 policy actions.
type Action string

const (
	ActionDeny                  Action = "deny"
	ActionFilterFields          Action = "filter_fields"
	ActionFilterSensitiveFields Action = "filter_sensitive_fields"
	ActionMaskFields            Action = "mask_fields"
)

// Rule is one declared (condition, action, reason) triple from endpoint YAML.
type Rule struct {
	AppliesTo Phase
	Condition string
	Action    Action
	Fields    []string
	Reason    string
}

// Decision is the outcome recorded in the audit record's policy_decision
// field.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionFilter Decision = "filter"
	DecisionMask  Decision = "mask"
	DecisionNA    Decision = "n/a"
	DecisionError Decision = "error"
)

// reservedNames cannot be shadowed by endpoint parameters (spec.md §4.9).
var reservedNames = map[string]struct{}{"user": {}, "response": {}}

// CompiledRule pairs a Rule with its compiled CEL condition.
type CompiledRule struct {
	Rule Rule
	expr *celengine.CompiledExpression
}

// Evaluator compiles and evaluates policy rules. It is stateless beyond the
// compiled-expression results it returns to callers, who are expected to
// cache CompiledRule slices as part of their ReloadGeneration (spec.md
// §4.9: "Compiles CEL-subset expressions once per rule and caches per
// ReloadGeneration").
type Evaluator struct{}

func New() *Evaluator { return &Evaluator{} }

// CompileInput builds an input-phase CEL environment binding `user` plus
// each named endpoint parameter at the top level, then compiles every input
// rule against it. A parameter literally named "user" collides with the
// reserved binding; the reserved binding wins and a warning is logged,
// matching spec.md §4.9.
func (*Evaluator) CompileInput(endpointName string, paramNames []string, rules []Rule) ([]*CompiledRule, error) {
	decls := []cel.EnvOption{
		ext.Strings(),
		cel.Variable("user", cel.DynType),
	}
	for _, name := range paramNames {
		if _, reserved := reservedNames[name]; reserved {
			logger.Warnw("endpoint parameter name collides with reserved CEL binding; reserved binding wins",
				"endpoint", endpointName, "parameter", name)
			continue
		}
		decls = append(decls, cel.Variable(name, cel.DynType))
	}

	engine, err := celengine.NewEngine(decls...)
	if err != nil {
		return nil, fmt.Errorf("policy: endpoint %s: building input CEL environment: %w", endpointName, err)
	}
	return compileRules(engine, rules, Input)
}

// CompileOutput builds the fixed {user, response} output-phase environment
// and compiles every output rule against it.
func (*Evaluator) CompileOutput(endpointName string, rules []Rule) ([]*CompiledRule, error) {
	engine, err := celengine.NewEngine(
		ext.Strings(),
		cel.Variable("user", cel.DynType),
		cel.Variable("response", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: endpoint %s: building output CEL environment: %w", endpointName, err)
	}
	return compileRules(engine, rules, Output)
}

func compileRules(engine *celengine.Engine, rules []Rule, phase Phase) ([]*CompiledRule, error) {
	out := make([]*CompiledRule, 0, len(rules))
	for i, r := range rules {
		if r.AppliesTo != phase {
			continue
		}
		expr, err := engine.Compile(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %d (%q): %w", i, r.Condition, err)
		}
		out = append(out, &CompiledRule{Rule: r, expr: expr})
	}
	return out, nil
}

// InputResult is returned by EvaluateInput.
type InputResult struct {
	Decision Decision
	Reason   string
}

// EvaluateInput runs each compiled input rule in declaration order. The
// first rule whose condition evaluates true and whose action is deny stops
// evaluation and returns DecisionDeny with that rule's reason. A runtime
// evaluation error is total: it stops evaluation immediately with
// DecisionError (spec.md §4.9 "Evaluation must be total").
func (*Evaluator) EvaluateInput(rules []*CompiledRule, user map[string]any, params map[string]any) InputResult {
	vars := make(map[string]any, len(params)+1)
	for k, v := range params {
		if _, reserved := reservedNames[k]; reserved {
			continue
		}
		vars[k] = v
	}
	vars["user"] = user

	for _, rule := range rules {
		matched, err := rule.expr.EvaluateBool(vars)
		if err != nil {
			return InputResult{Decision: DecisionError, Reason: err.Error()}
		}
		if !matched {
			continue
		}
		if rule.Rule.Action == ActionDeny {
			return InputResult{Decision: DecisionDeny, Reason: rule.Rule.Reason}
		}
	}
	return InputResult{Decision: DecisionAllow}
}

// OutputResult is returned by EvaluateOutput.
type OutputResult struct {
	Response value.Value
	Decision Decision
	Reason   string
}

// EvaluateOutput applies each matching output rule in declaration order to
// the response, each rule seeing the prior rule's output (spec.md §4.8:
// "later rules see the output of earlier rules"). policy_decision is the
// first non-trivial decision encountered (deny stops immediately; filter/
// mask remain the recorded decision even if later rules don't match).
func (*Evaluator) EvaluateOutput(
	rules []*CompiledRule,
	user map[string]any,
	response value.Value,
	sensitiveFields map[string]struct{},
) OutputResult {
	result := OutputResult{Response: response, Decision: DecisionAllow}

	for _, rule := range rules {
		vars := map[string]any{
			"user":     user,
			"response": result.Response.ToNative(),
		}
		matched, err := rule.expr.EvaluateBool(vars)
		if err != nil {
			return OutputResult{Response: result.Response, Decision: DecisionError, Reason: err.Error()}
		}
		if !matched {
			continue
		}

		switch rule.Rule.Action {
		case ActionDeny:
			return OutputResult{Response: result.Response, Decision: DecisionDeny, Reason: rule.Rule.Reason}
		case ActionFilterFields:
			result.Response = result.Response.WithoutFields(toSet(rule.Rule.Fields))
			if result.Decision == DecisionAllow {
				result.Decision, result.Reason = DecisionFilter, rule.Rule.Reason
			}
		case ActionFilterSensitiveFields:
			result.Response = result.Response.WithoutFields(sensitiveFields)
			if result.Decision == DecisionAllow {
				result.Decision, result.Reason = DecisionFilter, rule.Rule.Reason
			}
		case ActionMaskFields:
			result.Response = result.Response.WithMaskedFields(toSet(rule.Rule.Fields), "****")
			if result.Decision == DecisionAllow {
				result.Decision, result.Reason = DecisionMask, rule.Rule.Reason
			}
		}
	}

	return result
}

func toSet(fields []string) map[string]struct{} {
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}
