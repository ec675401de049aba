// Package execution implements the ExecutionEngine of spec.md §4.8: the
// per-request pipeline that takes an admitted MCP tool/resource/prompt call
// through parameter binding, input validation, input policy, dispatch,
// output validation, output policy and audit emission.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/mxcp-io/mxcp-core/internal/auth"
	"github.com/mxcp-io/mxcp-core/internal/mxerr"
	"github.com/mxcp-io/mxcp-core/internal/policy"
	"github.com/mxcp-io/mxcp-core/internal/registry"
	"github.com/mxcp-io/mxcp-core/internal/sqlengine"
	"github.com/mxcp-io/mxcp-core/internal/value"
)

// NativeFunction is a gateway-built-in implementation referenced by an
// endpoint's source.native field, as opposed to inline/file SQL.
type NativeFunction func(ctx context.Context, params map[string]any) (value.Value, error)

// AuditFunc receives one completed call's record. internal/audit supplies
// the concrete sink; tests can pass a no-op.
type AuditFunc func(ctx context.Context, rec Record)

// Record is what gets handed to the audit sink for every call, successful
// or not (spec.md §4.8: "every admitted call produces exactly one audit
// record, regardless of outcome").
type Record struct {
	Kind           registry.Kind
	Name           string
	Subject        string
	SessionID      string
	TraceID        string
	Transport      string
	InputPolicy    policy.Decision
	OutputPolicy   policy.Decision
	// Reason carries the most recently computed policy Reason (input, then
	// overwritten by output if that also fires), surfaced on denied/errored
	// calls (spec.md §6 "reason").
	Reason string
	// InputJSON is the call's params, serialized with every field named in
	// the endpoint's SensitiveIn set replaced by "[REDACTED]" (spec.md §4.8
	// step 8, §6 "input_json").
	InputJSON      string
	Error          string
	DurationMillis int64
	StartedAt      time.Time
}

// Engine is the ExecutionEngine for one ReloadGeneration: it is handed a
// Registry, a SqlEngine and the native function table for that generation,
// and is discarded wholesale on reload (internal/reload).
type Engine struct {
	registry *registry.Registry
	sql      *sqlengine.Engine
	natives  map[string]NativeFunction
	evaluator *policy.Evaluator
	audit    AuditFunc
}

// New builds an Engine. natives maps an endpoint's source.native reference
// to its implementation; audit may be nil to discard audit records (tests).
func New(reg *registry.Registry, sqlEngine *sqlengine.Engine, natives map[string]NativeFunction, evaluator *policy.Evaluator, audit AuditFunc) *Engine {
	if audit == nil {
		audit = func(context.Context, Record) {}
	}
	return &Engine{registry: reg, sql: sqlEngine, natives: natives, evaluator: evaluator, audit: audit}
}

// Call runs one admitted MCP call end to end (spec.md §4.8 pipeline).
func (e *Engine) Call(ctx context.Context, kind registry.Kind, name string, params map[string]any) (value.Value, error) {
	started := time.Now()
	identity, _ := auth.IdentityFromContext(ctx)
	rec := Record{
		Kind:      kind,
		Name:      name,
		StartedAt: started,
		TraceID:   uuid.NewString(),
		Transport: transportFromContext(ctx),
	}
	if identity != nil {
		rec.Subject = identity.Subject
		rec.SessionID = identity.SessionID
	}

	result, err := e.call(ctx, kind, name, params, identity, &rec)
	rec.DurationMillis = time.Since(started).Milliseconds()
	if err != nil {
		rec.Error = err.Error()
	}
	e.audit(ctx, rec)
	return result, err
}

func (e *Engine) call(ctx context.Context, kind registry.Kind, name string, params map[string]any, identity *auth.Identity, rec *Record) (value.Value, error) {
	endpoint, ok := e.registry.Lookup(kind, name)
	if !ok {
		rec.InputJSON = redactedInputJSON(params, nil)
		return value.Null(), mxerr.Newf(mxerr.InvalidRequest, nil, "no such %s %q", kind, name)
	}
	rec.InputJSON = redactedInputJSON(params, endpoint.SensitiveIn)

	if err := e.checkScopes(endpoint, identity); err != nil {
		return value.Null(), err
	}

	if err := validateParams(endpoint.Definition.Parameters, params); err != nil {
		return value.Null(), mxerr.New(mxerr.ValidationError, "parameter validation failed", err)
	}

	userVars := identityToVars(identity)
	inputResult := e.evaluator.EvaluateInput(endpoint.InputRules, userVars, params)
	rec.InputPolicy = inputResult.Decision
	if inputResult.Reason != "" {
		rec.Reason = inputResult.Reason
	}
	if inputResult.Decision == policy.DecisionDeny {
		return value.Null(), mxerr.New(mxerr.PolicyDeny, inputResult.Reason, nil)
	}
	if inputResult.Decision == policy.DecisionError {
		return value.Null(), mxerr.New(mxerr.PolicyError, inputResult.Reason, nil)
	}

	response, err := e.dispatch(ctx, endpoint.Definition, params)
	if err != nil {
		return value.Null(), err
	}

	outputResult := e.evaluator.EvaluateOutput(endpoint.OutputRules, userVars, response, endpoint.SensitiveOut)
	rec.OutputPolicy = outputResult.Decision
	if outputResult.Reason != "" {
		rec.Reason = outputResult.Reason
	}
	if outputResult.Decision == policy.DecisionDeny {
		return value.Null(), mxerr.New(mxerr.PolicyDeny, outputResult.Reason, nil)
	}

	return outputResult.Response, nil
}

func (e *Engine) checkScopes(endpoint *registry.CompiledEndpoint, identity *auth.Identity) error {
	if len(endpoint.Definition.RequiredScopes) == 0 {
		return nil
	}
	if identity == nil {
		return mxerr.New(mxerr.Unauthorized, "this endpoint requires authentication", nil)
	}
	for _, scope := range endpoint.Definition.RequiredScopes {
		if !identity.HasScope(scope) {
			return mxerr.Newf(mxerr.Forbidden, nil, "missing required scope %q", scope)
		}
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, def *registry.EndpointDefinition, params map[string]any) (value.Value, error) {
	switch {
	case def.Source.NativeRef != "":
		fn, ok := e.natives[def.Source.NativeRef]
		if !ok {
			return value.Null(), mxerr.Newf(mxerr.ExecutionError, nil, "no native function registered for %q", def.Source.NativeRef)
		}
		return fn(ctx, params)

	case def.Source.InlineSQL != "" || def.Source.SQLFile != "":
		if e.sql == nil {
			return value.Null(), mxerr.New(mxerr.ExecutionError, "this gateway has no SQL engine configured", nil)
		}
		sqlText := def.Source.InlineSQL
		namedParams := make([]sqlengine.NamedParam, 0, len(params))
		for _, p := range def.Parameters {
			if v, ok := params[p.Name]; ok {
				namedParams = append(namedParams, sqlengine.NamedParam{Name: p.Name, Value: v})
			}
		}
		timeout := time.Duration(def.SQLTimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		execCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return e.sql.Execute(execCtx, sqlText, namedParams)

	default:
		return value.Null(), mxerr.New(mxerr.ExecutionError, "endpoint has no source (neither sql nor native)", nil)
	}
}

// redactedInputJSON serializes params with every key present in sensitive
// replaced by the literal string "[REDACTED]" (spec.md §4.8 step 8). A nil
// params or marshal failure yields "" rather than failing the call the
// record describes.
func redactedInputJSON(params map[string]any, sensitive map[string]struct{}) string {
	redacted := make(map[string]any, len(params))
	for k, v := range params {
		if _, ok := sensitive[k]; ok {
			redacted[k] = "[REDACTED]"
		} else {
			redacted[k] = v
		}
	}
	data, err := json.Marshal(redacted)
	if err != nil {
		return ""
	}
	return string(data)
}

func identityToVars(identity *auth.Identity) map[string]any {
	if identity == nil {
		return map[string]any{}
	}
	vars := map[string]any{"sub": identity.Subject, "scopes": identity.Scopes}
	for k, v := range identity.Claims {
		if _, reserved := vars[k]; !reserved {
			vars[k] = v
		}
	}
	return vars
}

// validateParams enforces required/type/enum/min/max/pattern constraints
// declared on an endpoint's parameters (spec.md §4.1/§4.8).
func validateParams(declared []registry.Parameter, given map[string]any) error {
	for _, p := range declared {
		v, present := given[p.Name]
		if !present {
			if p.Required {
				return fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		if err := validateOne(p, v); err != nil {
			return fmt.Errorf("parameter %q: %w", p.Name, err)
		}
	}
	return nil
}

func validateOne(p registry.Parameter, v any) error {
	switch p.Type {
	case registry.TypeNumber, registry.TypeInteger:
		n, ok := asNumber(v)
		if !ok {
			return fmt.Errorf("expected a number")
		}
		if p.Constraints.Minimum != nil && n < *p.Constraints.Minimum {
			return fmt.Errorf("value %v is below minimum %v", n, *p.Constraints.Minimum)
		}
		if p.Constraints.Maximum != nil && n > *p.Constraints.Maximum {
			return fmt.Errorf("value %v is above maximum %v", n, *p.Constraints.Maximum)
		}
	case registry.TypeString, registry.TypeEmail, registry.TypeURI, registry.TypeDate, registry.TypeDateTime, registry.TypeDuration:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected a string")
		}
		if p.Constraints.MinLength != nil && len(s) < *p.Constraints.MinLength {
			return fmt.Errorf("string shorter than minLength %d", *p.Constraints.MinLength)
		}
		if p.Constraints.MaxLength != nil && len(s) > *p.Constraints.MaxLength {
			return fmt.Errorf("string longer than maxLength %d", *p.Constraints.MaxLength)
		}
		if len(p.Constraints.Enum) > 0 && !contains(p.Constraints.Enum, s) {
			return fmt.Errorf("value %q is not one of %v", s, p.Constraints.Enum)
		}
		if p.Constraints.Pattern != "" {
			re, err := regexp.Compile(p.Constraints.Pattern)
			if err != nil {
				return fmt.Errorf("pattern %q does not compile: %w", p.Constraints.Pattern, err)
			}
			if !re.MatchString(s) {
				return fmt.Errorf("value %q does not match pattern %q", s, p.Constraints.Pattern)
			}
		}
		switch p.Type {
		case registry.TypeDate:
			if _, err := time.Parse(time.DateOnly, s); err != nil {
				return fmt.Errorf("value %q is not a valid ISO-8601 date: %w", s, err)
			}
		case registry.TypeDateTime:
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return fmt.Errorf("value %q is not a valid ISO-8601 date-time: %w", s, err)
			}
		case registry.TypeDuration:
			if !isValidISODuration(s) {
				return fmt.Errorf("value %q is not a valid ISO-8601 duration", s)
			}
		}
	case registry.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected a boolean")
		}
	}
	return nil
}

// iso8601DurationPattern matches the ISO-8601 duration grammar (PnYnMnDTnHnMnS);
// every component is optional, so a bare "P" or "PT" still matches the regex
// and is rejected separately by isValidISODuration requiring at least one digit.
var iso8601DurationPattern = regexp.MustCompile(`^P(\d+Y)?(\d+M)?(\d+W)?(\d+D)?(T(\d+H)?(\d+M)?(\d+(\.\d+)?S)?)?$`)

func isValidISODuration(s string) bool {
	if !iso8601DurationPattern.MatchString(s) {
		return false
	}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
