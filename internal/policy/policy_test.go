package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxcp-io/mxcp-core/internal/value"
)

func decodeValue(t *testing.T, s string) value.Value {
	t.Helper()
	var v value.Value
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestEvaluateInputDenyByScope(t *testing.T) {
	t.Parallel()
	e := New()
	rules := []Rule{
		{AppliesTo: Input, Condition: `!("calendar.read" in user.mxcp_scopes)`, Action: ActionDeny, Reason: "missing scope"},
	}
	compiled, err := e.CompileInput("get_events", nil, rules)
	require.NoError(t, err)

	user := map[string]any{"mxcp_scopes": []any{"email.read"}}
	result := e.EvaluateInput(compiled, user, map[string]any{})
	assert.Equal(t, DecisionDeny, result.Decision)
	assert.Equal(t, "missing scope", result.Reason)
}

func TestEvaluateInputAllowsWhenNoRuleMatches(t *testing.T) {
	t.Parallel()
	e := New()
	rules := []Rule{
		{AppliesTo: Input, Condition: `price < 0.0`, Action: ActionDeny, Reason: "negative price"},
	}
	compiled, err := e.CompileInput("calculate_discount", []string{"price", "discount_percent"}, rules)
	require.NoError(t, err)

	result := e.EvaluateInput(compiled, map[string]any{}, map[string]any{"price": 100.0, "discount_percent": 10.0})
	assert.Equal(t, DecisionAllow, result.Decision)
}

func TestEvaluateInputReservedUserWinsOverParameterCollision(t *testing.T) {
	t.Parallel()
	e := New()
	rules := []Rule{
		{AppliesTo: Input, Condition: `user.role == "admin"`, Action: ActionDeny, Reason: "admins blocked"},
	}
	// "user" is also an endpoint parameter name; it must be ignored in favor
	// of the reserved binding.
	compiled, err := e.CompileInput("weird_endpoint", []string{"user"}, rules)
	require.NoError(t, err)

	result := e.EvaluateInput(compiled, map[string]any{"role": "admin"}, map[string]any{"user": "shadow-value"})
	assert.Equal(t, DecisionDeny, result.Decision)
}

func TestEvaluateOutputFilterFieldsByRole(t *testing.T) {
	t.Parallel()
	e := New()
	rules := []Rule{
		{AppliesTo: Output, Condition: `user.role != "hr"`, Action: ActionFilterFields, Fields: []string{"salary", "ssn"}, Reason: "HR only"},
	}
	compiled, err := e.CompileOutput("get_employee", rules)
	require.NoError(t, err)

	resp := decodeValue(t, `{"id":"emp1","name":"Alice","salary":95000,"ssn":"123-45-6789"}`)

	userResult := e.EvaluateOutput(compiled, map[string]any{"role": "user"}, resp, nil)
	assert.Equal(t, DecisionFilter, userResult.Decision)
	b, _ := json.Marshal(userResult.Response)
	assert.JSONEq(t, `{"id":"emp1","name":"Alice"}`, string(b))

	hrResult := e.EvaluateOutput(compiled, map[string]any{"role": "hr"}, resp, nil)
	assert.Equal(t, DecisionAllow, hrResult.Decision)
	b2, _ := json.Marshal(hrResult.Response)
	assert.JSONEq(t, `{"id":"emp1","name":"Alice","salary":95000,"ssn":"123-45-6789"}`, string(b2))
}

func TestEvaluateOutputMaskArrayElements(t *testing.T) {
	t.Parallel()
	e := New()
	rules := []Rule{
		{AppliesTo: Output, Condition: `true`, Action: ActionMaskFields, Fields: []string{"ssn"}, Reason: "mask PII"},
	}
	compiled, err := e.CompileOutput("list_people", rules)
	require.NoError(t, err)

	resp := decodeValue(t, `[{"name":"A","ssn":"1"},{"name":"B","ssn":"2"}]`)
	result := e.EvaluateOutput(compiled, map[string]any{}, resp, nil)
	assert.Equal(t, DecisionMask, result.Decision)
	b, _ := json.Marshal(result.Response)
	assert.JSONEq(t, `[{"name":"A","ssn":"****"},{"name":"B","ssn":"****"}]`, string(b))
}

func TestEvaluateOutputLaterRulesSeeEarlierOutput(t *testing.T) {
	t.Parallel()
	e := New()
	rules := []Rule{
		{AppliesTo: Output, Condition: `true`, Action: ActionFilterFields, Fields: []string{"a"}, Reason: "drop a"},
		{AppliesTo: Output, Condition: `!("a" in response)`, Action: ActionMaskFields, Fields: []string{"b"}, Reason: "mask b once a is gone"},
	}
	compiled, err := e.CompileOutput("ep", rules)
	require.NoError(t, err)

	resp := decodeValue(t, `{"a":1,"b":2}`)
	result := e.EvaluateOutput(compiled, map[string]any{}, resp, nil)
	b, _ := json.Marshal(result.Response)
	assert.JSONEq(t, `{"b":"****"}`, string(b))
}

func TestEvaluateOutputRuntimeErrorIsTotal(t *testing.T) {
	t.Parallel()
	e := New()
	rules := []Rule{
		{AppliesTo: Output, Condition: `response.missing.deeper == 1`, Action: ActionDeny, Reason: "boom"},
	}
	compiled, err := e.CompileOutput("ep", rules)
	require.NoError(t, err)

	resp := decodeValue(t, `{"a":1}`)
	result := e.EvaluateOutput(compiled, map[string]any{}, resp, nil)
	assert.Equal(t, DecisionError, result.Decision)
	assert.NotEmpty(t, result.Reason)
}

func TestFilterSensitiveFields(t *testing.T) {
	t.Parallel()
	e := New()
	rules := []Rule{
		{AppliesTo: Output, Condition: `true`, Action: ActionFilterSensitiveFields, Reason: "redact sensitive"},
	}
	compiled, err := e.CompileOutput("ep", rules)
	require.NoError(t, err)

	resp := decodeValue(t, `{"id":"1","ssn":"123"}`)
	result := e.EvaluateOutput(compiled, map[string]any{}, resp, map[string]struct{}{"ssn": {}})
	b, _ := json.Marshal(result.Response)
	assert.JSONEq(t, `{"id":"1"}`, string(b))
}
