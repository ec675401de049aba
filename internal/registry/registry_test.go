package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxcp-io/mxcp-core/internal/policy"
)

const discountEndpoint = `
kind: tool
tool:
  name: calculate_discount
  parameters:
    - name: price
      type: number
      minimum: 0
    - name: discount_percent
      type: number
  return:
    type: number
  source:
    sql: "SELECT $price * (1 - $discount_percent / 100.0) AS result"
`

const employeeEndpoint = `
kind: tool
tool:
  name: get_employee
  parameters:
    - name: id
      type: string
  return:
    type: object
    properties:
      - name: id
        type: string
      - name: salary
        type: number
        sensitive: true
  source:
    sql: "SELECT * FROM employees WHERE id = $id"
  policies:
    output:
      - condition: "user.role != 'hr'"
        action: filter_fields
        fields: [salary]
        reason: "HR only"
`

func writeEndpoint(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o600))
}

func TestLoadAndLookup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeEndpoint(t, dir, "discount.yaml", discountEndpoint)
	writeEndpoint(t, dir, "employee.yaml", employeeEndpoint)

	reg, err := Load(dir, policy.New())
	require.NoError(t, err)

	ep, ok := reg.Lookup(KindTool, "calculate_discount")
	require.True(t, ok)
	assert.Equal(t, "SELECT $price * (1 - $discount_percent / 100.0) AS result", ep.Definition.Source.InlineSQL)

	_, ok = reg.Lookup(KindTool, "does_not_exist")
	assert.False(t, ok)

	all := reg.List(KindTool)
	assert.Len(t, all, 2)
}

func TestLoadFailsOnDuplicateName(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeEndpoint(t, dir, "a.yaml", discountEndpoint)
	writeEndpoint(t, dir, "b.yaml", discountEndpoint)

	_, err := Load(dir, policy.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadFailsOnBadPolicyExpression(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeEndpoint(t, dir, "bad.yaml", `
kind: tool
tool:
  name: broken
  parameters: []
  return:
    type: string
  source:
    sql: "SELECT 1"
  policies:
    input:
      - condition: "this is not valid cel (("
        action: deny
        reason: "broken"
`)

	_, err := Load(dir, policy.New())
	assert.Error(t, err)
}

func TestCompiledEndpointSensitiveFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeEndpoint(t, dir, "employee.yaml", employeeEndpoint)

	reg, err := Load(dir, policy.New())
	require.NoError(t, err)

	ep, ok := reg.Lookup(KindTool, "get_employee")
	require.True(t, ok)
	_, sensitive := ep.SensitiveOut["salary"]
	assert.True(t, sensitive)
	assert.Len(t, ep.OutputRules, 1)
}
