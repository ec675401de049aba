package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxcp-io/mxcp-core/internal/auth"
	"github.com/mxcp-io/mxcp-core/internal/policy"
	"github.com/mxcp-io/mxcp-core/internal/registry"
	"github.com/mxcp-io/mxcp-core/internal/sqlengine"
	"github.com/mxcp-io/mxcp-core/internal/value"
)

func loadTestRegistry(t *testing.T, yamlDocs map[string]string) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	for name, content := range yamlDocs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	reg, err := registry.Load(dir, policy.New())
	require.NoError(t, err)
	return reg
}

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

func TestCallDispatchesInlineSQL(t *testing.T) {
	t.Parallel()
	reg := loadTestRegistry(t, map[string]string{"discount.yaml": discountEndpoint})
	sql, err := sqlengine.Open(sqlengine.Config{DSN: "file::memory:?cache=shared&mode=memory"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sql.Close() })

	engine := New(reg, sql, nil, policy.New(), nil)

	result, err := engine.Call(context.Background(), registry.KindTool, "calculate_discount", map[string]any{
		"price": 200.0, "discount_percent": 10.0,
	})
	require.NoError(t, err)
	items, ok := result.Items()
	require.True(t, ok)
	require.Len(t, items, 1)
	field, ok := items[0].Get("result")
	require.True(t, ok)
	n, ok := field.Number()
	require.True(t, ok)
	assert.InDelta(t, 180.0, n, 0.0001)
}

func TestCallRejectsMissingRequiredParameter(t *testing.T) {
	t.Parallel()
	reg := loadTestRegistry(t, map[string]string{"discount.yaml": `
kind: tool
tool:
  name: needs_param
  parameters:
    - name: price
      type: number
      required: true
  return:
    type: number
  source:
    sql: "SELECT $price AS result"
`})
	sql, err := sqlengine.Open(sqlengine.Config{DSN: "file::memory:?cache=shared&mode=memory"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sql.Close() })

	engine := New(reg, sql, nil, policy.New(), nil)
	_, err = engine.Call(context.Background(), registry.KindTool, "needs_param", map[string]any{})
	assert.Error(t, err)
}

func TestCallEnforcesRequiredScopes(t *testing.T) {
	t.Parallel()
	reg := loadTestRegistry(t, map[string]string{"scoped.yaml": `
kind: tool
tool:
  name: admin_only
  scopes: ["mxcp:admin"]
  parameters: []
  return:
    type: number
  source:
    sql: "SELECT 1 AS result"
`})
	sql, err := sqlengine.Open(sqlengine.Config{DSN: "file::memory:?cache=shared&mode=memory"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sql.Close() })

	engine := New(reg, sql, nil, policy.New(), nil)

	_, err = engine.Call(context.Background(), registry.KindTool, "admin_only", map[string]any{})
	assert.Error(t, err, "unauthenticated call to a scoped endpoint must be rejected")

	ctx := auth.WithIdentity(context.Background(), &auth.Identity{Subject: "alice", Scopes: []string{"mxcp:admin"}})
	_, err = engine.Call(ctx, registry.KindTool, "admin_only", map[string]any{})
	assert.NoError(t, err)
}

func TestCallDispatchesNativeFunction(t *testing.T) {
	t.Parallel()
	reg := loadTestRegistry(t, map[string]string{"native.yaml": `
kind: tool
tool:
  name: ping
  parameters: []
  return:
    type: string
  source:
    native: "ping"
`})
	natives := map[string]NativeFunction{
		"ping": func(_ context.Context, _ map[string]any) (value.Value, error) {
			return value.String("pong"), nil
		},
	}

	engine := New(reg, nil, natives, policy.New(), nil)
	result, err := engine.Call(context.Background(), registry.KindTool, "ping", map[string]any{})
	require.NoError(t, err)
	s, ok := result.String()
	require.True(t, ok)
	assert.Equal(t, "pong", s)
}
