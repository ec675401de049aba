package sqlengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Config{DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestExecuteNamedParameterBinding(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	result, err := e.Execute(ctx, "SELECT $price * (1 - $discount_percent / 100.0) AS result", []NamedParam{
		{Name: "price", Value: 200.0},
		{Name: "discount_percent", Value: 10.0},
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

func TestExecuteRejectsMalformedSQL(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	_, err := e.Execute(context.Background(), "NOT VALID SQL", nil)
	assert.Error(t, err)
}

func TestExecuteMultipleRows(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, "CREATE TABLE t (id INTEGER, name TEXT)", nil)
	require.NoError(t, err)
	_, err = e.Execute(ctx, "INSERT INTO t (id, name) VALUES ($id, $name)", []NamedParam{{Name: "id", Value: 1}, {Name: "name", Value: "a"}})
	require.NoError(t, err)
	_, err = e.Execute(ctx, "INSERT INTO t (id, name) VALUES ($id, $name)", []NamedParam{{Name: "id", Value: 2}, {Name: "name", Value: "b"}})
	require.NoError(t, err)

	result, err := e.Execute(ctx, "SELECT id, name FROM t ORDER BY id", nil)
	require.NoError(t, err)
	items, ok := result.Items()
	require.True(t, ok)
	assert.Len(t, items, 2)
}
