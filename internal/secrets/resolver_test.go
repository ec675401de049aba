package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVault struct {
	values map[string]string
}

func (f *fakeVault) Read(_ context.Context, path, key string) (string, error) {
	v, ok := f.values[path+"#"+key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

type fakeOnePassword struct {
	values map[string]string
}

func (f *fakeOnePassword) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := f.values[ref]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("MXCP_TEST_SECRET", "hunter2")
	r := New()
	got, err := r.Resolve(context.Background(), "${MXCP_TEST_SECRET}")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestResolveEnvMissingFailsReload(t *testing.T) {
	os.Unsetenv("MXCP_TEST_SECRET_MISSING")
	r := New()
	_, err := r.Resolve(context.Background(), "${MXCP_TEST_SECRET_MISSING}")
	assert.Error(t, err)
}

func TestResolveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("trimmed-value \n"), 0o600))

	r := New()
	got, err := r.Resolve(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "trimmed-value", got)
}

func TestResolveFileMissing(t *testing.T) {
	r := New()
	_, err := r.Resolve(context.Background(), "file:///does/not/exist")
	assert.Error(t, err)
}

func TestResolveVault(t *testing.T) {
	r := New(WithVaultBackend(&fakeVault{values: map[string]string{"secret/data/db#password": "s3cr3t"}}))
	got, err := r.Resolve(context.Background(), "vault://secret/data/db#password")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
}

func TestResolveVaultNotConfigured(t *testing.T) {
	r := New()
	_, err := r.Resolve(context.Background(), "vault://secret/data/db#password")
	assert.Error(t, err)
}

func TestResolveOnePassword(t *testing.T) {
	r := New(WithOnePasswordBackend(&fakeOnePassword{values: map[string]string{
		"op://vault/item/field": "opsecret",
	}}))
	got, err := r.Resolve(context.Background(), "op://vault/item/field")
	require.NoError(t, err)
	assert.Equal(t, "opsecret", got)
}

func TestResolvePlainLiteralPassesThrough(t *testing.T) {
	r := New()
	got, err := r.Resolve(context.Background(), "plain-literal")
	require.NoError(t, err)
	assert.Equal(t, "plain-literal", got)
}

func TestResolveTree(t *testing.T) {
	t.Setenv("MXCP_TREE_SECRET", "treeval")
	r := New()
	tree := map[string]any{
		"a": "${MXCP_TREE_SECRET}",
		"b": []any{"literal", "${MXCP_TREE_SECRET}"},
		"c": map[string]any{"nested": "${MXCP_TREE_SECRET}"},
		"d": float64(42),
	}

	resolved, err := r.ResolveTree(context.Background(), tree)
	require.NoError(t, err)

	m := resolved.(map[string]any)
	assert.Equal(t, "treeval", m["a"])
	assert.Equal(t, []any{"literal", "treeval"}, m["b"])
	assert.Equal(t, "treeval", m["c"].(map[string]any)["nested"])
	assert.Equal(t, float64(42), m["d"])
}
