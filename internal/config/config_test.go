package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mxcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, `
issuer: "https://gateway.example.com"
registry_dir: "./my-endpoints"
listen_addr: "0.0.0.0:9443"
providers:
  - name: okta
    issuer_url: "https://example.okta.com"
    client_id: "abc123"
`)

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://gateway.example.com", cfg.Issuer)
	assert.Equal(t, "./my-endpoints", cfg.RegistryDir)
	assert.Equal(t, "0.0.0.0:9443", cfg.ListenAddr)
	assert.Equal(t, "/var/run/mxcpd/admin.sock", cfg.AdminSocketPath, "unset fields keep their default")
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "okta", cfg.Providers[0].Name)
	assert.True(t, cfg.Reload.WatchFilesystem, "an absent reload: section must not zero out the defaults")
}

func TestLoadRejectsMissingIssuer(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, `registry_dir: "./endpoints"`)

	_, err := NewLoader().Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsProviderMissingClientID(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, `
issuer: "https://gateway.example.com"
registry_dir: "./endpoints"
providers:
  - name: okta
    issuer_url: "https://example.okta.com"
`)

	_, err := NewLoader().Load(path)
	assert.Error(t, err)
}

func TestFlagOverrideTakesPrecedenceOverFile(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, `
issuer: "https://gateway.example.com"
registry_dir: "./endpoints"
listen_addr: "127.0.0.1:1111"
`)

	loader := NewLoader()
	loader.Viper().Set("listen_addr", "127.0.0.1:2222")

	cfg, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2222", cfg.ListenAddr)
}
