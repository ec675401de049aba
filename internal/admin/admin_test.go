package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/policy"
	"github.com/mxcp-io/mxcp-core/internal/registry"
	"github.com/mxcp-io/mxcp-core/internal/reload"
	"github.com/mxcp-io/mxcp-core/internal/scopemapper"
	"github.com/mxcp-io/mxcp-core/internal/session"
	"github.com/mxcp-io/mxcp-core/internal/tokencrypto"
	"github.com/mxcp-io/mxcp-core/internal/tokenstore"
)

func testCoordinator(t *testing.T) *reload.Coordinator {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ping.yaml"), []byte(`
kind: tool
tool:
  name: ping
  parameters: []
  return:
    type: string
  source:
    native: "ping"
`), 0o600))

	c, err := reload.New(context.Background(), func(_ context.Context) (*reload.Generation, error) {
		reg, err := registry.Load(dir, policy.New())
		if err != nil {
			return nil, err
		}
		engine := execution.New(reg, nil, nil, policy.New(), nil)
		return &reload.Generation{Registry: reg, Engine: engine}, nil
	})
	require.NoError(t, err)
	return c
}

func testSessionManager(t *testing.T) *session.Manager {
	t.Helper()
	sealer, err := tokencrypto.NewSealer(make([]byte, 32))
	require.NoError(t, err)
	return session.New(tokenstore.NewMemoryStore(), sealer, scopemapper.New(nil))
}

func dialViaSocket(socketPath string) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
}

func startTestServer(t *testing.T) (*http.Client, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "admin.sock")
	srv := New(testCoordinator(t), testSessionManager(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, socketPath) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	client := &http.Client{Transport: &http.Transport{DialContext: dialViaSocket(socketPath)}}
	return client, socketPath
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	client, _ := startTestServer(t)

	resp, err := client.Get("http://admin/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSocketHasRestrictivePermissions(t *testing.T) {
	t.Parallel()
	_, socketPath := startTestServer(t)

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestReloadEndpointAdvancesGeneration(t *testing.T) {
	t.Parallel()
	client, _ := startTestServer(t)

	resp, err := client.Post("http://admin/reload", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 2, body["generation_seq"])
}

func TestStatusEndpointReportsActiveSessions(t *testing.T) {
	t.Parallel()
	client, _ := startTestServer(t)

	resp, err := client.Get("http://admin/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 0, body["active_sessions"])
}
