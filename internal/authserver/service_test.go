package authserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxcp-io/mxcp-core/internal/provideradapter"
	"github.com/mxcp-io/mxcp-core/internal/scopemapper"
	"github.com/mxcp-io/mxcp-core/internal/tokencrypto"
	"github.com/mxcp-io/mxcp-core/internal/tokenstore"

	mxsession "github.com/mxcp-io/mxcp-core/internal/session"
)

func TestDCRRequestValidateAndNormalize(t *testing.T) {
	t.Parallel()
	req := &DCRRequest{RedirectURIs: []string{"http://127.0.0.1:8080/callback"}}
	require.NoError(t, req.validateAndNormalize())
	assert.Equal(t, "none", req.TokenEndpointAuthMethod)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, req.GrantTypes)
	assert.Equal(t, []string{"code"}, req.ResponseTypes)
}

func TestDCRRequestRejectsMissingRedirectURIs(t *testing.T) {
	t.Parallel()
	req := &DCRRequest{}
	assert.Error(t, req.validateAndNormalize())
}

func TestRegisterHandler(t *testing.T) {
	t.Parallel()
	svc := &Service{clients: NewMemoryClientStore()}

	body := strings.NewReader(`{"redirect_uris":["http://127.0.0.1:9999/cb"]}`)
	req := httptest.NewRequest(http.MethodPost, "/register", body)
	rec := httptest.NewRecorder()

	svc.Register(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp DCRResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ClientID)

	client, ok, err := svc.clients.Get(context.Background(), resp.ClientID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, client.MatchRedirectURI("http://127.0.0.1:9999/cb"))
	assert.True(t, client.MatchRedirectURI("http://127.0.0.1:12345/cb"), "loopback port should be wildcarded")
}

func TestAuthorizeRejectsUnknownClient(t *testing.T) {
	t.Parallel()
	svc := &Service{clients: NewMemoryClientStore()}

	req := httptest.NewRequest(http.MethodGet, "/authorize?client_id=nope&redirect_uri=http://localhost/cb", nil)
	rec := httptest.NewRecorder()
	svc.Authorize(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_client")
}

// newTestOIDCServer starts a minimal OIDC discovery+token+userinfo server so
// Authorize/Callback/Token can be exercised end to end without real network
// access.
func newTestOIDCServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var issuer string
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/authorize",
			"token_endpoint":         issuer + "/token",
			"userinfo_endpoint":      issuer + "/userinfo",
			"jwks_uri":               issuer + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{}})
	})
	srv := httptest.NewServer(mux)
	issuer = srv.URL
	return srv
}

func TestAuthorizeRedirectsToUpstream(t *testing.T) {
	t.Parallel()
	oidcServer := newTestOIDCServer(t)
	defer oidcServer.Close()

	ctx := context.Background()
	provider, err := provideradapter.New(oidc.ClientContext(ctx, oidcServer.Client()), provideradapter.Config{
		Name: "test", IssuerURL: oidcServer.URL, ClientID: "mxcp", ClientSecret: "s", RedirectURL: "http://mxcp.local/callback",
	})
	require.NoError(t, err)

	clients := NewMemoryClientStore()
	req := &DCRRequest{RedirectURIs: []string{"http://127.0.0.1:8080/cb"}}
	require.NoError(t, req.validateAndNormalize())
	client := req.registeredClient("client-1", nil)
	require.NoError(t, clients.Put(ctx, client))

	key := make([]byte, 32)
	sealer, err := tokencrypto.NewSealer(key)
	require.NoError(t, err)
	mapper := scopemapper.New(nil)
	sessions := mxsession.New(tokenstore.NewMemoryStore(), sealer, mapper)

	svc := New("https://mxcp.local", sessions, clients, provider)

	httpReq := httptest.NewRequest(http.MethodGet, "/authorize?client_id=client-1&redirect_uri=http://127.0.0.1:8080/cb&state=xyz", nil)
	rec := httptest.NewRecorder()
	svc.Authorize(rec, httpReq)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location.String(), oidcServer.URL))
	assert.NotEmpty(t, location.Query().Get("state"))
	assert.NotEmpty(t, location.Query().Get("code_challenge"))
}
