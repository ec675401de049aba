package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireBearerRejectsMissingHeader(t *testing.T) {
	t.Parallel()
	called := false
	handler := RequireBearer(AuthenticatorFunc(func(*http.Request, string) (*Identity, error) {
		called = true
		return nil, nil
	}))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestRequireBearerAttachesIdentity(t *testing.T) {
	t.Parallel()
	var seen *Identity
	handler := RequireBearer(AuthenticatorFunc(func(_ *http.Request, token string) (*Identity, error) {
		require.Equal(t, "abc123", token)
		return &Identity{Subject: "alice"}, nil
	}))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.Subject)
}

func TestIdentityMarshalJSONRedactsToken(t *testing.T) {
	t.Parallel()
	identity := &Identity{Subject: "alice", Token: "super-secret"}
	data, err := identity.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "REDACTED")
	assert.NotContains(t, string(data), "super-secret")
}
