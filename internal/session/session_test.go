package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxcp-io/mxcp-core/internal/pkce"
	"github.com/mxcp-io/mxcp-core/internal/scopemapper"
	"github.com/mxcp-io/mxcp-core/internal/tokencrypto"
	"github.com/mxcp-io/mxcp-core/internal/tokenstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	key := make([]byte, 32)
	sealer, err := tokencrypto.NewSealer(key)
	require.NoError(t, err)
	mapper := scopemapper.New([]scopemapper.Rule{
		{FromProviderScope: "openid", Grants: []string{"mxcp:base"}},
	})
	return New(tokenstore.NewMemoryStore(), sealer, mapper)
}

func TestFullAuthorizationCodeHandshake(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t)

	state, err := m.BeginAuthorization(ctx, tokenstore.StateRecord{ClientID: "client-1"})
	require.NoError(t, err)

	rec, err := m.ConsumeState(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, "client-1", rec.ClientID)

	_, err = m.ConsumeState(ctx, state)
	assert.Error(t, err, "state must be single-use")

	verifier, err := pkce.GeneratePKCEVerifier()
	require.NoError(t, err)
	challenge := pkce.ComputePKCEChallenge(verifier)

	code, err := m.CompleteUpstream(ctx, "client-1", "alice", map[string]any{"email": "alice@example.com"},
		[]string{"openid"}, map[string]string{"access_token": "upstream-token"}, time.Now().Add(time.Hour),
		"http://localhost/callback", []string{"mxcp:base"}, challenge, "S256")
	require.NoError(t, err)

	accessToken, refreshToken, sess, err := m.IssueAccessToken(ctx, code, "client-1", "http://localhost/callback", verifier, pkce.VerifyChallenge)
	require.NoError(t, err)
	assert.NotEmpty(t, accessToken)
	assert.NotEmpty(t, refreshToken)
	assert.Equal(t, "alice", sess.Subject)
	assert.Equal(t, []string{"mxcp:base"}, sess.GrantedScopes)

	_, _, _, err = m.IssueAccessToken(ctx, code, "client-1", "http://localhost/callback", verifier, pkce.VerifyChallenge)
	assert.Error(t, err, "authorization code must be single-use")

	authenticated, err := m.Authenticate(ctx, accessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, authenticated.ID)

	var providerTokens map[string]string
	require.NoError(t, m.OpenProviderTokens(authenticated, &providerTokens))
	assert.Equal(t, "upstream-token", providerTokens["access_token"])

	newAccess, newRefresh, refreshedSess, err := m.RefreshAccessToken(ctx, refreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, newAccess)
	assert.NotEmpty(t, newRefresh)
	assert.Equal(t, sess.ID, refreshedSess.ID)

	_, _, _, err = m.RefreshAccessToken(ctx, refreshToken)
	assert.Error(t, err, "refresh token must be single-use")
}

func TestIssueAccessTokenRejectsClientMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t)

	code, err := m.CompleteUpstream(ctx, "client-1", "alice", nil, nil, map[string]string{}, time.Now(),
		"http://localhost/callback", nil, "", "")
	require.NoError(t, err)

	_, _, _, err = m.IssueAccessToken(ctx, code, "client-2", "http://localhost/callback", "", pkce.VerifyChallenge)
	assert.Error(t, err, "client_id mismatch must be rejected")

	code2, err := m.CompleteUpstream(ctx, "client-1", "alice", nil, nil, map[string]string{}, time.Now(),
		"http://localhost/callback", nil, "", "")
	require.NoError(t, err)
	_, _, _, err = m.IssueAccessToken(ctx, code2, "client-1", "http://attacker.example/callback", "", pkce.VerifyChallenge)
	assert.Error(t, err, "redirect_uri mismatch must be rejected")
}

func TestIssueAccessTokenRejectsBadPKCE(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t)

	code, err := m.CompleteUpstream(ctx, "client-1", "alice", nil, nil, map[string]string{}, time.Now(),
		"http://localhost/callback", nil, "expected-challenge", "S256")
	require.NoError(t, err)

	_, _, _, err = m.IssueAccessToken(ctx, code, "client-1", "http://localhost/callback", "wrong-verifier", pkce.VerifyChallenge)
	assert.Error(t, err)
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	_, err := m.Authenticate(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestListAndRevokeSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t)

	code, err := m.CompleteUpstream(ctx, "client-1", "bob", nil, nil, map[string]string{}, time.Now(),
		"http://localhost/callback", nil, "", "")
	require.NoError(t, err)
	_, _, sess, err := m.IssueAccessToken(ctx, code, "client-1", "http://localhost/callback", "", pkce.VerifyChallenge)
	require.NoError(t, err)

	sessions, err := m.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.NoError(t, m.RevokeSession(ctx, sess.ID))
	sessions, err = m.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
