// Package session implements spec.md §4.5's SessionManager: the component
// that turns a completed upstream IdP handshake into an MXCP session and
// opaque access token, and answers the ExecutionEngine's "who is this
// bearer token" question on every request.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mxcp-io/mxcp-core/internal/mxerr"
	"github.com/mxcp-io/mxcp-core/internal/scopemapper"
	"github.com/mxcp-io/mxcp-core/internal/tokencrypto"
	"github.com/mxcp-io/mxcp-core/internal/tokenstore"
)

// Clock is injected so tests can control expiry without sleeping.
type Clock func() time.Time

// Manager is the SessionManager: it owns state/code/session lifecycle
// against a tokenstore.Store and mints/validates MXCP's own opaque bearer
// tokens (spec.md §4.5: "the MXCP access token is a random opaque value;
// clients treat it as a bearer credential and never decode it").
type Manager struct {
	store  tokenstore.Store
	sealer *tokencrypto.Sealer
	mapper *scopemapper.Mapper
	now    Clock

	stateTTL      time.Duration
	codeTTL       time.Duration
	sessionTTL    time.Duration
	accessTokenTTL time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now Clock) Option { return func(m *Manager) { m.now = now } }

// WithTTLs overrides the default lifetimes (5m state, 1m code, 30d session,
// 1h access token) — spec.md §4.5's defaults.
func WithTTLs(state, code, session, accessToken time.Duration) Option {
	return func(m *Manager) {
		m.stateTTL, m.codeTTL, m.sessionTTL, m.accessTokenTTL = state, code, session, accessToken
	}
}

// AccessTokenTTL reports how long a freshly minted access token is valid,
// for callers that need to report expires_in alongside the token itself.
func (m *Manager) AccessTokenTTL() time.Duration { return m.accessTokenTTL }

// New builds a Manager over the given store.
func New(store tokenstore.Store, sealer *tokencrypto.Sealer, mapper *scopemapper.Mapper, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		sealer: sealer,
		mapper: mapper,
		now:    time.Now,

		stateTTL:       5 * time.Minute,
		codeTTL:        time.Minute,
		sessionTTL:     30 * 24 * time.Hour,
		accessTokenTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BeginAuthorization records a StateRecord for one client's /authorize
// request and returns the state value (spec.md §4.6 step 1). MXCP's own PKCE
// verifier for its leg of the upstream handshake is supplied by the caller
// in rec.UpstreamCodeVerifier and stored with the record.
func (m *Manager) BeginAuthorization(ctx context.Context, rec tokenstore.StateRecord) (state string, err error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	rec.State = token
	rec.CreatedAt = m.now()
	rec.ExpiresAt = rec.CreatedAt.Add(m.stateTTL)
	if err := m.store.PutState(ctx, rec); err != nil {
		return "", mxerr.Newf(mxerr.Internal, err, "session: storing state")
	}
	return token, nil
}

// ConsumeState redeems a one-time state value from the upstream IdP's
// callback (spec.md §4.6 step 3). Consuming twice, or consuming an expired
// or unknown value, is an InvalidState error.
func (m *Manager) ConsumeState(ctx context.Context, state string) (tokenstore.StateRecord, error) {
	rec, err := m.store.ConsumeState(ctx, state)
	if err != nil {
		return tokenstore.StateRecord{}, mxerr.New(mxerr.InvalidState, "unknown, expired, or already-used state", err)
	}
	return rec, nil
}

// CompleteUpstream is called once the upstream IdP handshake finished: it
// creates a new backing Session, encrypting the provider's token
// set at rest, and issues the one-time MXCP authorization code the
// downstream client will redeem at /token (spec.md §4.6 step 4).
func (m *Manager) CompleteUpstream(ctx context.Context, clientID string, subject string, rawProfile map[string]any,
	providerScopes []string, providerTokens any, providerExpiresAt time.Time,
	redirectURI string, clientScopes []string, codeChallenge, codeChallengeMethod string) (code string, err error) {

	sealedTokens, err := m.sealProviderTokens(providerTokens)
	if err != nil {
		return "", err
	}

	mxcpScopes := m.mapper.Map(providerScopes, rawProfile)

	sess := tokenstore.Session{
		ID:                      uuid.NewString(),
		Subject:                 subject,
		ClientID:                clientID,
		GrantedScopes:           mxcpScopes,
		RawProfile:              rawProfile,
		EncryptedProviderTokens: sealedTokens,
		ProviderTokenExpiresAt:  providerExpiresAt,
		CreatedAt:               m.now(),
		LastUsedAt:              m.now(),
		ExpiresAt:               m.now().Add(m.sessionTTL),
	}
	if err := m.store.PutSession(ctx, sess); err != nil {
		return "", mxerr.Newf(mxerr.Internal, err, "session: storing session")
	}

	codeValue, err := randomToken()
	if err != nil {
		return "", err
	}
	authCode := tokenstore.AuthorizationCode{
		Code:                codeValue,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scopes:              clientScopes,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		SessionID:           sess.ID,
		CreatedAt:           m.now(),
		ExpiresAt:           m.now().Add(m.codeTTL),
	}
	if err := m.store.PutAuthorizationCode(ctx, authCode); err != nil {
		return "", mxerr.Newf(mxerr.Internal, err, "session: storing authorization code")
	}
	return codeValue, nil
}

func (m *Manager) sealProviderTokens(providerTokens any) ([]byte, error) {
	plaintext, err := json.Marshal(providerTokens)
	if err != nil {
		return nil, mxerr.Newf(mxerr.Internal, err, "session: marshalling provider tokens")
	}
	sealed, err := m.sealer.Seal(plaintext)
	if err != nil {
		return nil, mxerr.Newf(mxerr.Internal, err, "session: sealing provider tokens")
	}
	return sealed, nil
}

// IssueAccessToken redeems the downstream client's authorization code at
// /token (spec.md §4.6 step 5): it verifies that clientID and redirectURI
// match what was recorded against this code at /authorize (spec.md §4.6:
// "ConsumeAuthorizationCode(code, client_id, redirect_uri) ... fails on any
// mismatch"), verifies the client's PKCE code_verifier against the challenge,
// and mints a fresh opaque MXCP access token plus refresh token bound to the
// underlying Session. The code is consumed (single-use) before either check
// runs, so a mismatched or replayed request can never redeem it twice.
func (m *Manager) IssueAccessToken(ctx context.Context, code, clientID, redirectURI, codeVerifier string, verify func(method, verifier, challenge string) bool) (accessToken, refreshToken string, sess tokenstore.Session, err error) {
	authCode, err := m.store.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		return "", "", tokenstore.Session{}, mxerr.New(mxerr.InvalidGrant, "unknown, expired, or already-used authorization code", err)
	}
	if authCode.ClientID != clientID || authCode.RedirectURI != redirectURI {
		return "", "", tokenstore.Session{}, mxerr.New(mxerr.InvalidGrant, "client_id or redirect_uri does not match the authorization request", nil)
	}
	if authCode.CodeChallenge != "" && !verify(authCode.CodeChallengeMethod, codeVerifier, authCode.CodeChallenge) {
		return "", "", tokenstore.Session{}, mxerr.New(mxerr.InvalidGrant, "PKCE verification failed", nil)
	}

	sess, err = m.store.GetSession(ctx, authCode.SessionID)
	if err != nil {
		return "", "", tokenstore.Session{}, mxerr.New(mxerr.InvalidGrant, "session backing this code no longer exists", err)
	}

	accessToken, err = m.issueAccessTokenFor(ctx, sess.ID)
	if err != nil {
		return "", "", tokenstore.Session{}, err
	}
	refreshToken, err = m.issueRefreshTokenFor(ctx, sess.ID)
	if err != nil {
		return "", "", tokenstore.Session{}, err
	}
	return accessToken, refreshToken, sess, nil
}

// RefreshAccessToken redeems an MXCP refresh token at /token (spec.md §4.6
// grant_type=refresh_token): the presented token is consumed (single-use)
// and replaced with a freshly minted access token and refresh token, so a
// leaked, already-rotated refresh token can never be replayed.
func (m *Manager) RefreshAccessToken(ctx context.Context, presentedToken string) (accessToken, refreshToken string, sess tokenstore.Session, err error) {
	rec, err := m.store.ConsumeRefreshToken(ctx, hashToken(presentedToken))
	if err != nil {
		return "", "", tokenstore.Session{}, mxerr.New(mxerr.InvalidGrant, "unknown, expired, or already-used refresh token", err)
	}

	sess, err = m.store.GetSession(ctx, rec.SessionID)
	if err != nil {
		return "", "", tokenstore.Session{}, mxerr.New(mxerr.InvalidGrant, "session backing this refresh token no longer exists", err)
	}

	accessToken, err = m.issueAccessTokenFor(ctx, sess.ID)
	if err != nil {
		return "", "", tokenstore.Session{}, err
	}
	refreshToken, err = m.issueRefreshTokenFor(ctx, sess.ID)
	if err != nil {
		return "", "", tokenstore.Session{}, err
	}
	return accessToken, refreshToken, sess, nil
}

func (m *Manager) issueAccessTokenFor(ctx context.Context, sessionID string) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	rec := tokenstore.AccessTokenRecord{
		TokenHash: hashToken(token),
		SessionID: sessionID,
		ExpiresAt: m.now().Add(m.accessTokenTTL),
	}
	if err := m.store.PutAccessToken(ctx, rec); err != nil {
		return "", mxerr.Newf(mxerr.Internal, err, "session: storing access token")
	}
	return token, nil
}

func (m *Manager) issueRefreshTokenFor(ctx context.Context, sessionID string) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	rec := tokenstore.RefreshTokenRecord{
		TokenHash: hashToken(token),
		SessionID: sessionID,
		ExpiresAt: m.now().Add(m.sessionTTL),
	}
	if err := m.store.PutRefreshToken(ctx, rec); err != nil {
		return "", mxerr.Newf(mxerr.Internal, err, "session: storing refresh token")
	}
	return token, nil
}

// Authenticate resolves a bearer token presented on an incoming MCP request
// to its backing Session, touching LastUsedAt (spec.md §4.5 admission step).
func (m *Manager) Authenticate(ctx context.Context, bearerToken string) (tokenstore.Session, error) {
	rec, err := m.store.GetAccessToken(ctx, hashToken(bearerToken))
	if err != nil {
		return tokenstore.Session{}, mxerr.New(mxerr.Unauthorized, "invalid or expired access token", err)
	}
	sess, err := m.store.GetSession(ctx, rec.SessionID)
	if err != nil {
		return tokenstore.Session{}, mxerr.New(mxerr.Unauthorized, "session no longer exists", err)
	}
	_ = m.store.TouchSession(ctx, sess.ID, m.now())
	return sess, nil
}

// ListSessions returns every live session, for the admin /auth/sessions endpoint.
func (m *Manager) ListSessions(ctx context.Context) ([]tokenstore.Session, error) {
	return m.store.ListSessions(ctx)
}

// RevokeSession deletes a session, for admin DELETE /auth/sessions/{id}.
func (m *Manager) RevokeSession(ctx context.Context, id string) error {
	return m.store.DeleteSession(ctx, id)
}

// Cleanup prunes every expired record, for the admin /auth/cleanup endpoint
// and an optional periodic background tick.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	return m.store.Cleanup(ctx, m.now())
}

// OpenProviderTokens decrypts a session's sealed provider token set, used
// when a component needs to act as the upstream IdP's client on the user's
// behalf (e.g. refreshing an expiring provider access token).
func (m *Manager) OpenProviderTokens(sess tokenstore.Session, out any) error {
	plaintext, err := m.sealer.Open(sess.EncryptedProviderTokens)
	if err != nil {
		return mxerr.Newf(mxerr.Internal, err, "session: opening provider tokens")
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return mxerr.Newf(mxerr.Internal, err, "session: decoding provider tokens")
	}
	return nil
}
