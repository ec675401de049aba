// Package tokenstore implements the TokenStore leaf behind SessionManager
// (spec.md §4.5/§4.6): one-time-use authorization state and codes, and
// durable sessions mapping an MXCP access token to an upstream provider
// identity and its tokens.
//
// Grounded on toolhive's pkg/authserver/storage package (retrieved only as
// storage/memory_test.go, storage/redis_test.go, storage/types_test.go —
// no non-test source survived retrieval for this package), so the record
// shapes below are reconstructed from what those tests exercise rather than
// copied; the TTL/compare-and-delete semantics match spec.md §4.5 exactly
// rather than toolhive's.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/Consume when no record exists for a key,
// including when it existed but already expired or was already consumed.
var ErrNotFound = errors.New("tokenstore: not found")

// StateRecord is the short-lived CSRF/request-binding record created when
// MXCP starts the authorization_code flow at /authorize (spec.md §4.6 step 1).
type StateRecord struct {
	State               string
	ClientID            string
	ClientRedirectURI   string
	ClientState         string // the downstream client's own state, echoed back
	ClientCodeChallenge  string
	ClientCodeChallengeMethod string
	RequestedScopes     []string
	// UpstreamCodeVerifier is MXCP's own PKCE verifier for its leg of the
	// upstream IdP handshake (spec.md §4.6: MXCP is itself a PKCE client of
	// the upstream IdP).
	UpstreamCodeVerifier string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// AuthorizationCode is the one-time-use code MXCP hands back to the
// downstream client after the upstream IdP callback succeeds (spec.md §4.6
// step 4). Consuming it (at /token) is a single compare-and-delete.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	SessionID           string // the Session this code will bind an access token to
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Session is a durable record of one authenticated end-user, keyed by its
// own ID; AccessTokenRecord and RefreshTokenRecord map the opaque MXCP
// tokens' hashes to that ID (spec.md §4.5: "MXCP never stores the
// provider's raw access/refresh tokens alongside a reversible plaintext
// MXCP token"). EncryptedProviderTokens holds the upstream IdP's tokens,
// encrypted at rest.
type Session struct {
	ID                      string
	Subject                 string // upstream "sub" claim / stable user id
	ClientID                string
	GrantedScopes           []string
	RawProfile              map[string]any // upstream userinfo/ID token claims
	EncryptedProviderTokens []byte
	ProviderTokenExpiresAt  time.Time
	CreatedAt               time.Time
	LastUsedAt              time.Time
	ExpiresAt               time.Time
}

// AccessTokenRecord maps one opaque MXCP access token (by its hash) to the
// session it authenticates, letting a session outlive any one access token.
type AccessTokenRecord struct {
	TokenHash string
	SessionID string
	ExpiresAt time.Time
}

// RefreshTokenRecord maps one opaque MXCP refresh token (by its hash) to the
// session it may mint a fresh access token for. Redeeming one is single-use
// (spec.md §4.6 refresh-token rotation): ConsumeRefreshToken deletes it as
// part of the same fetch, and the caller mints a replacement.
type RefreshTokenRecord struct {
	TokenHash string
	SessionID string
	ExpiresAt time.Time
}

// Store is the durable backend behind SessionManager. Implementations must
// make Consume* atomic (compare-and-delete) so a code or state value can
// never be redeemed twice, even under concurrent requests (spec.md §4.6:
// "authorization codes and state values are single-use").
type Store interface {
	PutState(ctx context.Context, rec StateRecord) error
	// ConsumeState atomically fetches and deletes the state record, or
	// returns ErrNotFound if absent/expired/already consumed.
	ConsumeState(ctx context.Context, state string) (StateRecord, error)

	PutAuthorizationCode(ctx context.Context, rec AuthorizationCode) error
	ConsumeAuthorizationCode(ctx context.Context, code string) (AuthorizationCode, error)

	PutSession(ctx context.Context, sess Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]Session, error)
	TouchSession(ctx context.Context, id string, lastUsedAt time.Time) error

	PutAccessToken(ctx context.Context, rec AccessTokenRecord) error
	GetAccessToken(ctx context.Context, tokenHash string) (AccessTokenRecord, error)
	DeleteAccessToken(ctx context.Context, tokenHash string) error

	PutRefreshToken(ctx context.Context, rec RefreshTokenRecord) error
	// ConsumeRefreshToken atomically fetches and deletes the refresh token
	// record, or returns ErrNotFound if absent/expired/already consumed —
	// the same single-use compare-and-delete contract as
	// ConsumeAuthorizationCode, enforcing refresh-token rotation.
	ConsumeRefreshToken(ctx context.Context, tokenHash string) (RefreshTokenRecord, error)

	// Cleanup removes every expired record and reports how many it removed,
	// used by the admin /auth/cleanup endpoint (spec.md §4.5 housekeeping).
	Cleanup(ctx context.Context, now time.Time) (removed int, err error)
}
