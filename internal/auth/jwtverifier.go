package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/mxerr"
)

// JWTVerifier validates externally-issued JWT bearer tokens against a JWKS
// endpoint, grounded on toolhive's pkg/auth/jwt.go JWTValidator (which pairs
// lestrrat-go/jwx for JWKS handling with golang-jwt/jwt for parsing). This
// implementation uses jwx/v3's own jwt.Parse(..., jwt.WithKeySet(...)),
// which performs signature verification against a key set directly, so a
// second JWT library isn't needed for the parse/verify step.
//
// This is spec.md §4.6's "Verifier mode": a deployment where MXCP does not
// issue its own opaque tokens at all, and instead verifies JWTs minted by an
// external authorization server (the MCP client obtained its token directly
// from that server, out of band from MXCP).
type JWTVerifier struct {
	issuer   string
	audience string
	jwksURL  string

	mu           sync.RWMutex
	keySet       jwk.Set
	lastRefresh  time.Time
	refreshEvery time.Duration
}

// NewJWTVerifier builds a JWTVerifier and performs an initial JWKS fetch.
func NewJWTVerifier(ctx context.Context, issuer, audience, jwksURL string) (*JWTVerifier, error) {
	v := &JWTVerifier{issuer: issuer, audience: audience, jwksURL: jwksURL, refreshEvery: 10 * time.Minute}
	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *JWTVerifier) refresh(ctx context.Context) error {
	set, err := jwk.Fetch(ctx, v.jwksURL)
	if err != nil {
		return fmt.Errorf("auth: fetching JWKS from %s: %w", v.jwksURL, err)
	}
	v.mu.Lock()
	v.keySet = set
	v.lastRefresh = time.Now()
	v.mu.Unlock()
	return nil
}

func (v *JWTVerifier) currentKeySet(ctx context.Context) jwk.Set {
	v.mu.RLock()
	stale := time.Since(v.lastRefresh) > v.refreshEvery
	set := v.keySet
	v.mu.RUnlock()

	if stale {
		if err := v.refresh(ctx); err != nil {
			logger.Warnw("auth: JWKS refresh failed, using cached key set", "err", err)
		} else {
			v.mu.RLock()
			set = v.keySet
			v.mu.RUnlock()
		}
	}
	return set
}

// Verify parses and validates raw as a JWT against the current JWKS,
// checking issuer/audience/expiry, and returns its claims as a map.
func (v *JWTVerifier) Verify(ctx context.Context, raw string) (map[string]any, error) {
	set := v.currentKeySet(ctx)

	opts := []jwt.ParseOption{jwt.WithKeySet(set), jwt.WithValidate(true)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, mxerr.New(mxerr.Unauthorized, "invalid or expired bearer token", err)
	}

	claims, err := token.AsMap(ctx)
	if err != nil {
		return nil, mxerr.New(mxerr.Unauthorized, "could not decode token claims", err)
	}
	return claims, nil
}

// IdentityFromClaims builds an Identity from verified JWT claims, requiring
// the 'sub' claim per OIDC Core 1.0 §5.1.
func IdentityFromClaims(claims map[string]any, rawToken string) (*Identity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, mxerr.New(mxerr.Unauthorized, "token is missing required 'sub' claim", nil)
	}
	identity := &Identity{Subject: sub, Claims: claims, Token: rawToken, TokenType: "Bearer"}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	return identity, nil
}
