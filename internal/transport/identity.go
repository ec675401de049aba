package transport

import (
	"net/http"

	"github.com/mxcp-io/mxcp-core/internal/auth"
	"github.com/mxcp-io/mxcp-core/internal/session"
)

// SessionAuthenticator adapts session.Manager's opaque-token Authenticate
// to internal/auth.Authenticator, the form internal/auth.RequireBearer
// expects (spec.md §4.6 "MXCP-issued token" mode, as opposed to Verifier
// mode's JWTVerifier).
func SessionAuthenticator(sessions *session.Manager) auth.Authenticator {
	return auth.AuthenticatorFunc(func(r *http.Request, token string) (*auth.Identity, error) {
		sess, err := sessions.Authenticate(r.Context(), token)
		if err != nil {
			return nil, err
		}
		return &auth.Identity{
			Subject:   sess.Subject,
			SessionID: sess.ID,
			Claims:    sess.RawProfile,
			Scopes:    sess.GrantedScopes,
			Token:     token,
			TokenType: "Bearer",
		}, nil
	})
}

// VerifierAuthenticator adapts a JWTVerifier to internal/auth.Authenticator
// for spec.md §4.6's Verifier mode, where MXCP checks a JWT minted directly
// by the upstream authorization server rather than issuing its own opaque
// tokens.
func VerifierAuthenticator(verifier *auth.JWTVerifier) auth.Authenticator {
	return auth.AuthenticatorFunc(func(r *http.Request, token string) (*auth.Identity, error) {
		claims, err := verifier.Verify(r.Context(), token)
		if err != nil {
			return nil, err
		}
		return auth.IdentityFromClaims(claims, token)
	})
}
