package auth

import (
	"net/http"
	"strings"

	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/mxerr"
)

// Authenticator resolves a bearer token to an Identity. internal/session's
// Manager (opaque MXCP tokens) and JWTVerifier (externally issued JWTs,
// Verifier mode) both satisfy this via small adapter funcs at wiring time.
type Authenticator interface {
	AuthenticateBearer(r *http.Request, token string) (*Identity, error)
}

// AuthenticatorFunc adapts a plain function to Authenticator.
type AuthenticatorFunc func(r *http.Request, token string) (*Identity, error)

// AuthenticateBearer implements Authenticator.
func (f AuthenticatorFunc) AuthenticateBearer(r *http.Request, token string) (*Identity, error) {
	return f(r, token)
}

// RequireBearer returns HTTP middleware that extracts the Authorization:
// Bearer header, resolves it via authenticator, and attaches the resulting
// Identity to the request context (spec.md §4.8 admission step). Requests
// with no or invalid credentials are rejected before reaching the handler.
func RequireBearer(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			token := strings.TrimPrefix(header, prefix)

			identity, err := authenticator.AuthenticateBearer(r, token)
			if err != nil {
				logger.Debugw("auth: bearer authentication failed", "err", err)
				writeUnauthorized(w, "invalid or expired bearer token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"invalid_token","error_description":"` + reason + `"}`))
}

// StatusForError maps the gateway's internal error taxonomy to the HTTP
// status code admission-step handlers should return.
func StatusForError(err error) int {
	t, ok := mxerr.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch t {
	case mxerr.InvalidRequest, mxerr.ValidationError, mxerr.InvalidState, mxerr.InvalidGrant:
		return http.StatusBadRequest
	case mxerr.Unauthorized:
		return http.StatusUnauthorized
	case mxerr.Forbidden, mxerr.UnauthorizedClient, mxerr.PolicyDeny:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
