// Package auth implements the admission-step identity model used by
// internal/execution: the authenticated Identity attached to every request
// once a bearer token has been verified, either against MXCP's own
// session.Manager or (in Verifier mode, spec.md §4.6) against an externally
// issued JWT.
//
// Grounded directly on toolhive's pkg/auth/identity.go and context.go.
package auth

import (
	"encoding/json"
	"fmt"
)

// Identity represents an authenticated end user or service account.
type Identity struct {
	// Subject is the stable principal identifier ('sub' claim or session subject).
	Subject string
	Name    string
	Email   string

	// SessionID is the tokenstore.Session this identity was authenticated
	// against, populated only in MXCP-issued-token mode (internal/transport's
	// SessionAuthenticator); empty in Verifier mode, where there is no MXCP
	// session backing the bearer JWT. Carried onto every audit record
	// (spec.md §6 "session_id").
	SessionID string

	// Groups is intentionally left for callers to populate from Claims:
	// the claim name carrying group membership varies by provider.
	Groups []string

	// Claims carries every upstream profile/JWT claim, for policy rules
	// that reference arbitrary fields (spec.md §4.9 "user" CEL variable).
	Claims map[string]any

	// Scopes are the gateway's own mxcp_scopes granted to this identity
	// (spec.md §4.7 ScopeMapper output).
	Scopes []string

	// Token is the raw bearer credential, redacted by String()/MarshalJSON.
	Token     string
	TokenType string
}

// String redacts the bearer token to keep it out of logs.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Identity{Subject:%q}", i.Subject)
}

// MarshalJSON redacts the bearer token, mirroring String's safety guarantee
// for any code path that serializes an Identity (e.g. into an audit record).
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}
	type safeIdentity struct {
		Subject   string         `json:"subject"`
		Name      string         `json:"name,omitempty"`
		Email     string         `json:"email,omitempty"`
		SessionID string         `json:"sessionId,omitempty"`
		Groups    []string       `json:"groups,omitempty"`
		Claims    map[string]any `json:"claims,omitempty"`
		Scopes    []string       `json:"scopes,omitempty"`
		Token     string         `json:"token,omitempty"`
		TokenType string         `json:"tokenType,omitempty"`
	}
	token := i.Token
	if token != "" {
		token = "REDACTED"
	}
	return json.Marshal(&safeIdentity{
		Subject: i.Subject, Name: i.Name, Email: i.Email, SessionID: i.SessionID, Groups: i.Groups,
		Claims: i.Claims, Scopes: i.Scopes, Token: token, TokenType: i.TokenType,
	})
}

// HasScope reports whether the identity was granted the given scope.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
