// Package authserver implements spec.md §4.6's AuthService: the OAuth 2.0
// Authorization Server surface MXCP presents to MCP clients, delegating end
// user authentication to an upstream IdP via internal/provideradapter.
//
// Grounded on toolhive's pkg/authserver package doc comment (authserver.go)
// for scope and endpoint shape, and pkg/authserver/client.go /
// dcr_test.go for the client and DCR request/response shapes. Unlike
// toolhive, this package does not drive ory/fosite's AuthorizeEndpointHandlers
// request/response lifecycle: spec.md §4.6 requires a two-hop handshake
// (downstream /authorize -> redirect to upstream IdP -> upstream callback ->
// MXCP-issued code -> downstream /token), and fosite's OAuth2Provider models
// a single synchronous request/response pair per endpoint. Reusing it would
// mean threading MXCP's own state across two unrelated fosite requests,
// fighting the library rather than using it. fosite's stable, well-documented
// surfaces - fosite.Client/fosite.DefaultClient (internal/oauthclient) and
// fosite's RFC6749Error vocabulary (below) - are reused; the handshake
// orchestration itself is hand-written directly against spec.md's semantics,
// matching how toolhive's own authserver package describes layering
// "Upstream IDP delegation" in front of its fosite core rather than inside it.
package authserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ory/fosite"

	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/pkce"
	"github.com/mxcp-io/mxcp-core/internal/provideradapter"
	"github.com/mxcp-io/mxcp-core/internal/session"
	"github.com/mxcp-io/mxcp-core/internal/tokenstore"
)

// Service is the AuthService: it wires a session.Manager, a ClientStore and
// one upstream provideradapter.Adapter into the OAuth 2.0 endpoints MCP
// clients call.
type Service struct {
	issuer   string
	sessions *session.Manager
	clients  ClientStore
	provider *provideradapter.Adapter
}

// New builds a Service for a single configured upstream provider. Multiple
// upstreams are supported by mounting one Service per provider path
// (spec.md §4.6 allows per-endpoint provider selection via RequiredScopes'
// provider prefix). transport.Router mounts a single Service at fixed root
// paths and does no per-provider routing.
func New(issuer string, sessions *session.Manager, clients ClientStore, provider *provideradapter.Adapter) *Service {
	return &Service{issuer: issuer, sessions: sessions, clients: clients, provider: provider}
}

// WellKnown serves /.well-known/oauth-authorization-server (RFC 8414).
func (s *Service) WellKnown(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                                s.issuer,
		"authorization_endpoint":                s.issuer + "/authorize",
		"token_endpoint":                        s.issuer + "/token",
		"registration_endpoint":                 s.issuer + "/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256", "plain"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_basic"},
	}
	writeJSON(w, http.StatusOK, doc)
}

// Register handles POST /register (RFC 7591 Dynamic Client Registration).
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req DCRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "request body is not valid JSON")
		return
	}
	if err := req.validateAndNormalize(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", err.Error())
		return
	}

	clientID := uuid.NewString()
	client := req.registeredClient(clientID, nil)
	if err := s.clients.Put(r.Context(), client); err != nil {
		logger.Errorw("authserver: storing registered client", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to store client")
		return
	}

	writeJSON(w, http.StatusCreated, DCRResponse{
		ClientID:                clientID,
		ClientIDIssuedAt:        time.Now().Unix(),
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		Scope:                   req.Scope,
	})
}

// Authorize handles GET /authorize (spec.md §4.6 step 1): validates the
// downstream client and redirect_uri, records a StateRecord, and redirects
// the user agent to the upstream IdP.
func (s *Service) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")

	client, ok, err := s.clients.Get(r.Context(), clientID)
	if err != nil || !ok {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client_id")
		return
	}
	if !client.MatchRedirectURI(redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not registered for this client")
		return
	}
	if rt := q.Get("response_type"); rt != "" && rt != "code" {
		redirectWithError(w, r, redirectURI, q.Get("state"), "unsupported_response_type", "only response_type=code is supported")
		return
	}

	upstreamVerifier, upstreamChallenge, err := provideradapter.GenerateChallenge()
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to prepare upstream PKCE challenge")
		return
	}

	state, err := s.sessions.BeginAuthorization(r.Context(), tokenstore.StateRecord{
		ClientID:                  clientID,
		ClientRedirectURI:         redirectURI,
		ClientState:               q.Get("state"),
		ClientCodeChallenge:       q.Get("code_challenge"),
		ClientCodeChallengeMethod: q.Get("code_challenge_method"),
		RequestedScopes:           strings.Fields(q.Get("scope")),
		UpstreamCodeVerifier:      upstreamVerifier,
	})
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to begin authorization")
		return
	}

	http.Redirect(w, r, s.provider.AuthCodeURL(state, upstreamChallenge), http.StatusSeeOther)
}

// Callback handles the upstream IdP's redirect back to MXCP (spec.md §4.6
// steps 2-4): it consumes the state, completes the upstream token exchange,
// creates the Session, and redirects the downstream client back to its own
// redirect_uri with MXCP's own freshly-minted authorization code.
func (s *Service) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		logger.Warnw("authserver: upstream IdP returned an error", "error", errCode, "description", q.Get("error_description"))
		writeOAuthError(w, http.StatusBadGateway, "access_denied", "upstream identity provider denied the request")
		return
	}

	stateRec, err := s.sessions.ConsumeState(ctx, q.Get("state"))
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "unknown or expired state")
		return
	}

	tokens, err := s.provider.Exchange(ctx, q.Get("code"), stateRec.UpstreamCodeVerifier)
	if err != nil {
		logger.Errorw("authserver: upstream token exchange failed", "err", err)
		redirectWithError(w, r, stateRec.ClientRedirectURI, stateRec.ClientState, "server_error", "upstream token exchange failed")
		return
	}

	profile := tokens.IDTokenClaims
	if profile == nil {
		profile, err = s.provider.UserInfo(ctx, tokens.AccessToken)
		if err != nil {
			logger.Warnw("authserver: fetching upstream userinfo failed", "err", err)
			profile = map[string]any{}
		}
	}
	subject := tokens.Subject
	if subject == "" {
		if sub, ok := profile["sub"].(string); ok {
			subject = sub
		}
	}

	providerTokens := map[string]string{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	}
	expiresAt := time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)

	code, err := s.sessions.CompleteUpstream(ctx, stateRec.ClientID, subject, profile,
		stateRec.RequestedScopes, providerTokens, expiresAt,
		stateRec.ClientRedirectURI, stateRec.RequestedScopes,
		stateRec.ClientCodeChallenge, stateRec.ClientCodeChallengeMethod)
	if err != nil {
		logger.Errorw("authserver: completing upstream handshake failed", "err", err)
		redirectWithError(w, r, stateRec.ClientRedirectURI, stateRec.ClientState, "server_error", "failed to complete authorization")
		return
	}

	redirectURL := stateRec.ClientRedirectURI + "?code=" + code
	if stateRec.ClientState != "" {
		redirectURL += "&state=" + stateRec.ClientState
	}
	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}

// Token handles POST /token (spec.md §4.6 step 5): the downstream client
// exchanges its MXCP authorization code (plus its own PKCE verifier, if it
// presented a code_challenge at /authorize) for an opaque MXCP access token.
func (s *Service) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.tokenFromCode(w, r)
	case "refresh_token":
		s.tokenFromRefresh(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code and refresh_token are supported")
	}
}

func (s *Service) tokenFromCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")
	clientID := r.PostForm.Get("client_id")
	redirectURI := r.PostForm.Get("redirect_uri")
	verifier := r.PostForm.Get("code_verifier")

	accessToken, refreshToken, sess, err := s.sessions.IssueAccessToken(r.Context(), code, clientID, redirectURI, verifier, pkce.VerifyChallenge)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown, expired, or already-used authorization code, or a client_id/redirect_uri/PKCE mismatch")
		return
	}

	s.writeTokenResponse(w, accessToken, refreshToken, sess)
}

func (s *Service) tokenFromRefresh(w http.ResponseWriter, r *http.Request) {
	presented := r.PostForm.Get("refresh_token")
	if presented == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	accessToken, refreshToken, sess, err := s.sessions.RefreshAccessToken(r.Context(), presented)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown, expired, or already-used refresh token")
		return
	}

	s.writeTokenResponse(w, accessToken, refreshToken, sess)
}

func (s *Service) writeTokenResponse(w http.ResponseWriter, accessToken, refreshToken string, sess tokenstore.Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(s.sessions.AccessTokenTTL().Seconds()),
		"scope":         strings.Join(sess.GrantedScopes, " "),
	})
}

func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, clientState, code, description string) {
	if redirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, code, description)
		return
	}
	url := fmt.Sprintf("%s?error=%s&error_description=%s", redirectURI, code, description)
	if clientState != "" {
		url += "&state=" + clientState
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// writeOAuthError renders an RFC 6749 error body using fosite's own error
// vocabulary (fosite.RFC6749Error) so MXCP's OAuth error responses share the
// exact "error"/"error_description" shape fosite clients already expect.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	rfcErr := &fosite.RFC6749Error{
		ErrorField:       code,
		DescriptionField: description,
		CodeField:        status,
	}
	writeJSON(w, status, map[string]string{
		"error":             rfcErr.ErrorField,
		"error_description": rfcErr.DescriptionField,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("authserver: encoding response", "err", err)
	}
}
