// Package oauthclient implements the RegisteredClient representation used by
// internal/authserver (spec.md §4.5/§4.6): a registered OAuth client, its
// allowed redirect URIs, scopes and grant types, plus RFC 8252 §7.3 loopback
// redirect matching for native/CLI clients obtained via Dynamic Client
// Registration.
//
// This is grounded directly on toolhive's pkg/authserver/client.go
// (LoopbackClient), adapted from a fosite.Client wrapper into MXCP's own
// RegisteredClient model: MXCP hand-writes its authorization/token endpoint
// logic rather than delegating to fosite's OAuth2Provider (see
// internal/authserver's package doc for why), but fosite.DefaultClient and
// fosite.Arguments remain the right representation for a client record and
// its grant/scope/response-type vocabulary, so they are reused here.
package oauthclient

import (
	"net"
	"net/url"
	"strings"

	"github.com/ory/fosite"
)

// RegisteredClient wraps fosite.DefaultClient with RFC 8252 loopback
// redirect URI matching and MXCP-specific metadata (client name, software
// ID and version).
type RegisteredClient struct {
	*fosite.DefaultClient

	// Name is the human-readable client_name from Dynamic Client Registration.
	Name string
	// SoftwareID / SoftwareVersion are optional DCR metadata, stored verbatim.
	SoftwareID      string
	SoftwareVersion string
}

// New builds a RegisteredClient for Dynamic Client Registration (RFC 7591).
// hashedSecret is empty for public (PKCE-only) clients.
func New(id string, hashedSecret []byte, redirectURIs []string, scopes []string, public bool) *RegisteredClient {
	return &RegisteredClient{
		DefaultClient: &fosite.DefaultClient{
			ID:            id,
			Secret:        hashedSecret,
			RedirectURIs:  redirectURIs,
			GrantTypes:    fosite.Arguments{"authorization_code", "refresh_token"},
			ResponseTypes: fosite.Arguments{"code"},
			Scopes:        scopes,
			Public:        public,
		},
	}
}

// MatchRedirectURI reports whether requestedURI is one of the client's
// registered URIs, with loopback port-wildcarding per RFC 8252 §7.3.
func (c *RegisteredClient) MatchRedirectURI(requestedURI string) bool {
	for _, registered := range c.GetRedirectURIs() {
		if matchesRedirectURI(requestedURI, registered) {
			return true
		}
	}
	return false
}

func matchesRedirectURI(requestedURI, registeredURI string) bool {
	if requestedURI == registeredURI {
		return true
	}
	return matchesAsLoopback(requestedURI, registeredURI)
}

func matchesAsLoopback(requestedURI, registeredURI string) bool {
	requested, err := url.Parse(requestedURI)
	if err != nil {
		return false
	}
	registered, err := url.Parse(registeredURI)
	if err != nil {
		return false
	}
	if requested.Scheme != "http" || registered.Scheme != "http" {
		return false
	}
	if !IsLoopbackHost(requested.Hostname()) || !IsLoopbackHost(registered.Hostname()) {
		return false
	}
	if !hostnamesMatch(requested.Hostname(), registered.Hostname()) {
		return false
	}
	if requested.Path != registered.Path {
		return false
	}
	return requested.RawQuery == registered.RawQuery
}

// IsLoopbackHost reports whether hostname is "localhost" (any case) or a
// loopback IP address (any of 127.0.0.0/8, or ::1).
func IsLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

func hostnamesMatch(requested, registered string) bool {
	if strings.EqualFold(requested, "localhost") && strings.EqualFold(registered, "localhost") {
		return true
	}
	return requested == registered
}

var _ fosite.Client = (*RegisteredClient)(nil)
