package authserver

import (
	"fmt"

	"github.com/mxcp-io/mxcp-core/internal/oauthclient"
)

// DCRRequest is the RFC 7591 Dynamic Client Registration request body,
// grounded field-for-field on toolhive's pkg/authserver.DCRRequest.
type DCRRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	SoftwareID              string   `json:"software_id,omitempty"`
	SoftwareVersion         string   `json:"software_version,omitempty"`
}

// DCRResponse is the RFC 7591 registration response.
type DCRResponse struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt         int64    `json:"client_id_issued_at"`
	RedirectURIs             []string `json:"redirect_uris"`
	ClientName               string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod  string   `json:"token_endpoint_auth_method"`
	GrantTypes               []string `json:"grant_types"`
	ResponseTypes            []string `json:"response_types"`
	Scope                    string   `json:"scope,omitempty"`
}

// validateAndNormalize fills in RFC 7591 defaults (public client, standard
// authorization_code + refresh_token grants) and rejects requests with no
// redirect URIs at all.
func (r *DCRRequest) validateAndNormalize() error {
	if len(r.RedirectURIs) == 0 {
		return fmt.Errorf("redirect_uris is required")
	}
	for _, uri := range r.RedirectURIs {
		if uri == "" {
			return fmt.Errorf("redirect_uris must not contain empty values")
		}
	}
	if r.TokenEndpointAuthMethod == "" {
		r.TokenEndpointAuthMethod = "none"
	}
	if len(r.GrantTypes) == 0 {
		r.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if len(r.ResponseTypes) == 0 {
		r.ResponseTypes = []string{"code"}
	}
	return nil
}

func (r *DCRRequest) isPublicClient() bool {
	return r.TokenEndpointAuthMethod == "none"
}

// registeredClient builds the internal representation persisted for this
// newly-registered client.
func (r *DCRRequest) registeredClient(id string, hashedSecret []byte) *oauthclient.RegisteredClient {
	c := oauthclient.New(id, hashedSecret, r.RedirectURIs, splitScope(r.Scope), r.isPublicClient())
	c.Name = r.ClientName
	c.SoftwareID = r.SoftwareID
	c.SoftwareVersion = r.SoftwareVersion
	c.GrantTypes = r.GrantTypes
	c.ResponseTypes = r.ResponseTypes
	return c
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}
