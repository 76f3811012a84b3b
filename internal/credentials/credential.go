// Package credentials stores OAuth2 application credentials that users
// register for cloud integrations, and turns them into oauth2.Config
// values for the integration's authorization flow.
package credentials

import (
	"errors"
	"strings"

	"golang.org/x/oauth2"
)

// ErrNoEndpoint is returned when a credential's domain has no registered
// OAuth2 endpoint.
var ErrNoEndpoint = errors.New("no oauth2 endpoint registered for domain")

// Credential is an OAuth2 client registration for one integration domain.
type Credential struct {
	ID           string  `json:"id"`
	Domain       string  `json:"domain"`
	ClientID     string  `json:"client_id"`
	ClientSecret string  `json:"client_secret"`
	Name         *string `json:"name,omitempty"`
	AuthDomain   *string `json:"auth_domain,omitempty"`
}

func (c *Credential) clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// CredentialID derives the stable id of a credential.
func CredentialID(domain, clientID string) string {
	return strings.ReplaceAll(strings.ToLower(domain+"_"+clientID), "-", "_")
}

// CreateParams holds the fields of a new credential.
type CreateParams struct {
	Domain       string
	ClientID     string
	ClientSecret string
	Name         *string
	AuthDomain   *string
}

// OAuth2Config builds the client configuration for an authorization flow
// against endpoint.
func (c *Credential) OAuth2Config(endpoint oauth2.Endpoint, redirectURL string, scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	}
}
