package api

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/credentials"
)

func init() {
	register("application_credentials/list", handleCredentialsList)
	register("application_credentials/create", handleCredentialsCreate)
	register("application_credentials/delete", handleCredentialsDelete)
	register("application_credentials/config", handleCredentialsConfig)
	register("application_credentials/authorize_url", handleCredentialsAuthorizeURL)
}

func handleCredentialsList(_ context.Context, c *conn, _ *command) (any, error) {
	return orEmpty(c.srv.hub.Credentials.List()), nil
}

func handleCredentialsCreate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		Domain       string        `json:"domain"`
		ClientID     string        `json:"client_id"`
		ClientSecret string        `json:"client_secret"`
		AuthDomain   field[string] `json:"auth_domain"`
		Name         field[string] `json:"name"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	switch {
	case req.Domain == "":
		return nil, requiredKey("domain")
	case req.ClientID == "":
		return nil, requiredKey("client_id")
	case req.ClientSecret == "":
		return nil, requiredKey("client_secret")
	}

	cred, err := c.srv.hub.Credentials.Create(ctx, credentials.CreateParams{
		Domain:       req.Domain,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Name:         optional(req.Name),
		AuthDomain:   optional(req.AuthDomain),
	})
	if err != nil {
		if errors.Is(err, credentials.ErrAlreadyExists) {
			return nil, newCommandError(CodeAlreadyExists, "Application credentials for %s already exist", req.Domain)
		}
		return nil, err
	}
	return cred, nil
}

func handleCredentialsDelete(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		ID string `json:"application_credentials_id"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, requiredKey("application_credentials_id")
	}
	if err := c.srv.hub.Credentials.Delete(ctx, req.ID); err != nil {
		if core.IsNotFound(err) {
			return nil, newCommandError(CodeNotFound, "Unable to find application_credentials_id %s", req.ID)
		}
		return nil, err
	}
	return nil, nil
}

func handleCredentialsConfig(_ context.Context, c *conn, _ *command) (any, error) {
	return map[string]any{
		"domains":      orEmpty(c.srv.hub.Credentials.Domains()),
		"integrations": map[string]any{},
	}, nil
}

// handleCredentialsAuthorizeURL starts an authorization code flow for a
// stored credential. The caller keeps state to match the callback.
func handleCredentialsAuthorizeURL(_ context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		ID          string     `json:"application_credentials_id"`
		RedirectURI string     `json:"redirect_uri"`
		Scopes      stringList `json:"scopes"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, requiredKey("application_credentials_id")
	}
	redirect := req.RedirectURI
	if redirect == "" {
		redirect = c.srv.hub.Config.Credentials.RedirectURL
	}
	if redirect == "" {
		return nil, requiredKey("redirect_uri")
	}

	oc, err := c.srv.hub.Credentials.OAuth2Config(req.ID, redirect, req.Scopes...)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, newCommandError(CodeNotFound, "Unable to find application_credentials_id %s", req.ID)
		}
		return nil, err
	}
	state := uuid.NewString()
	return map[string]any{
		"authorize_url": oc.AuthCodeURL(state, oauth2.AccessTypeOffline),
		"state":         state,
	}, nil
}
