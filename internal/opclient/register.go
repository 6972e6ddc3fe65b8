package opclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/teemow/oxd/internal/instrumentation"
	"github.com/teemow/oxd/internal/logging"
)

// RegistrationRequest is an OpenID Connect dynamic client registration
// request (RFC 7591).
type RegistrationRequest struct {
	ApplicationType        string   `json:"application_type,omitempty"`
	ClientName             string   `json:"client_name,omitempty"`
	RedirectURIs           []string `json:"redirect_uris"`
	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris,omitempty"`
	ClaimsRedirectURIs     []string `json:"claims_redirect_uri,omitempty"`
	ResponseTypes          []string `json:"response_types,omitempty"`
	GrantTypes             []string `json:"grant_types,omitempty"`
	Scope                  string   `json:"scope,omitempty"`
	Contacts               []string `json:"contacts,omitempty"`
	DefaultACRValues       []string `json:"default_acr_values,omitempty"`
	JWKSURI                string   `json:"jwks_uri,omitempty"`
	UILocales              []string `json:"ui_locales,omitempty"`
	ClaimsLocales          []string `json:"claims_locales,omitempty"`
}

// RegistrationResponse is the OP's answer to a successful registration.
type RegistrationResponse struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret"`
	RegistrationAccessToken string `json:"registration_access_token"`
	RegistrationClientURI   string `json:"registration_client_uri"`
	ClientIDIssuedAt        int64  `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64  `json:"client_secret_expires_at"`
}

// Register registers a new client at the OP's registration endpoint.
func (c *Client) Register(ctx context.Context, endpoint string, r RegistrationRequest) (*RegistrationResponse, error) {
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}
	req, err := newJSONRequest(ctx, http.MethodPost, endpoint, r)
	if err != nil {
		return nil, err
	}

	resp, body, err := c.do(ctx, c.http, instrumentation.EndpointRegistration, req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	var out RegistrationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding registration response: %w", err)
	}
	c.logger.Debug("client registered", "client_id", out.ClientID, logging.TokenHash(out.RegistrationAccessToken))
	return &out, nil
}
