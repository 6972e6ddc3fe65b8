package operation

import "github.com/teemow/oxd/internal/rp"

// RegisterSiteParams are the params of register_site and setup_client.
type RegisterSiteParams struct {
	OpHost                   string   `json:"op_host,omitempty"`
	OpDiscoveryPath          string   `json:"op_discovery_path,omitempty"`
	AuthorizationRedirectURI string   `json:"authorization_redirect_uri,omitempty"`
	PostLogoutRedirectURI    string   `json:"post_logout_redirect_uri,omitempty"`
	ResponseTypes            []string `json:"response_types,omitempty"`
	GrantTypes               []string `json:"grant_types,omitempty"`
	Scope                    []string `json:"scope,omitempty"`
	AcrValues                []string `json:"acr_values,omitempty"`
	ClientID                 string   `json:"client_id,omitempty"`
	ClientSecret             string   `json:"client_secret,omitempty"`
	ClientName               string   `json:"client_name,omitempty"`
	RedirectURIs             []string `json:"redirect_uris,omitempty"`
	ClaimsRedirectURI        []string `json:"claims_redirect_uri,omitempty"`
	Contacts                 []string `json:"contacts,omitempty"`
	UILocales                []string `json:"ui_locales,omitempty"`
	ClaimsLocales            []string `json:"claims_locales,omitempty"`
	ClientJwksURI            string   `json:"client_jwks_uri,omitempty"`
	ProtectionAccessToken    string   `json:"protection_access_token,omitempty"`
}

// RegisterSiteResponse is returned by register_site.
type RegisterSiteResponse struct {
	OxdID  string `json:"oxd_id"`
	OpHost string `json:"op_host"`
}

// SetupClientResponse is returned by setup_client. It exposes the client
// credentials so that the caller can obtain protection access tokens.
type SetupClientResponse struct {
	OxdID                         string `json:"oxd_id"`
	OpHost                        string `json:"op_host"`
	ClientID                      string `json:"client_id"`
	ClientSecret                  string `json:"client_secret"`
	ClientRegistrationAccessToken string `json:"client_registration_access_token,omitempty"`
	ClientRegistrationClientURI   string `json:"client_registration_client_uri,omitempty"`
	ClientIDIssuedAt              int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt         int64  `json:"client_secret_expires_at,omitempty"`
}

// GetAuthorizationURLParams are the params of get_authorization_url.
type GetAuthorizationURLParams struct {
	OxdID                 string   `json:"oxd_id"`
	AcrValues             []string `json:"acr_values,omitempty"`
	Scope                 []string `json:"scope,omitempty"`
	Prompt                string   `json:"prompt,omitempty"`
	ProtectionAccessToken string   `json:"protection_access_token,omitempty"`
}

// GetAuthorizationURLResponse is returned by get_authorization_url.
type GetAuthorizationURLResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// GetAuthorizationCodeParams are the params of get_authorization_code.
type GetAuthorizationCodeParams struct {
	OxdID                 string   `json:"oxd_id"`
	Username              string   `json:"username,omitempty"`
	Password              string   `json:"password,omitempty"`
	AcrValues             []string `json:"acr_values,omitempty"`
	ProtectionAccessToken string   `json:"protection_access_token,omitempty"`
}

// GetAuthorizationCodeResponse is returned by get_authorization_code.
type GetAuthorizationCodeResponse struct {
	Code  string `json:"code,omitempty"`
	Scope string `json:"scope,omitempty"`
}

// IntrospectAccessTokenParams are the params of introspect_access_token.
type IntrospectAccessTokenParams struct {
	OxdID       string `json:"oxd_id"`
	AccessToken string `json:"access_token"`
}

// GetRpParams are the params of get_rp.
type GetRpParams struct {
	OxdID                 string `json:"oxd_id"`
	ProtectionAccessToken string `json:"protection_access_token,omitempty"`
}

// GetRpResponse is returned by get_rp. Secrets are removed.
type GetRpResponse struct {
	RP rp.RP `json:"node"`
}
