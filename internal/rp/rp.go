package rp

import (
	"slices"
	"time"
)

// ApplicationTypeWeb is the application type registered for every site.
const ApplicationTypeWeb = "web"

// RP is a Relying Party registered through the daemon.
//
// Values are treated as immutable: the With* methods return modified copies so
// that every stage of registration (validated, registered, protected) is a
// distinct value.
type RP struct {
	OxdID           string `json:"oxd_id" yaml:"oxd_id,omitempty"`
	OpHost          string `json:"op_host" yaml:"op_host,omitempty"`
	OpDiscoveryPath string `json:"op_discovery_path,omitempty" yaml:"op_discovery_path,omitempty"`

	ClientID                      string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret                  string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	ClientRegistrationAccessToken string `json:"client_registration_access_token,omitempty" yaml:"client_registration_access_token,omitempty"`
	ClientRegistrationClientURI   string `json:"client_registration_client_uri,omitempty" yaml:"client_registration_client_uri,omitempty"`
	ClientIDIssuedAt              int64  `json:"client_id_issued_at,omitempty" yaml:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt         int64  `json:"client_secret_expires_at,omitempty" yaml:"client_secret_expires_at,omitempty"`

	AuthorizationRedirectURI string   `json:"authorization_redirect_uri,omitempty" yaml:"authorization_redirect_uri,omitempty"`
	PostLogoutRedirectURI    string   `json:"post_logout_redirect_uri,omitempty" yaml:"post_logout_redirect_uri,omitempty"`
	GrantType                []string `json:"grant_types,omitempty" yaml:"grant_types,omitempty"`
	ResponseTypes            []string `json:"response_types,omitempty" yaml:"response_types,omitempty"`
	Scope                    []string `json:"scope,omitempty" yaml:"scope,omitempty"`
	AcrValues                []string `json:"acr_values,omitempty" yaml:"acr_values,omitempty"`
	RedirectURIs             []string `json:"redirect_uris,omitempty" yaml:"redirect_uris,omitempty"`
	ClaimsRedirectURI        []string `json:"claims_redirect_uri,omitempty" yaml:"claims_redirect_uri,omitempty"`
	Contacts                 []string `json:"contacts,omitempty" yaml:"contacts,omitempty"`
	UILocales                []string `json:"ui_locales,omitempty" yaml:"ui_locales,omitempty"`
	ClaimsLocales            []string `json:"claims_locales,omitempty" yaml:"claims_locales,omitempty"`
	ClientJwksURI            string   `json:"client_jwks_uri,omitempty" yaml:"client_jwks_uri,omitempty"`
	ApplicationType          string   `json:"application_type,omitempty" yaml:"application_type,omitempty"`

	SetupClientID string `json:"setup_client_id,omitempty" yaml:"setup_client_id,omitempty"`
	SetupOxdID    string `json:"setup_oxd_id,omitempty" yaml:"setup_oxd_id,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

// Credentials is the outcome of client registration at the OP.
type Credentials struct {
	ClientID                string
	ClientSecret            string
	RegistrationAccessToken string
	RegistrationClientURI   string
	ClientIDIssuedAt        int64
	ClientSecretExpiresAt   int64
}

// Complete reports whether both client id and secret are present.
func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Clone returns a deep copy.
func (r RP) Clone() RP {
	c := r
	c.GrantType = slices.Clone(r.GrantType)
	c.ResponseTypes = slices.Clone(r.ResponseTypes)
	c.Scope = slices.Clone(r.Scope)
	c.AcrValues = slices.Clone(r.AcrValues)
	c.RedirectURIs = slices.Clone(r.RedirectURIs)
	c.ClaimsRedirectURI = slices.Clone(r.ClaimsRedirectURI)
	c.Contacts = slices.Clone(r.Contacts)
	c.UILocales = slices.Clone(r.UILocales)
	c.ClaimsLocales = slices.Clone(r.ClaimsLocales)
	return c
}

// WithOxdID returns a copy carrying the given identifier.
func (r RP) WithOxdID(oxdID string) RP {
	c := r.Clone()
	c.OxdID = oxdID
	return c
}

// WithCredentials returns a copy carrying the client credentials.
func (r RP) WithCredentials(creds Credentials) RP {
	c := r.Clone()
	c.ClientID = creds.ClientID
	c.ClientSecret = creds.ClientSecret
	c.ClientRegistrationAccessToken = creds.RegistrationAccessToken
	c.ClientRegistrationClientURI = creds.RegistrationClientURI
	c.ClientIDIssuedAt = creds.ClientIDIssuedAt
	c.ClientSecretExpiresAt = creds.ClientSecretExpiresAt
	return c
}

// WithProtection returns a copy bound to the client that authorized its setup.
func (r RP) WithProtection(setupClientID, setupOxdID string) RP {
	c := r.Clone()
	c.SetupClientID = setupClientID
	c.SetupOxdID = setupOxdID
	return c
}

// Credentials returns the client credentials held by the RP.
func (r RP) Credentials() Credentials {
	return Credentials{
		ClientID:                r.ClientID,
		ClientSecret:            r.ClientSecret,
		RegistrationAccessToken: r.ClientRegistrationAccessToken,
		RegistrationClientURI:   r.ClientRegistrationClientURI,
		ClientIDIssuedAt:        r.ClientIDIssuedAt,
		ClientSecretExpiresAt:   r.ClientSecretExpiresAt,
	}
}

// Protected reports whether a setup client has been bound to the RP.
func (r RP) Protected() bool {
	return r.SetupClientID != ""
}

// Redacted returns a copy without secrets, suitable for logs and responses.
func (r RP) Redacted() RP {
	c := r.Clone()
	c.ClientSecret = ""
	c.ClientRegistrationAccessToken = ""
	return c
}
