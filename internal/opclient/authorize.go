package opclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/teemow/oxd/internal/instrumentation"
)

// AuthorizationRequest describes an authorization request. For direct,
// non-interactive requests the OP authenticates the user from Username and
// Password and answers with a redirect carrying the code.
type AuthorizationRequest struct {
	Endpoint      string
	ClientID      string
	RedirectURI   string
	ResponseTypes []string
	Scopes        []string
	ACRValues     []string
	State         string
	Nonce         string
	Prompt        string
	Username      string
	Password      string
}

// AuthorizationResponse holds what the OP put on the redirect.
type AuthorizationResponse struct {
	Code  string
	Scope string
	State string
}

// ErrNoAuthorizationCode is returned when the OP redirect carries no code.
var ErrNoAuthorizationCode = errors.New("op returned no authorization code")

// AuthCodeURL builds the authorization URL for r.
func AuthCodeURL(r AuthorizationRequest) string {
	conf := oauth2.Config{
		ClientID:    r.ClientID,
		RedirectURL: r.RedirectURI,
		Scopes:      r.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: r.Endpoint},
	}

	var opts []oauth2.AuthCodeOption
	if r.Nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", r.Nonce))
	}
	if len(r.ResponseTypes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("response_type", strings.Join(r.ResponseTypes, " ")))
	}
	if len(r.ACRValues) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("acr_values", strings.Join(r.ACRValues, " ")))
	}
	if r.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", r.Prompt))
	}
	if r.Username != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("auth_username", r.Username),
			oauth2.SetAuthURLParam("auth_password", r.Password),
		)
	}
	return conf.AuthCodeURL(r.State, opts...)
}

// Authorize sends the authorization request and extracts the code from the
// redirect. Redirects are not followed.
func (c *Client) Authorize(ctx context.Context, r AuthorizationRequest) (*AuthorizationResponse, error) {
	if r.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, AuthCodeURL(r), nil)
	if err != nil {
		return nil, fmt.Errorf("building authorization request: %w", err)
	}

	noRedirect := *c.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, body, err := c.do(ctx, &noRedirect, instrumentation.EndpointAuthorization, req)
	if err != nil {
		return nil, fmt.Errorf("authorization request failed: %w", err)
	}
	if resp.StatusCode < http.StatusMultipleChoices || resp.StatusCode >= http.StatusBadRequest {
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	location, err := resp.Location()
	if err != nil {
		return nil, fmt.Errorf("authorization response has no redirect location: %w", err)
	}
	return parseRedirect(location)
}

// parseRedirect reads the authorization result from the query or, for
// implicit and hybrid flows, the fragment of the redirect URI.
func parseRedirect(location *url.URL) (*AuthorizationResponse, error) {
	params := location.Query()
	if params.Get("code") == "" && params.Get("error") == "" && location.Fragment != "" {
		fragment, err := url.ParseQuery(location.Fragment)
		if err == nil {
			params = fragment
		}
	}

	if code := params.Get("error"); code != "" {
		return nil, &OPError{
			StatusCode:  http.StatusFound,
			Code:        code,
			Description: params.Get("error_description"),
		}
	}

	out := &AuthorizationResponse{
		Code:  params.Get("code"),
		Scope: params.Get("scope"),
		State: params.Get("state"),
	}
	if out.Code == "" {
		return nil, ErrNoAuthorizationCode
	}
	return out, nil
}
