package opclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/teemow/oxd/internal/instrumentation"
)

// IntrospectionResponse is an RFC 7662 token introspection response.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  any    `json:"aud,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

// Introspect asks the OP about token. The request authenticates with the
// token itself as bearer credential.
func (c *Client) Introspect(ctx context.Context, endpoint, token string) (*IntrospectionResponse, error) {
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}
	req, err := newFormRequest(ctx, endpoint, url.Values{"token": {token}}.Encode())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, body, err := c.do(ctx, c.http, instrumentation.EndpointIntrospection, req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	var out IntrospectionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding introspection response: %w", err)
	}
	return &out, nil
}
