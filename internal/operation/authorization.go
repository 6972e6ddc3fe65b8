package operation

import (
	"context"
	"errors"
	"fmt"

	"github.com/teemow/oxd/internal/logging"
	"github.com/teemow/oxd/internal/opclient"
	"github.com/teemow/oxd/internal/protocol"
	"github.com/teemow/oxd/internal/rp"
)

const promptNone = "none"

type getAuthorizationURL struct {
	s      *Services
	params GetAuthorizationURLParams
}

func newGetAuthorizationURL(cmd protocol.Command, s *Services) (Operation, error) {
	op := &getAuthorizationURL{s: s}
	if err := cmd.DecodeParams(&op.params); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *getAuthorizationURL) OxdID() string {
	return o.params.OxdID
}

func (o *getAuthorizationURL) Execute(ctx context.Context) (any, error) {
	site, err := o.s.loadRP(ctx, o.params.OxdID)
	if err != nil {
		return nil, err
	}
	if err := o.s.authorize(ctx, o.params.ProtectionAccessToken, site); err != nil {
		return nil, err
	}

	meta, err := o.s.Discovery.ConnectDiscovery(ctx, site.OpHost, site.OpDiscoveryPath)
	if err != nil {
		return nil, fmt.Errorf("resolving authorization endpoint: %w", err)
	}

	authURL := opclient.AuthCodeURL(opclient.AuthorizationRequest{
		Endpoint:      meta.AuthorizationEndpoint,
		ClientID:      site.ClientID,
		RedirectURI:   site.AuthorizationRedirectURI,
		ResponseTypes: site.ResponseTypes,
		Scopes:        firstNonEmpty(o.params.Scope, site.Scope),
		ACRValues:     acrValues(o.params.AcrValues, site),
		State:         o.s.State.GenerateState(),
		Nonce:         o.s.State.GenerateNonce(),
		Prompt:        o.params.Prompt,
	})
	return GetAuthorizationURLResponse{AuthorizationURL: authURL}, nil
}

type getAuthorizationCode struct {
	s      *Services
	params GetAuthorizationCodeParams
}

func newGetAuthorizationCode(cmd protocol.Command, s *Services) (Operation, error) {
	op := &getAuthorizationCode{s: s}
	if err := cmd.DecodeParams(&op.params); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *getAuthorizationCode) OxdID() string {
	return o.params.OxdID
}

// Execute obtains a code by authenticating the user directly at the
// authorization endpoint with prompt=none. Failures to reach the OP are not
// retried and surface as internal errors. An explicit refusal from the OP
// (an error parameter on the redirect) is reported as authorization_failed
// instead.
func (o *getAuthorizationCode) Execute(ctx context.Context) (any, error) {
	site, err := o.s.loadRP(ctx, o.params.OxdID)
	if err != nil {
		return nil, err
	}
	if err := o.s.authorize(ctx, o.params.ProtectionAccessToken, site); err != nil {
		return nil, err
	}
	logger := logging.WithOxdID(o.s.logger(), site.OxdID)

	meta, err := o.s.Discovery.ConnectDiscovery(ctx, site.OpHost, site.OpDiscoveryPath)
	if err != nil {
		logger.Error("failed to resolve authorization endpoint", logging.Err(err))
		return nil, fmt.Errorf("resolving authorization endpoint: %w", err)
	}

	state := o.s.State.GenerateState()
	resp, err := o.s.OP.Authorize(ctx, opclient.AuthorizationRequest{
		Endpoint:      meta.AuthorizationEndpoint,
		ClientID:      site.ClientID,
		RedirectURI:   site.AuthorizationRedirectURI,
		ResponseTypes: site.ResponseTypes,
		Scopes:        site.Scope,
		ACRValues:     acrValues(o.params.AcrValues, site),
		State:         state,
		Nonce:         o.s.State.GenerateNonce(),
		Prompt:        promptNone,
		Username:      o.params.Username,
		Password:      o.params.Password,
	})
	if err != nil {
		logger.Error("authorization request failed", logging.OpHost(site.OpHost), logging.Err(err))

		var opErr *opclient.OPError
		if errors.As(err, &opErr) && opErr.Code != "" {
			return nil, protocol.Errorf(protocol.CodeAuthorizationFailed, "OP rejected the authorization request: %s", opErr.Code)
		}
		return nil, fmt.Errorf("authorization request: %w", err)
	}

	consumeErr := o.s.State.ConsumeState(state)
	if resp.State != "" && (resp.State != state || consumeErr != nil) {
		logger.Error("authorization response carries unexpected state", logging.Err(consumeErr))
		return nil, errors.New("authorization response state mismatch")
	}

	return GetAuthorizationCodeResponse{Code: resp.Code, Scope: resp.Scope}, nil
}

// acrValues prefers the caller's ACR values over those stored on the RP.
func acrValues(requested []string, site rp.RP) []string {
	return firstNonEmpty(requested, site.AcrValues)
}
