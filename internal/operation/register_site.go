package operation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/teemow/oxd/internal/instrumentation"
	"github.com/teemow/oxd/internal/logging"
	"github.com/teemow/oxd/internal/opclient"
	"github.com/teemow/oxd/internal/protocol"
	"github.com/teemow/oxd/internal/rp"
	"github.com/teemow/oxd/internal/validation"
)

const (
	defaultGrantType    = "authorization_code"
	defaultResponseType = "code"

	clientNamePrefix = "oxd client for site: "
)

type registerSite struct {
	s      *Services
	params RegisterSiteParams

	// setup marks setup_client, which is exempt from protection and binds
	// the new RP to its own client.
	setup bool
	oxdID string
}

func newRegisterSite(cmd protocol.Command, s *Services) (Operation, error) {
	op := &registerSite{s: s}
	if err := cmd.DecodeParams(&op.params); err != nil {
		return nil, err
	}
	return op, nil
}

func newSetupClient(cmd protocol.Command, s *Services) (Operation, error) {
	op := &registerSite{s: s, setup: true}
	if err := cmd.DecodeParams(&op.params); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *registerSite) OxdID() string {
	return o.oxdID
}

func (o *registerSite) Execute(ctx context.Context) (any, error) {
	logger := o.s.logger()

	site, err := o.validate(ctx)
	if err != nil {
		return nil, err
	}

	o.oxdID = o.s.newID()
	site = site.WithOxdID(o.oxdID)
	logger = logging.WithOxdID(logger, o.oxdID)

	site, err = o.obtainCredentials(ctx, site)
	if err != nil {
		return nil, err
	}

	if o.setup {
		site = site.WithProtection(site.ClientID, site.OxdID)
	}
	if err := o.s.Store.Create(ctx, site); err != nil {
		return nil, fmt.Errorf("persisting rp: %w", err)
	}
	logger.Info("rp created", logging.OpHost(site.OpHost), "client_id", site.ClientID)

	if err := o.protect(ctx, site); err != nil {
		logger.Warn("rp persisted without protection", logging.Err(err))
		return nil, err
	}

	if o.setup {
		return SetupClientResponse{
			OxdID:                         site.OxdID,
			OpHost:                        site.OpHost,
			ClientID:                      site.ClientID,
			ClientSecret:                  site.ClientSecret,
			ClientRegistrationAccessToken: site.ClientRegistrationAccessToken,
			ClientRegistrationClientURI:   site.ClientRegistrationClientURI,
			ClientIDIssuedAt:              site.ClientIDIssuedAt,
			ClientSecretExpiresAt:         site.ClientSecretExpiresAt,
		}, nil
	}
	return RegisterSiteResponse{OxdID: site.OxdID, OpHost: site.OpHost}, nil
}

// validate builds the RP from the params, filling gaps from the default site
// template. Mandatory fields are checked in the order op_host,
// authorization_redirect_uri, scope.
func (o *registerSite) validate(ctx context.Context) (rp.RP, error) {
	p := o.params
	fallback := o.s.Config.DefaultSite
	logger := o.s.logger()

	opHost := strings.TrimSpace(p.OpHost)
	discoveryPath := p.OpDiscoveryPath
	if opHost == "" {
		opHost = fallback.OpHost
		if opHost == "" {
			return rp.RP{}, protocol.NewError(protocol.CodeInvalidOpHost, "")
		}
		if discoveryPath == "" {
			discoveryPath = fallback.OpDiscoveryPath
		}
		logger.Warn("op_host not set, using default site config", logging.OpHost(opHost))
	}

	grantTypes := firstNonEmpty(p.GrantTypes, fallback.GrantType, []string{defaultGrantType})

	authzRedirect := p.AuthorizationRedirectURI
	if authzRedirect == "" {
		authzRedirect = fallback.AuthorizationRedirectURI
	}
	if !isValidURL(authzRedirect) {
		return rp.RP{}, protocol.NewError(protocol.CodeInvalidAuthorizationRedirectURI, "")
	}

	postLogout := p.PostLogoutRedirectURI
	if postLogout == "" {
		postLogout = fallback.PostLogoutRedirectURI
	}

	responseTypes := firstNonEmpty(p.ResponseTypes, fallback.ResponseTypes, []string{defaultResponseType})

	redirectURIs := []string{authzRedirect}
	if len(p.RedirectURIs) > 0 {
		redirectURIs = appendUnique(redirectURIs, p.RedirectURIs...)
		if postLogout != "" {
			redirectURIs = appendUnique(redirectURIs, postLogout)
		}
	}

	scope := firstNonEmpty(p.Scope, fallback.Scope)
	if len(scope) == 0 {
		return rp.RP{}, protocol.NewError(protocol.CodeInvalidScope, "")
	}

	var claimsRedirect []string
	if len(p.ClaimsRedirectURI) > 0 {
		claimsRedirect = appendUnique(nil, p.ClaimsRedirectURI...)
		if o.s.Config.AutoRegisterClaimsGatheringEndpoint() {
			uma, err := o.s.Discovery.UMADiscovery(ctx, opHost, discoveryPath)
			if err != nil {
				return rp.RP{}, fmt.Errorf("resolving claims interaction endpoint: %w", err)
			}
			if uma.ClaimsInteractionEndpoint != "" {
				claimsRedirect = appendUnique(claimsRedirect, uma.ClaimsInteractionEndpoint+"?authentication=true")
			}
		}
	}

	jwksURI := p.ClientJwksURI
	if jwksURI == "" {
		jwksURI = fallback.ClientJwksURI
	}

	return rp.RP{
		OpHost:                   opHost,
		OpDiscoveryPath:          discoveryPath,
		ClientID:                 p.ClientID,
		ClientSecret:             p.ClientSecret,
		AuthorizationRedirectURI: authzRedirect,
		PostLogoutRedirectURI:    postLogout,
		GrantType:                grantTypes,
		ResponseTypes:            responseTypes,
		Scope:                    slices.Clone(scope),
		AcrValues:                firstNonEmpty(p.AcrValues, fallback.AcrValues),
		RedirectURIs:             redirectURIs,
		ClaimsRedirectURI:        claimsRedirect,
		Contacts:                 firstNonEmpty(p.Contacts, fallback.Contacts),
		UILocales:                firstNonEmpty(p.UILocales, fallback.UILocales),
		ClaimsLocales:            firstNonEmpty(p.ClaimsLocales, fallback.ClaimsLocales),
		ClientJwksURI:            jwksURI,
		ApplicationType:          rp.ApplicationTypeWeb,
		CreatedAt:                time.Now().UTC(),
	}, nil
}

// obtainCredentials keeps caller supplied credentials or registers a new
// client at the OP.
func (o *registerSite) obtainCredentials(ctx context.Context, site rp.RP) (rp.RP, error) {
	if site.Credentials().Complete() {
		o.s.Metrics.RecordRegistration(ctx, instrumentation.ResultReused)
		return site, nil
	}

	meta, err := o.s.Discovery.ConnectDiscovery(ctx, site.OpHost, site.OpDiscoveryPath)
	if err != nil {
		o.s.Metrics.RecordRegistration(ctx, instrumentation.ResultFailure)
		return rp.RP{}, fmt.Errorf("resolving registration endpoint: %w", err)
	}
	if meta.RegistrationEndpoint == "" {
		o.s.Metrics.RecordRegistration(ctx, instrumentation.ResultFailure)
		o.s.logger().Error("op does not provide registration_endpoint, register the client manually and pass client_id and client_secret",
			logging.OpHost(site.OpHost))
		return rp.RP{}, protocol.NewError(protocol.CodeNoClientRegistrationEndpoint, "")
	}

	resp, err := o.s.OP.Register(ctx, meta.RegistrationEndpoint, o.registrationRequest(site))
	if err != nil {
		o.s.Metrics.RecordRegistration(ctx, instrumentation.ResultFailure)
		o.s.logger().Error("client registration failed", logging.OpHost(site.OpHost), logging.Err(err))

		var opErr *opclient.OPError
		if errors.As(err, &opErr) && opErr.Description != "" {
			return rp.RP{}, protocol.Errorf(protocol.CodeRegistrationFailed, "Failed to register client at the OP: %s", opErr.Description)
		}
		return rp.RP{}, protocol.NewError(protocol.CodeRegistrationFailed, "")
	}

	creds := rp.Credentials{
		ClientID:                resp.ClientID,
		ClientSecret:            resp.ClientSecret,
		RegistrationAccessToken: resp.RegistrationAccessToken,
		RegistrationClientURI:   resp.RegistrationClientURI,
		ClientIDIssuedAt:        resp.ClientIDIssuedAt,
		ClientSecretExpiresAt:   resp.ClientSecretExpiresAt,
	}
	if !creds.Complete() {
		o.s.Metrics.RecordRegistration(ctx, instrumentation.ResultFailure)
		o.s.logger().Error("registration response lacks client credentials",
			logging.OpHost(site.OpHost), "client_id", resp.ClientID)
		return rp.RP{}, protocol.NewError(protocol.CodeRegistrationFailed, "OP returned no client_id or client_secret.")
	}

	o.s.Metrics.RecordRegistration(ctx, instrumentation.ResultSuccess)
	return site.WithCredentials(creds), nil
}

func (o *registerSite) registrationRequest(site rp.RP) opclient.RegistrationRequest {
	name := o.params.ClientName
	if name == "" {
		name = clientNamePrefix + site.OxdID
	}

	req := opclient.RegistrationRequest{
		ApplicationType:    site.ApplicationType,
		ClientName:         name,
		RedirectURIs:       site.RedirectURIs,
		ClaimsRedirectURIs: site.ClaimsRedirectURI,
		ResponseTypes:      site.ResponseTypes,
		GrantTypes:         site.GrantType,
		Scope:              strings.Join(site.Scope, " "),
		Contacts:           site.Contacts,
		DefaultACRValues:   site.AcrValues,
		JWKSURI:            site.ClientJwksURI,
		UILocales:          site.UILocales,
		ClaimsLocales:      site.ClaimsLocales,
	}
	if site.PostLogoutRedirectURI != "" {
		req.PostLogoutRedirectURIs = []string{site.PostLogoutRedirectURI}
	}
	return req
}

// protect binds the persisted RP to the client of the protection access
// token.
func (o *registerSite) protect(ctx context.Context, site rp.RP) error {
	token := o.params.ProtectionAccessToken
	if !validation.ShouldProtect(o.s.Config, token, o.setup) {
		return nil
	}

	res, err := o.s.Validation.Introspect(ctx, token, site.OxdID)
	if err != nil {
		return err
	}
	if err := o.s.Store.Update(ctx, site.WithProtection(res.ClientID, site.OxdID)); err != nil {
		return fmt.Errorf("binding setup client: %w", err)
	}
	return nil
}

func isValidURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.ParseRequestURI(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// firstNonEmpty returns a copy of the first non-empty list.
func firstNonEmpty(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return slices.Clone(l)
		}
	}
	return nil
}

// appendUnique appends values that are not yet in dst, keeping order.
func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v != "" && !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
