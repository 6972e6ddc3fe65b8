package operation

import (
	"context"
	"fmt"
	"strings"

	"github.com/teemow/oxd/internal/protocol"
)

type introspectAccessToken struct {
	s      *Services
	params IntrospectAccessTokenParams
}

func newIntrospectAccessToken(cmd protocol.Command, s *Services) (Operation, error) {
	op := &introspectAccessToken{s: s}
	if err := cmd.DecodeParams(&op.params); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *introspectAccessToken) OxdID() string {
	return o.params.OxdID
}

// Execute returns the OP's introspection response for the token. An
// inactive token is a successful answer, not an error.
func (o *introspectAccessToken) Execute(ctx context.Context) (any, error) {
	if strings.TrimSpace(o.params.AccessToken) == "" {
		return nil, protocol.NewError(protocol.CodeBadRequest, "access_token is required")
	}
	site, err := o.s.loadRP(ctx, o.params.OxdID)
	if err != nil {
		return nil, err
	}

	meta, err := o.s.Discovery.ConnectDiscovery(ctx, site.OpHost, site.OpDiscoveryPath)
	if err != nil {
		return nil, fmt.Errorf("resolving introspection endpoint: %w", err)
	}
	resp, err := o.s.OP.Introspect(ctx, meta.IntrospectionEndpoint, o.params.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("introspecting access token: %w", err)
	}
	return resp, nil
}
