package operation

import (
	"context"

	"github.com/teemow/oxd/internal/protocol"
)

type getRp struct {
	s      *Services
	params GetRpParams
}

func newGetRp(cmd protocol.Command, s *Services) (Operation, error) {
	op := &getRp{s: s}
	if err := cmd.DecodeParams(&op.params); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *getRp) OxdID() string {
	return o.params.OxdID
}

func (o *getRp) Execute(ctx context.Context) (any, error) {
	site, err := o.s.loadRP(ctx, o.params.OxdID)
	if err != nil {
		return nil, err
	}
	if err := o.s.authorize(ctx, o.params.ProtectionAccessToken, site); err != nil {
		return nil, err
	}
	return GetRpResponse{RP: site.Redacted()}, nil
}
