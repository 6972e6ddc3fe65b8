package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/teemow/oxd/internal/config"
	"github.com/teemow/oxd/internal/discovery"
	"github.com/teemow/oxd/internal/instrumentation"
	"github.com/teemow/oxd/internal/opclient"
	"github.com/teemow/oxd/internal/protocol"
	"github.com/teemow/oxd/internal/rp"
	"github.com/teemow/oxd/internal/state"
	"github.com/teemow/oxd/internal/storage"
	"github.com/teemow/oxd/internal/validation"
)

// OPClient sends requests to an OP.
type OPClient interface {
	Register(ctx context.Context, endpoint string, r opclient.RegistrationRequest) (*opclient.RegistrationResponse, error)
	Authorize(ctx context.Context, r opclient.AuthorizationRequest) (*opclient.AuthorizationResponse, error)
	Introspect(ctx context.Context, endpoint, token string) (*opclient.IntrospectionResponse, error)
}

// Services is the shared context every operation is built with.
type Services struct {
	Config     *config.Configuration
	Store      storage.Store
	Discovery  discovery.Client
	Validation *validation.Service
	OP         OPClient
	State      *state.Store
	Metrics    *instrumentation.Metrics
	Logger     *slog.Logger

	// NewID generates oxd_ids. Defaults to random UUIDs.
	NewID func() string
}

func (s *Services) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Services) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Operation is one command bound to its params.
type Operation interface {
	Execute(ctx context.Context) (any, error)
}

// Subject is implemented by operations that act on a single RP. OxdID is
// empty until the RP is known.
type Subject interface {
	OxdID() string
}

// Constructor builds an Operation from a command.
type Constructor func(cmd protocol.Command, s *Services) (Operation, error)

var registry = map[protocol.CommandType]Constructor{
	protocol.CommandRegisterSite:          newRegisterSite,
	protocol.CommandSetupClient:           newSetupClient,
	protocol.CommandGetAuthorizationURL:   newGetAuthorizationURL,
	protocol.CommandGetAuthorizationCode:  newGetAuthorizationCode,
	protocol.CommandIntrospectAccessToken: newIntrospectAccessToken,
	protocol.CommandGetRp:                 newGetRp,
}

// Lookup returns the constructor registered for t.
func Lookup(t protocol.CommandType) (Constructor, bool) {
	c, ok := registry[t]
	return c, ok
}

// New builds the operation for cmd. Unknown command types fail with
// unsupported_operation.
func New(cmd protocol.Command, s *Services) (Operation, error) {
	construct, ok := Lookup(cmd.Type)
	if !ok {
		return nil, protocol.Errorf(protocol.CodeUnsupportedOperation, "unsupported command %q", cmd.Type)
	}
	return construct(cmd, s)
}

// loadRP returns the RP stored under oxdID. A missing RP is reported as
// invalid_oxd_id.
func (s *Services) loadRP(ctx context.Context, oxdID string) (rp.RP, error) {
	if oxdID == "" {
		return rp.RP{}, protocol.NewError(protocol.CodeBadRequest, "oxd_id is required")
	}
	r, err := s.Store.Get(ctx, oxdID)
	if errors.Is(err, storage.ErrNotFound) {
		return rp.RP{}, protocol.NewError(protocol.CodeInvalidOxdID, "")
	}
	if err != nil {
		return rp.RP{}, fmt.Errorf("loading rp %s: %w", oxdID, err)
	}
	return r, nil
}

// authorize applies the protection policy to a command on a registered RP.
func (s *Services) authorize(ctx context.Context, token string, r rp.RP) error {
	if !validation.ShouldProtect(s.Config, token, false) {
		return nil
	}
	_, err := s.Validation.Authorize(ctx, token, r)
	return err
}
