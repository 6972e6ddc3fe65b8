package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teemow/oxd/internal/config"
	"github.com/teemow/oxd/internal/discovery"
	"github.com/teemow/oxd/internal/instrumentation"
	"github.com/teemow/oxd/internal/logging"
	"github.com/teemow/oxd/internal/opclient"
	"github.com/teemow/oxd/internal/protocol"
	"github.com/teemow/oxd/internal/rp"
	"github.com/teemow/oxd/internal/storage"
)

// Introspector calls an OP introspection endpoint.
type Introspector interface {
	Introspect(ctx context.Context, endpoint, token string) (*opclient.IntrospectionResponse, error)
}

// IntrospectionResult is what the daemon keeps from a successful introspection.
type IntrospectionResult struct {
	ClientID string
	Scope    string
	Active   bool
}

// Service validates protection access tokens.
type Service struct {
	store     storage.Store
	discovery discovery.Client
	op        Introspector
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
}

// NewService creates a Service. metrics may be nil.
func NewService(store storage.Store, disc discovery.Client, op Introspector, metrics *instrumentation.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		discovery: disc,
		op:        op,
		metrics:   metrics,
		logger:    logger,
	}
}

// ShouldProtect reports whether a command must present a valid protection
// access token. Exempt commands are never checked. When protection is
// explicitly disabled a token is still validated if the caller sent one.
func ShouldProtect(conf *config.Configuration, token string, exempt bool) bool {
	if exempt {
		return false
	}
	if conf.ProtectionExplicitlyDisabled() && strings.TrimSpace(token) == "" {
		return false
	}
	return true
}

// Introspect validates token against the OP of the RP stored under oxdID.
func (s *Service) Introspect(ctx context.Context, token, oxdID string) (*IntrospectionResult, error) {
	if strings.TrimSpace(token) == "" {
		s.metrics.RecordIntrospection(ctx, instrumentation.ResultDenied)
		return nil, protocol.NewError(protocol.CodeBlankProtectionAccessToken, "")
	}

	r, err := s.store.Get(ctx, oxdID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, protocol.NewError(protocol.CodeInvalidOxdID, "")
	}
	if err != nil {
		return nil, fmt.Errorf("loading rp %s: %w", oxdID, err)
	}
	return s.IntrospectAt(ctx, token, r.OpHost, r.OpDiscoveryPath)
}

// IntrospectAt validates token against the given OP.
func (s *Service) IntrospectAt(ctx context.Context, token, opHost, discoveryPath string) (*IntrospectionResult, error) {
	if strings.TrimSpace(token) == "" {
		s.metrics.RecordIntrospection(ctx, instrumentation.ResultDenied)
		return nil, protocol.NewError(protocol.CodeBlankProtectionAccessToken, "")
	}

	meta, err := s.discovery.ConnectDiscovery(ctx, opHost, discoveryPath)
	if err != nil {
		return nil, s.deny(ctx, opHost, "failed to discover introspection endpoint", err)
	}
	if meta.IntrospectionEndpoint == "" {
		return nil, s.deny(ctx, opHost, "op does not provide introspection_endpoint", nil)
	}

	resp, err := s.op.Introspect(ctx, meta.IntrospectionEndpoint, token)
	if err != nil {
		return nil, s.deny(ctx, opHost, "introspection request failed", err)
	}
	if !resp.Active {
		return nil, s.deny(ctx, opHost, "protection access token is not active", nil)
	}
	if resp.ClientID == "" {
		return nil, s.deny(ctx, opHost, "introspection response has no client_id", nil)
	}

	s.metrics.RecordIntrospection(ctx, instrumentation.ResultActive)
	s.logger.Debug("protection access token accepted",
		logging.OpHost(opHost), "client_id", resp.ClientID, logging.TokenHash(token))

	return &IntrospectionResult{
		ClientID: resp.ClientID,
		Scope:    resp.Scope,
		Active:   resp.Active,
	}, nil
}

// Authorize checks token for a command on an already registered RP. An RP
// bound to a setup client only accepts tokens issued to that client.
func (s *Service) Authorize(ctx context.Context, token string, r rp.RP) (*IntrospectionResult, error) {
	res, err := s.IntrospectAt(ctx, token, r.OpHost, r.OpDiscoveryPath)
	if err != nil {
		return nil, err
	}
	if r.Protected() && res.ClientID != r.SetupClientID {
		s.logger.Warn("protection access token issued to another client",
			logging.OxdID(r.OxdID), "client_id", res.ClientID, "setup_client_id", r.SetupClientID)
		return nil, protocol.Errorf(protocol.CodeProtectionDenied,
			"protection access token was not issued to the setup client of %s", r.OxdID)
	}
	return res, nil
}

func (s *Service) deny(ctx context.Context, opHost, reason string, cause error) error {
	result := instrumentation.ResultDenied
	if cause != nil {
		result = instrumentation.ResultFailure
	}
	s.metrics.RecordIntrospection(ctx, result)
	s.logger.Warn("protection access token rejected", logging.OpHost(opHost), "reason", reason, logging.Err(cause))
	return protocol.NewError(protocol.CodeProtectionDenied, "")
}
