package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/teemow/oxd/internal/httpclient"
	"github.com/teemow/oxd/internal/instrumentation"
	"github.com/teemow/oxd/internal/logging"
	"github.com/teemow/oxd/internal/operation"
	"github.com/teemow/oxd/internal/protocol"
)

type remoteAddrKey struct{}

// WithRemoteAddr attaches the client address to ctx for logging and audit.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func remoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

// Dispatcher routes command payloads to operations.
type Dispatcher struct {
	services *operation.Services
	metrics  *instrumentation.Metrics
	audit    *instrumentation.AuditLogger
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. audit may be nil.
func NewDispatcher(services *operation.Services, audit *instrumentation.AuditLogger) *Dispatcher {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		services: services,
		metrics:  services.Metrics,
		audit:    audit,
		logger:   logger,
	}
}

// Dispatch parses payload, runs the operation it names and returns the
// response to write back. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, payload string) protocol.CommandResponse {
	start := time.Now()
	logger := logging.WithConnection(d.logger, remoteAddr(ctx))

	cmd, err := protocol.ParseCommand(payload)
	if err != nil {
		logger.Warn("failed to parse command", logging.Err(err))
		d.metrics.RecordCommand(ctx, instrumentation.StatusUnknown, instrumentation.StatusError, time.Since(start))
		return protocol.InternalErrorResponse
	}

	if _, ok := operation.Lookup(cmd.Type); !ok {
		logger.Warn("unsupported command", logging.Command(string(cmd.Type)))
		d.metrics.RecordCommand(ctx, instrumentation.StatusUnknown, instrumentation.StatusError, time.Since(start))
		return protocol.InternalErrorResponse
	}

	ctx, span := instrumentation.StartCommandSpan(ctx, string(cmd.Type))
	defer span.End()

	inv := instrumentation.NewCommandInvocation(string(cmd.Type)).
		WithRemoteAddr(remoteAddr(ctx)).
		WithSpanContext(ctx)
	logger = logging.WithCommand(logger, string(cmd.Type))

	payloadOut, oxdID, err := d.execute(ctx, cmd)
	inv.WithOxdID(oxdID)

	resp := d.respond(logger, payloadOut, err)
	if resp.IsOK() {
		instrumentation.SetSpanSuccess(span)
		inv.CompleteSuccess()
	} else {
		code := string(protocol.CodeOf(err))
		if err == nil {
			code = string(protocol.CodeInternalError)
			err = fmt.Errorf("encoding response for %s failed", cmd.Type)
		}
		span.SetAttributes(instrumentation.NewSpanAttributeBuilder().WithErrorCode(code).Build()...)
		instrumentation.SetSpanError(span, err)
		inv.Complete(code, err)
	}

	d.metrics.RecordCommand(ctx, string(cmd.Type), inv.Status(), time.Since(start))
	d.audit.LogCommand(inv)
	return resp
}

// execute builds and runs the operation, turning a panic into an error.
func (d *Dispatcher) execute(ctx context.Context, cmd protocol.Command) (payload any, oxdID string, err error) {
	var op operation.Operation
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("operation panicked",
				logging.Command(string(cmd.Type)), "panic", r, "stack", string(debug.Stack()))
			payload, err = nil, fmt.Errorf("panic in %s: %v", cmd.Type, r)
		}
		if s, ok := op.(operation.Subject); ok {
			oxdID = s.OxdID()
		}
	}()

	op, err = operation.New(cmd, d.services)
	if err != nil {
		return nil, "", err
	}
	payload, err = op.Execute(ctx)
	return payload, "", err
}

func (d *Dispatcher) respond(logger *slog.Logger, payload any, err error) protocol.CommandResponse {
	if err != nil {
		if perr, ok := protocol.AsError(err); ok {
			logger.Debug("command failed", "error_code", string(perr.Code), logging.Err(err))
			return protocol.ErrorResponse(perr)
		}
		if httpclient.IsTimeout(err) {
			logger.Error("command failed, op request timed out", logging.Err(err), slog.Bool("timeout", true))
		} else {
			logger.Error("command failed with internal error", logging.Err(err))
		}
		return protocol.InternalErrorResponse
	}

	resp, err := protocol.OKResponse(payload)
	if err != nil {
		logger.Error("failed to encode response", logging.Err(err))
		return protocol.InternalErrorResponse
	}
	return resp
}
