package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// CommandInvocation captures one handled command for audit logging.
//
// The OxdID identifies a registered site. It is only written to audit
// entries when the logger is configured with IncludeOxdID.
type CommandInvocation struct {
	Command    string
	OxdID      string
	RemoteAddr string

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	ErrorCode string
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// Status returns "success" or "error" based on the Success field.
func (ci *CommandInvocation) Status() string {
	if ci.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for structured logging.
// includeOxdID controls whether the RP identifier is part of the output.
func (ci *CommandInvocation) LogAttrs(includeOxdID bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("command", ci.Command),
		slog.Duration("duration", ci.Duration),
		slog.Bool("success", ci.Success),
	}

	// Add optional fields only if present
	if includeOxdID && ci.OxdID != "" {
		attrs = append(attrs, slog.String("oxd_id", ci.OxdID))
	}
	if ci.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", ci.RemoteAddr))
	}
	if ci.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ci.TraceID))
	}
	if ci.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ci.SpanID))
	}
	if ci.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", ci.ErrorCode))
	}
	if ci.Error != "" {
		attrs = append(attrs, slog.String("error", ci.Error))
	}

	return attrs
}

// NewCommandInvocation creates a new CommandInvocation with timing started.
// Call Complete() when the command finishes.
func NewCommandInvocation(command string) *CommandInvocation {
	return &CommandInvocation{
		Command:   command,
		StartTime: time.Now(),
	}
}

// WithOxdID sets the RP the command operated on.
func (ci *CommandInvocation) WithOxdID(oxdID string) *CommandInvocation {
	ci.OxdID = oxdID
	return ci
}

// WithRemoteAddr sets the client address.
func (ci *CommandInvocation) WithRemoteAddr(addr string) *CommandInvocation {
	ci.RemoteAddr = addr
	return ci
}

// WithSpanContext extracts trace context from the current span.
func (ci *CommandInvocation) WithSpanContext(ctx context.Context) *CommandInvocation {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ci.TraceID = span.SpanContext().TraceID().String()
		ci.SpanID = span.SpanContext().SpanID().String()
	}
	return ci
}

// Complete marks the invocation as completed and calculates duration.
// Returns the same CommandInvocation for method chaining.
func (ci *CommandInvocation) Complete(errorCode string, err error) *CommandInvocation {
	ci.Duration = time.Since(ci.StartTime)
	ci.Success = errorCode == "" && err == nil
	ci.ErrorCode = errorCode
	if err != nil {
		ci.Error = err.Error()
	}
	return ci
}

// CompleteSuccess marks the invocation as successful.
func (ci *CommandInvocation) CompleteSuccess() *CommandInvocation {
	return ci.Complete("", nil)
}

// AuditLogger provides structured audit logging for handled commands.
type AuditLogger struct {
	logger       *slog.Logger
	includeOxdID bool
	enabled      bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, RP identifiers are not included in entries.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:       logger,
		includeOxdID: config.IncludeOxdID,
		enabled:      config.Enabled,
	}
}

// LogCommand writes one audit entry. Failed commands are logged at warn level.
func (al *AuditLogger) LogCommand(ci *CommandInvocation) {
	if al == nil || !al.enabled {
		return
	}

	attrs := ci.LogAttrs(al.includeOxdID)
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ci.Success {
		al.logger.Info("command_executed", args...)
	} else {
		al.logger.Warn("command_failed", args...)
	}
}
