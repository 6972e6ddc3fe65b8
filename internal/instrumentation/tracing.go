package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the oxd package.
const TracerName = "github.com/teemow/oxd"

// Span attribute keys for operations.
const (
	// SpanAttrCommand is the command type attribute.
	SpanAttrCommand = "oxd.command"

	// SpanAttrOxdID is the RP identifier attribute.
	SpanAttrOxdID = "oxd.oxd_id"

	// SpanAttrOpHost is the OpenID Provider host attribute.
	SpanAttrOpHost = "oxd.op_host"

	// SpanAttrEndpoint is the OP endpoint attribute (discovery, registration, ...).
	SpanAttrEndpoint = "oxd.op_endpoint"

	// SpanAttrStatus is the operation status attribute.
	SpanAttrStatus = "oxd.status"

	// SpanAttrErrorCode is the protocol error code returned to the client.
	SpanAttrErrorCode = "oxd.error_code"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 6),
	}
}

// WithCommand adds the command type attribute.
func (b *SpanAttributeBuilder) WithCommand(command string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrCommand, command))
	return b
}

// WithOxdID adds the RP identifier attribute.
func (b *SpanAttributeBuilder) WithOxdID(oxdID string) *SpanAttributeBuilder {
	if oxdID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrOxdID, oxdID))
	}
	return b
}

// WithOpHost adds the OP host attribute.
func (b *SpanAttributeBuilder) WithOpHost(opHost string) *SpanAttributeBuilder {
	if opHost != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrOpHost, opHost))
	}
	return b
}

// WithErrorCode adds the protocol error code attribute.
func (b *SpanAttributeBuilder) WithErrorCode(code string) *SpanAttributeBuilder {
	if code != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrErrorCode, code))
	}
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// Returns the context with the span and the span itself.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartCommandSpan starts a server span named "command.<type>" for one
// protocol command.
func StartCommandSpan(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrCommand, command))
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "command."+command,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartOPSpan starts a client span named "op.<endpoint>" for a call to an
// OpenID Provider.
func StartOPSpan(ctx context.Context, endpoint, opHost string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrEndpoint, endpoint),
		attribute.String(SpanAttrOpHost, opHost),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "op."+endpoint,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context.
// Returns empty string if no valid span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
