package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	// Common attributes (reused across metrics)
	attrCommand  = "command"
	attrStatus   = "status"
	attrEndpoint = "endpoint"
	attrOpHost   = "op_host"
	attrResult   = "result"
	attrStore    = "store"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// Command protocol metrics
	commandsTotal     metric.Int64Counter
	commandDuration   metric.Float64Histogram
	activeConnections metric.Int64UpDownCounter

	// OP client metrics
	opRequestsTotal   metric.Int64Counter
	opRequestDuration metric.Float64Histogram

	// Domain metrics
	registrationsTotal  metric.Int64Counter
	introspectionsTotal metric.Int64Counter
	housekeepingSwept   metric.Int64Counter

	// Configuration
	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.commandsTotal, err = meter.Int64Counter(
		"oxd_commands_total",
		metric.WithDescription("Total number of commands handled"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oxd_commands_total counter: %w", err)
	}

	m.commandDuration, err = meter.Float64Histogram(
		"oxd_command_duration_seconds",
		metric.WithDescription("Command handling duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oxd_command_duration_seconds histogram: %w", err)
	}

	m.activeConnections, err = meter.Int64UpDownCounter(
		"oxd_active_connections",
		metric.WithDescription("Number of open client connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oxd_active_connections gauge: %w", err)
	}

	m.opRequestsTotal, err = meter.Int64Counter(
		"oxd_op_requests_total",
		metric.WithDescription("Total number of HTTP requests sent to OpenID Providers"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oxd_op_requests_total counter: %w", err)
	}

	m.opRequestDuration, err = meter.Float64Histogram(
		"oxd_op_request_duration_seconds",
		metric.WithDescription("OpenID Provider request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oxd_op_request_duration_seconds histogram: %w", err)
	}

	m.registrationsTotal, err = meter.Int64Counter(
		"oxd_registrations_total",
		metric.WithDescription("Total number of site registrations by result"),
		metric.WithUnit("{registration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oxd_registrations_total counter: %w", err)
	}

	m.introspectionsTotal, err = meter.Int64Counter(
		"oxd_introspections_total",
		metric.WithDescription("Total number of protection token introspections by result"),
		metric.WithUnit("{introspection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oxd_introspections_total counter: %w", err)
	}

	m.housekeepingSwept, err = meter.Int64Counter(
		"oxd_housekeeping_swept_total",
		metric.WithDescription("Total number of expired entries removed by housekeeping"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oxd_housekeeping_swept_total counter: %w", err)
	}

	return m, nil
}

// RecordCommand records a handled command with its status and duration.
//
// Parameters:
//   - command: Command type (register_site, get_authorization_code, ...)
//   - status: Result status ("success" or "error")
//   - duration: Time taken to produce the response
func (m *Metrics) RecordCommand(ctx context.Context, command, status string, duration time.Duration) {
	if m == nil || m.commandsTotal == nil || m.commandDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrCommand, command),
		attribute.String(attrStatus, status),
	}

	m.commandsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.commandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordOPRequest records an outbound call to an OpenID Provider.
// The OP host is only attached when detailed labels are enabled.
func (m *Metrics) RecordOPRequest(ctx context.Context, endpoint, opHost, status string, duration time.Duration) {
	if m == nil || m.opRequestsTotal == nil || m.opRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrEndpoint, endpoint),
		attribute.String(attrStatus, status),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && opHost != "" {
		attrs = append(attrs, attribute.String(attrOpHost, NormalizeOpHost(opHost)))
	}

	m.opRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.opRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRegistration records the outcome of a register_site command.
// Result should be one of: "success", "reused", "failure"
func (m *Metrics) RecordRegistration(ctx context.Context, result string) {
	if m == nil || m.registrationsTotal == nil {
		return // Instrumentation not initialized
	}

	m.registrationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordIntrospection records the outcome of a protection token check.
// Result should be one of: "active", "denied", "failure"
func (m *Metrics) RecordIntrospection(ctx context.Context, result string) {
	if m == nil || m.introspectionsTotal == nil {
		return // Instrumentation not initialized
	}

	m.introspectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordHousekeepingSweep records how many entries a sweeper removed.
func (m *Metrics) RecordHousekeepingSweep(ctx context.Context, store string, removed int) {
	if m == nil || m.housekeepingSwept == nil || removed <= 0 {
		return
	}

	m.housekeepingSwept.Add(ctx, int64(removed), metric.WithAttributes(attribute.String(attrStore, store)))
}

// IncrementActiveConnections increments the open connections counter.
func (m *Metrics) IncrementActiveConnections(ctx context.Context) {
	if m == nil || m.activeConnections == nil {
		return // Instrumentation not initialized
	}

	m.activeConnections.Add(ctx, 1)
}

// DecrementActiveConnections decrements the open connections counter.
func (m *Metrics) DecrementActiveConnections(ctx context.Context) {
	if m == nil || m.activeConnections == nil {
		return // Instrumentation not initialized
	}

	m.activeConnections.Add(ctx, -1)
}
