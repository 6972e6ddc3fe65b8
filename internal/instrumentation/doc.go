// Package instrumentation provides OpenTelemetry instrumentation for the oxd
// daemon.
//
// This package enables production-grade observability through:
//   - OpenTelemetry metrics for commands, OP calls and housekeeping
//   - Distributed tracing for command handling and OP requests
//   - Prometheus metrics export via /metrics on the metrics port
//   - OTLP export support for modern observability platforms
//   - Audit logging of every handled command
//
// # Metrics
//
// Command Metrics:
//   - oxd_commands_total: Counter of commands by command type and status
//   - oxd_command_duration_seconds: Histogram of command handling durations
//   - oxd_active_connections: Gauge of open client connections
//
// OP Metrics:
//   - oxd_op_requests_total: Counter of OP requests by endpoint and status
//   - oxd_op_request_duration_seconds: Histogram of OP request durations
//
// Domain Metrics:
//   - oxd_registrations_total: Counter of site registrations by result
//   - oxd_introspections_total: Counter of protection token checks by result
//   - oxd_housekeeping_swept_total: Counter of expired entries removed per store
//
// # Tracing
//
// Distributed tracing spans are created for:
//   - Command handling (command.<type>)
//   - OP requests (op.<endpoint>)
//
// # Configuration
//
// Instrumentation is configured through environment variables. The standard
// OTEL_* variables are honored, daemon specific ones carry the OXD_ prefix:
//   - OXD_INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - OXD_METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - OXD_TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OXD_METRICS_DETAILED_LABELS: Add the OP host to OP request metrics
//   - OXD_AUDIT_LOGGING_ENABLED, OXD_AUDIT_LOGGING_INCLUDE_OXD_ID: Audit log behavior
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: oxd)
//
// With the Prometheus exporter each Provider keeps its own registry, served
// by Provider.Handler.
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	ctx, span := instrumentation.StartCommandSpan(ctx, "register_site")
//	defer span.End()
//
//	provider.Metrics().RecordCommand(ctx, "register_site", instrumentation.StatusSuccess, time.Since(start))
package instrumentation
