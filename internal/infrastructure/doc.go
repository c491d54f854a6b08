// Package infrastructure sets up process-wide logging and telemetry: a slog
// logger with optional rotated file output and trace-id injection, and
// OpenTelemetry tracing and metrics exported to Prometheus.
package infrastructure
