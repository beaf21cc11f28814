// Package observability provides an OpenTelemetry-based metrics
// extension for Cadence. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for job enqueue, completion,
// failure, message delivery, stale skips, and instance deactivation.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
