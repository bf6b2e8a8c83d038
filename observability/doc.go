// Package observability provides an OpenTelemetry metrics extension for
// jobdispatch. The MetricsExtension implements lifecycle hooks to record
// per-job-type counters for submission, claim, completion, failure,
// cancellation and retry, plus a run-time histogram for completed jobs.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
