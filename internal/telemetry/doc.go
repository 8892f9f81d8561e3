// Package telemetry wires OpenTelemetry tracing and metrics for autopilot.
//
// Telemetry is off by default. When enabled, traces and metrics are exported
// over OTLP (gRPC or HTTP). Exporter failures never stop the daemon: the
// instance is marked degraded and the global no-op providers stay in place.
package telemetry
