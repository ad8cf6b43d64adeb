// Package telemetry installs the OpenTelemetry tracer and meter providers
// for the CLI. Components obtain tracers and meters from the otel globals,
// so nothing else depends on this package.
package telemetry
