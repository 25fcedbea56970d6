// Package observe provides the observability surface for the performance
// core: structured logging, OpenTelemetry metrics and tracing, and an
// Observer that wires providers and exporters together.
//
// The cache, lazy and lifecycle packages each accept a Logger and an
// optional *PerfMetrics; both default to no-ops so the core runs without
// any telemetry configured.
package observe
