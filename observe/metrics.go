package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// PerfMetrics records telemetry for the performance core. All methods are
// safe for concurrent use and never panic; with a no-op meter they cost a
// few allocations at most.
type PerfMetrics struct {
	cacheAccess   metric.Int64Counter
	cacheEvicted  metric.Int64Counter
	activations   metric.Int64Counter
	activationDur metric.Float64Histogram
	resources     metric.Int64UpDownCounter
	leaks         metric.Int64Counter
	sweeps        metric.Int64Counter
}

// NewPerfMetrics creates the core's instruments on the given meter.
func NewPerfMetrics(meter metric.Meter) (*PerfMetrics, error) {
	cacheAccess, err := meter.Int64Counter(
		"perf.cache.access.total",
		metric.WithDescription("Cache lookups, partitioned by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	cacheEvicted, err := meter.Int64Counter(
		"perf.cache.evictions.total",
		metric.WithDescription("Entries evicted, partitioned by strategy"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	activations, err := meter.Int64Counter(
		"perf.lazy.activations.total",
		metric.WithDescription("Lazy activations, partitioned by status"),
		metric.WithUnit("{activation}"),
	)
	if err != nil {
		return nil, err
	}

	activationDur, err := meter.Float64Histogram(
		"perf.lazy.activation.duration_ms",
		metric.WithDescription("Lazy activation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	resources, err := meter.Int64UpDownCounter(
		"perf.lifecycle.resources",
		metric.WithDescription("Live managed resources, partitioned by type"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	leaks, err := meter.Int64Counter(
		"perf.lifecycle.leak.violations.total",
		metric.WithDescription("Leak threshold violations detected"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, err
	}

	sweeps, err := meter.Int64Counter(
		"perf.sweep.total",
		metric.WithDescription("Periodic sweep runs, partitioned by component"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return nil, err
	}

	return &PerfMetrics{
		cacheAccess:   cacheAccess,
		cacheEvicted:  cacheEvicted,
		activations:   activations,
		activationDur: activationDur,
		resources:     resources,
		leaks:         leaks,
		sweeps:        sweeps,
	}, nil
}

// NopPerfMetrics returns a PerfMetrics backed by a no-op meter.
func NopPerfMetrics() *PerfMetrics {
	m, _ := NewPerfMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

// RecordCacheAccess records a cache lookup.
func (m *PerfMetrics) RecordCacheAccess(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheAccess.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordEviction records n entries evicted under the named strategy.
func (m *PerfMetrics) RecordEviction(ctx context.Context, strategy string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvicted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordActivation records a completed lazy activation.
// Status is one of "ok", "failed", "skipped", "cached".
func (m *PerfMetrics) RecordActivation(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(attribute.String("status", status))
	m.activations.Add(ctx, 1, opt)
	m.activationDur.Record(ctx, float64(d.Milliseconds()), opt)
}

// RecordResource adjusts the live resource gauge for a type.
func (m *PerfMetrics) RecordResource(ctx context.Context, typ string, delta int64) {
	if m == nil {
		return
	}
	m.resources.Add(ctx, delta, metric.WithAttributes(attribute.String("type", typ)))
}

// RecordLeak records a detected leak threshold violation.
func (m *PerfMetrics) RecordLeak(ctx context.Context, typ string) {
	if m == nil {
		return
	}
	m.leaks.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

// RecordSweep records one periodic sweep run for a component.
func (m *PerfMetrics) RecordSweep(ctx context.Context, component string) {
	if m == nil {
		return
	}
	m.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}
