package runtime

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "dslengine/runtime"

// metrics holds the service instruments. All recording helpers are safe on a
// nil receiver so the hot path never branches on telemetry being configured.
type metrics struct {
	compiles     metric.Int64Counter
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	executions   metric.Int64Counter
	execFailures metric.Int64Counter
	execDuration metric.Float64Histogram
}

func newMetrics(provider metric.MeterProvider) (*metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &metrics{}
	var err error
	if m.compiles, err = meter.Int64Counter("dsl_compile_total",
		metric.WithDescription("Scripts compiled, including cache hits"),
		metric.WithUnit("{script}")); err != nil {
		return nil, fmt.Errorf("create compile counter: %w", err)
	}
	if m.cacheHits, err = meter.Int64Counter("dsl_cache_hits_total",
		metric.WithDescription("Bytecode cache hits"),
		metric.WithUnit("{lookup}")); err != nil {
		return nil, fmt.Errorf("create cache hit counter: %w", err)
	}
	if m.cacheMisses, err = meter.Int64Counter("dsl_cache_misses_total",
		metric.WithDescription("Bytecode cache misses"),
		metric.WithUnit("{lookup}")); err != nil {
		return nil, fmt.Errorf("create cache miss counter: %w", err)
	}
	if m.executions, err = meter.Int64Counter("dsl_executions_total",
		metric.WithDescription("Script executions started"),
		metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("create execution counter: %w", err)
	}
	if m.execFailures, err = meter.Int64Counter("dsl_execution_failures_total",
		metric.WithDescription("Script executions that returned an error"),
		metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}
	if m.execDuration, err = meter.Float64Histogram("dsl_execution_duration_seconds",
		metric.WithDescription("Wall-clock script execution time"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return m, nil
}

func (m *metrics) recordCompile(ctx context.Context, cacheHit bool) {
	if m == nil {
		return
	}
	m.compiles.Add(ctx, 1)
	if cacheHit {
		m.cacheHits.Add(ctx, 1)
	} else {
		m.cacheMisses.Add(ctx, 1)
	}
}

func (m *metrics) recordExecution(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.executions.Add(ctx, 1)
	if err != nil {
		m.execFailures.Add(ctx, 1)
	}
	m.execDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.Bool("error", err != nil)))
}
