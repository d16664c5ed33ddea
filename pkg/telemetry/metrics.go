package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Phase names a lifecycle transition.
type Phase string

const (
	// PhaseSetup marks object initialisation.
	PhaseSetup Phase = "setup"
	// PhaseTeardown marks object release.
	PhaseTeardown Phase = "teardown"
)

var (
	metricsOnce        sync.Once
	metricsInitErr     error
	lifecycleCounter   metric.Int64Counter
	lifecycleHistogram metric.Float64Histogram
	lifecycleFailures  metric.Int64Counter
)

// LifecycleEvent captures one object transition for metrics recording.
type LifecycleEvent struct {
	Object   string
	Phase    Phase
	Duration time.Duration
	Err      error
}

// RecordLifecycle emits counters and a duration histogram describing object
// setup and teardown behaviour.
func RecordLifecycle(ctx context.Context, ev LifecycleEvent) {
	if err := ensureMetrics(); err != nil {
		return
	}

	outcome := "ok"
	if ev.Err != nil {
		outcome = "error"
	}
	attrs := []attribute.KeyValue{
		attribute.String("object.name", ev.Object),
		attribute.String("lifecycle.phase", string(ev.Phase)),
		attribute.String("lifecycle.outcome", outcome),
	}

	lifecycleCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if ev.Duration > 0 {
		lifecycleHistogram.Record(ctx, float64(ev.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
	if ev.Err != nil {
		lifecycleFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("httpsugar.lifecycle")

		var err error
		lifecycleCounter, err = meter.Int64Counter(
			"httpsugar.lifecycle.transitions",
			metric.WithDescription("Count of lifecycle object setup/teardown transitions"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		lifecycleHistogram, err = meter.Float64Histogram(
			"httpsugar.lifecycle.duration",
			metric.WithDescription("Duration of lifecycle transitions in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		lifecycleFailures, err = meter.Int64Counter(
			"httpsugar.lifecycle.failures",
			metric.WithDescription("Count of failed lifecycle transitions"),
		)
		if err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}
