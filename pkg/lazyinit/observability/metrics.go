package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records lazy initialization metrics.
// Use NewMetricsRecorder() for OTel metrics, NewPrometheusRecorder() for
// Prometheus, or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordInit records one factory run with its duration and error status.
	RecordInit(ctx context.Context, cell string, duration time.Duration, err error)

	// RecordWait records a caller that blocked on an in-flight initialization.
	RecordWait(ctx context.Context, cell string, duration time.Duration)

	// RecordRemoval records a registry entry removal.
	RecordRemoval(ctx context.Context, registry string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	initAttempts metric.Int64Counter
	initErrors   metric.Int64Counter
	initLatency  metric.Float64Histogram
	waits        metric.Int64Counter
	waitLatency  metric.Float64Histogram
	removals     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("lazyinit")

	initAttempts, err := meter.Int64Counter("lazyinit.init.attempts",
		metric.WithDescription("Number of factory runs"),
	)
	if err != nil {
		return nil, err
	}

	initErrors, err := meter.Int64Counter("lazyinit.init.errors",
		metric.WithDescription("Number of failed factory runs"),
	)
	if err != nil {
		return nil, err
	}

	initLatency, err := meter.Float64Histogram("lazyinit.init.latency_ms",
		metric.WithDescription("Factory run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	waits, err := meter.Int64Counter("lazyinit.wait.count",
		metric.WithDescription("Number of callers that waited on an in-flight initialization"),
	)
	if err != nil {
		return nil, err
	}

	waitLatency, err := meter.Float64Histogram("lazyinit.wait.latency_ms",
		metric.WithDescription("Time spent waiting on an in-flight initialization in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	removals, err := meter.Int64Counter("lazyinit.registry.removals",
		metric.WithDescription("Number of registry entries removed"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		initAttempts: initAttempts,
		initErrors:   initErrors,
		initLatency:  initLatency,
		waits:        waits,
		waitLatency:  waitLatency,
		removals:     removals,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordInit records a factory run.
func (m *otelMetrics) RecordInit(ctx context.Context, cell string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("cell", cell),
		attribute.Bool("success", err == nil),
	)

	m.initAttempts.Add(ctx, 1, attrs)
	m.initLatency.Record(ctx, millis(duration), attrs)

	if err != nil {
		m.initErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("cell", cell)))
	}
}

// RecordWait records a wait on an in-flight initialization.
func (m *otelMetrics) RecordWait(ctx context.Context, cell string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("cell", cell))
	m.waits.Add(ctx, 1, attrs)
	m.waitLatency.Record(ctx, millis(duration), attrs)
}

// RecordRemoval records a registry removal.
func (m *otelMetrics) RecordRemoval(ctx context.Context, registry string) {
	m.removals.Add(ctx, 1, metric.WithAttributes(attribute.String("registry", registry)))
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// MultiRecorder fans every signal out to several recorders.
type MultiRecorder []MetricsRecorder

// Compile-time interface check.
var _ MetricsRecorder = MultiRecorder(nil)

// RecordInit implements MetricsRecorder.
func (m MultiRecorder) RecordInit(ctx context.Context, cell string, duration time.Duration, err error) {
	for _, r := range m {
		r.RecordInit(ctx, cell, duration, err)
	}
}

// RecordWait implements MetricsRecorder.
func (m MultiRecorder) RecordWait(ctx context.Context, cell string, duration time.Duration) {
	for _, r := range m {
		r.RecordWait(ctx, cell, duration)
	}
}

// RecordRemoval implements MetricsRecorder.
func (m MultiRecorder) RecordRemoval(ctx context.Context, registry string) {
	for _, r := range m {
		r.RecordRemoval(ctx, registry)
	}
}
