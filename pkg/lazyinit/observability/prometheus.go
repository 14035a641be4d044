package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics implements MetricsRecorder with Prometheus collectors.
type promMetrics struct {
	initAttempts *prometheus.CounterVec
	initErrors   *prometheus.CounterVec
	initLatency  *prometheus.HistogramVec
	waits        *prometheus.CounterVec
	waitLatency  *prometheus.HistogramVec
	removals     *prometheus.CounterVec
}

// Compile-time interface check.
var _ MetricsRecorder = (*promMetrics)(nil)

var latencyBuckets = []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000}

// NewPrometheusRecorder returns a MetricsRecorder that registers its
// collectors on reg. Registering twice on the same Registerer reuses the
// collectors already present, so several registries may share one
// Prometheus registry.
func NewPrometheusRecorder(reg prometheus.Registerer) (MetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var (
		m   promMetrics
		err error
	)

	if m.initAttempts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lazyinit_init_attempts_total",
		Help: "Total number of factory runs",
	}, []string{"cell", "success"})); err != nil {
		return nil, err
	}

	if m.initErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lazyinit_init_errors_total",
		Help: "Total number of failed factory runs",
	}, []string{"cell"})); err != nil {
		return nil, err
	}

	if m.initLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lazyinit_init_duration_milliseconds",
		Help:    "Factory run latency in milliseconds",
		Buckets: latencyBuckets,
	}, []string{"cell"})); err != nil {
		return nil, err
	}

	if m.waits, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lazyinit_waits_total",
		Help: "Total number of callers that waited on an in-flight initialization",
	}, []string{"cell"})); err != nil {
		return nil, err
	}

	if m.waitLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lazyinit_wait_duration_milliseconds",
		Help:    "Time spent waiting on an in-flight initialization in milliseconds",
		Buckets: latencyBuckets,
	}, []string{"cell"})); err != nil {
		return nil, err
	}

	if m.removals, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lazyinit_registry_removals_total",
		Help: "Total number of registry entries removed",
	}, []string{"registry"})); err != nil {
		return nil, err
	}

	return &m, nil
}

// register registers c, returning the existing collector when an identical
// one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}

	var zero C
	return zero, fmt.Errorf("register prometheus collector: %w", err)
}

// RecordInit implements MetricsRecorder.
func (m *promMetrics) RecordInit(_ context.Context, cell string, duration time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
		m.initErrors.WithLabelValues(cell).Inc()
	}
	m.initAttempts.WithLabelValues(cell, success).Inc()
	m.initLatency.WithLabelValues(cell).Observe(millis(duration))
}

// RecordWait implements MetricsRecorder.
func (m *promMetrics) RecordWait(_ context.Context, cell string, duration time.Duration) {
	m.waits.WithLabelValues(cell).Inc()
	m.waitLatency.WithLabelValues(cell).Observe(millis(duration))
}

// RecordRemoval implements MetricsRecorder.
func (m *promMetrics) RecordRemoval(_ context.Context, registry string) {
	m.removals.WithLabelValues(registry).Inc()
}
