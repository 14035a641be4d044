package lazyinit

import (
	"log/slog"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit/observability"
)

// hooks holds the observability configuration of a cell. It is fixed at
// construction and only consulted on the slow path.
type hooks struct {
	name    string
	label   string // metrics label; name when empty
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// noHooks is used by zero-value cells.
var noHooks = &hooks{
	metrics: observability.NoopMetrics{},
	spans:   observability.NoopSpanManager{},
}

// Option configures a Cell.
type Option func(*hooks)

// WithName sets the cell name used in errors, logs, metrics and spans.
func WithName(name string) Option {
	return func(h *hooks) {
		h.name = name
	}
}

// WithMetricsLabel sets the label metrics are recorded under, in place of
// the cell name. Cells created per key share one label so that metric
// cardinality does not grow with the number of keys.
func WithMetricsLabel(label string) Option {
	return func(h *hooks) {
		h.label = label
	}
}

// WithLogger enables structured logging of initialization attempts.
// Default: no logging.
//
// Example:
//
//	cell := lazyinit.New[*Client](lazyinit.WithLogger(slog.Default()))
func WithLogger(logger *slog.Logger) Option {
	return func(h *hooks) {
		h.logger = logger
	}
}

// WithMetrics records initialization and wait metrics.
// A nil recorder disables metrics.
//
// Example:
//
//	cell := lazyinit.New[*Client](lazyinit.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(h *hooks) {
		if m == nil {
			m = observability.NoopMetrics{}
		}
		h.metrics = m
	}
}

// WithTracing wraps each factory run in a span.
// A nil span manager disables tracing.
func WithTracing(s observability.SpanManager) Option {
	return func(h *hooks) {
		if s == nil {
			s = observability.NoopSpanManager{}
		}
		h.spans = s
	}
}

func (h *hooks) metricsLabel() string {
	if h.label != "" {
		return h.label
	}
	return h.name
}

func newHooks(opts []Option) *hooks {
	h := *noHooks
	for _, opt := range opts {
		opt(&h)
	}
	return &h
}
