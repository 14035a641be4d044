package registry

import (
	"log/slog"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit"
	"github.com/randalmurphal/lazyinit/pkg/lazyinit/observability"
)

type options struct {
	name      string
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	warmLimit int
}

// Option configures a Registry.
type Option func(*options)

// WithName names the registry. Per-key cells are named "<name>/<key>".
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger logs initialization of every key and removals.
// Default: no logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records initialization, waits and removals. Metrics are
// labeled with the registry name, not the key.
// A nil recorder disables metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m == nil {
			m = observability.NoopMetrics{}
		}
		o.metrics = m
	}
}

// WithTracing wraps each per-key factory run in a span.
// A nil span manager disables tracing.
func WithTracing(s observability.SpanManager) Option {
	return func(o *options) {
		if s == nil {
			s = observability.NoopSpanManager{}
		}
		o.spans = s
	}
}

// WithWarmLimit caps the number of keys Warm initializes at once.
// Zero or negative means no limit. Default: no limit.
func WithWarmLimit(n int) Option {
	return func(o *options) {
		o.warmLimit = n
	}
}

func (o options) metricsLabel() string {
	if o.name == "" {
		return "registry"
	}
	return o.name
}

func newOptions(opts []Option) options {
	o := options{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// cellOptions returns the options for a key's cell. The key appears in the
// cell name, which logs and spans carry, but not in metric labels.
func (o options) cellOptions(name string) []lazyinit.Option {
	return []lazyinit.Option{
		lazyinit.WithName(name),
		lazyinit.WithMetricsLabel(o.metricsLabel()),
		lazyinit.WithLogger(o.logger),
		lazyinit.WithMetrics(o.metrics),
		lazyinit.WithTracing(o.spans),
	}
}
