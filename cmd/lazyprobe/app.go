package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit/config"
	"github.com/randalmurphal/lazyinit/pkg/lazyinit/observability"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "lazyprobe",
		Usage:   "Exercise lazy cells and registries under concurrent first access",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "settings file (YAML or JSON)",
				Sources: cli.EnvVars("LAZYPROBE_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error); overrides the settings file",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "serve Prometheus metrics on this address, e.g. :9090",
				Sources: cli.EnvVars("LAZYPROBE_METRICS_ADDR"),
			},
		},
		Commands: []*cli.Command{
			cellCmd(),
			registryCmd(),
		},
	}
}

// probeFlags are shared by the cell and registry commands.
func probeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "goroutines",
			Usage: "number of concurrent callers",
			Value: 100,
		},
		&cli.DurationFlag{
			Name:  "delay",
			Usage: "time each factory run takes",
			Value: 10 * time.Millisecond,
		},
		&cli.IntFlag{
			Name:  "failures",
			Usage: "number of factory runs that fail before runs succeed",
		},
		&cli.DurationFlag{
			Name:  "linger",
			Usage: "keep serving metrics for this long after the run",
		},
	}
}

// env is what a probe run needs from the command line and settings file.
type env struct {
	runID    string
	settings config.Settings
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	recorder *tracetest.SpanRecorder
	out      io.Writer

	server *http.Server
}

func setup(ctx context.Context, cmd *cli.Command) (*env, error) {
	s := config.DefaultSettings()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		s = loaded
	}
	if cmd.IsSet("log-level") {
		level, err := config.ParseLevel(cmd.String("log-level"))
		if err != nil {
			return nil, err
		}
		s.LogLevel = level
	}
	if s.Name == "" {
		s.Name = "probe"
	}

	root := cmd.Root()
	e := &env{
		runID:    uuid.NewString(),
		settings: s,
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		out:      root.Writer,
	}
	e.logger = slog.New(slog.NewJSONHandler(root.ErrWriter, &slog.HandlerOptions{Level: s.LogLevel})).
		With(slog.String("run_id", e.runID))

	addr := cmd.String("metrics-addr")
	switch {
	case s.Metrics == config.MetricsPrometheus || addr != "":
		reg := prometheus.NewRegistry()
		rec, err := observability.NewPrometheusRecorder(reg)
		if err != nil {
			return nil, err
		}
		e.metrics = rec
		if addr != "" {
			if err := e.serveMetrics(ctx, addr, reg); err != nil {
				return nil, err
			}
		}
	case s.Metrics == config.MetricsOTel:
		e.metrics = observability.NewMetricsRecorder()
	}

	if s.Tracing {
		e.recorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(e.recorder)))
		e.spans = observability.NewSpanManager()
	}

	return e, nil
}

func (e *env) serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	e.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return nil
}

// finish waits out the linger period, if any, then stops the metrics server.
func (e *env) finish(ctx context.Context, linger time.Duration) error {
	if e.server == nil {
		return nil
	}
	if linger > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(linger):
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.server.Shutdown(shutdownCtx)
}

// callContext bounds one caller by the configured wait timeout.
func (e *env) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.settings.WaitTimeout > 0 {
		return context.WithTimeout(ctx, e.settings.WaitTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *env) spanCount() int {
	if e.recorder == nil {
		return 0
	}
	return len(e.recorder.Ended())
}
