package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit"
	"github.com/randalmurphal/lazyinit/pkg/lazyinit/observability"
	"github.com/randalmurphal/lazyinit/pkg/lazyinit/registry"
	"github.com/randalmurphal/lazyinit/pkg/lazyinit/retry"
)

// probeValue is what the probe's factories build. ID is unique per build.
type probeValue struct {
	ID  string
	Key string
}

// report is printed as JSON after a run.
type report struct {
	RunID            string  `json:"run_id"`
	Mode             string  `json:"mode"`
	Name             string  `json:"name"`
	Goroutines       int     `json:"goroutines"`
	Keys             int     `json:"keys,omitempty"`
	FactoryCalls     int64   `json:"factory_calls"`
	InjectedFailures int     `json:"injected_failures"`
	CallerErrors     int64   `json:"caller_errors"`
	DistinctValues   int     `json:"distinct_values"`
	State            string  `json:"state,omitempty"`
	Resident         int     `json:"resident,omitempty"`
	Removals         int64   `json:"removals,omitempty"`
	Disposed         int64   `json:"disposed,omitempty"`
	Spans            int     `json:"spans,omitempty"`
	DurationMs       float64 `json:"duration_ms"`
}

// flakyFactory fails its first failures runs, then builds fresh values.
type flakyFactory struct {
	calls    atomic.Int64
	failures int64
	delay    time.Duration
}

func (f *flakyFactory) build(ctx context.Context, key string) (*probeValue, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		timer := time.NewTimer(f.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if n <= f.failures {
		return nil, fmt.Errorf("injected failure %d of %d", n, f.failures)
	}
	return &probeValue{ID: uuid.NewString(), Key: key}, nil
}

func (f *flakyFactory) forKey(key string) lazyinit.Factory[*probeValue] {
	return func(ctx context.Context) (*probeValue, error) {
		return f.build(ctx, key)
	}
}

// seenSet collects the distinct values callers received.
type seenSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (s *seenSet) add(v *probeValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	s.ids[v.ID] = struct{}{}
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func cellCmd() *cli.Command {
	return &cli.Command{
		Name:  "cell",
		Usage: "Race many callers on the first access of one cell",
		Flags: probeFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			r := runCell(ctx, e, cmd.Int("goroutines"), cmd.Int("failures"), cmd.Duration("delay"))
			if err := writeReport(e, r); err != nil {
				return err
			}
			return e.finish(ctx, cmd.Duration("linger"))
		},
	}
}

func registryCmd() *cli.Command {
	flags := append(probeFlags(),
		&cli.IntFlag{
			Name:  "keys",
			Usage: "number of distinct keys",
			Value: 8,
		},
		&cli.IntFlag{
			Name:  "churn",
			Usage: "number of deletes issued while callers run",
		},
		&cli.FloatFlag{
			Name:  "churn-rate",
			Usage: "deletes per second, 0 for unpaced",
		},
		&cli.BoolFlag{
			Name:  "warm",
			Usage: "warm every key before the callers start",
		},
	)

	return &cli.Command{
		Name:  "registry",
		Usage: "Race many callers across the keys of one registry",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			r := runRegistry(ctx, e, registryProbe{
				goroutines: cmd.Int("goroutines"),
				failures:   cmd.Int("failures"),
				delay:      cmd.Duration("delay"),
				keys:       cmd.Int("keys"),
				churn:      cmd.Int("churn"),
				churnRate:  cmd.Float("churn-rate"),
				warm:       cmd.Bool("warm"),
			})
			if err := writeReport(e, r); err != nil {
				return err
			}
			return e.finish(ctx, cmd.Duration("linger"))
		},
	}
}

func runCell(ctx context.Context, e *env, goroutines, failures int, delay time.Duration) report {
	cell := lazyinit.New[*probeValue](
		lazyinit.WithName(e.settings.Name),
		lazyinit.WithLogger(e.logger),
		lazyinit.WithMetrics(e.metrics),
		lazyinit.WithTracing(e.spans),
	)
	f := &flakyFactory{failures: int64(failures), delay: delay}

	var (
		seen   seenSet
		errs   atomic.Int64
		wg     sync.WaitGroup
		start  = make(chan struct{})
		timing = observability.TimedOperation()
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			callCtx, cancel := e.callContext(ctx)
			defer cancel()

			v, err := retry.GetOrInit(callCtx, cell, e.settings.Retry, f.forKey(""))
			if err != nil {
				errs.Add(1)
				e.logger.Debug("caller failed", slog.String("error", err.Error()))
				return
			}
			seen.add(v)
		}()
	}
	close(start)
	wg.Wait()

	return report{
		RunID:            e.runID,
		Mode:             "cell",
		Name:             e.settings.Name,
		Goroutines:       goroutines,
		FactoryCalls:     f.calls.Load(),
		InjectedFailures: failures,
		CallerErrors:     errs.Load(),
		DistinctValues:   seen.len(),
		State:            cell.State().String(),
		Spans:            e.spanCount(),
		DurationMs:       timing(),
	}
}

type registryProbe struct {
	goroutines int
	failures   int
	delay      time.Duration
	keys       int
	churn      int
	churnRate  float64
	warm       bool
}

func runRegistry(ctx context.Context, e *env, p registryProbe) report {
	var disposed atomic.Int64
	reg := registry.New[string, *probeValue](
		func(context.Context, *probeValue) error {
			disposed.Add(1)
			return nil
		},
		registry.WithName(e.settings.Name),
		registry.WithLogger(e.logger),
		registry.WithMetrics(e.metrics),
		registry.WithTracing(e.spans),
		registry.WithWarmLimit(e.settings.WarmLimit),
	)
	f := &flakyFactory{failures: int64(p.failures), delay: p.delay}

	keys := make([]string, max(p.keys, 1))
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}

	timing := observability.TimedOperation()

	if p.warm {
		if err := reg.Warm(ctx, keys, f.build); err != nil {
			e.logger.Warn("warm failed", slog.String("error", err.Error()))
		}
	}

	var (
		seen     seenSet
		errs     atomic.Int64
		removals atomic.Int64
		wg       sync.WaitGroup
		start    = make(chan struct{})
	)

	for i := 0; i < p.goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			for j := range keys {
				key := keys[(i+j)%len(keys)]
				callCtx, cancel := e.callContext(ctx)
				res := retry.Do(callCtx, e.settings.Retry, func(ctx context.Context) (*probeValue, error) {
					return reg.GetOrInit(ctx, key, f.forKey(key))
				})
				cancel()
				if res.Err != nil {
					errs.Add(1)
					e.logger.Debug("caller failed", slog.String("key", key), slog.String("error", res.Err.Error()))
					continue
				}
				seen.add(res.Value)
			}
		}(i)
	}

	if p.churn > 0 {
		limit := rate.Inf
		if p.churnRate > 0 {
			limit = rate.Limit(p.churnRate)
		}
		limiter := rate.NewLimiter(limit, 1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for c := 0; c < p.churn; c++ {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				err := reg.Delete(ctx, keys[c%len(keys)])
				switch {
				case err == nil:
					removals.Add(1)
				case !errors.Is(err, registry.ErrKeyNotFound):
					e.logger.Warn("delete failed", slog.String("error", err.Error()))
				}
			}
		}()
	}

	close(start)
	wg.Wait()

	resident := reg.Len()
	for _, err := range reg.Close(ctx) {
		e.logger.Warn("close failed", slog.String("error", err.Error()))
	}

	return report{
		RunID:            e.runID,
		Mode:             "registry",
		Name:             e.settings.Name,
		Goroutines:       p.goroutines,
		Keys:             len(keys),
		FactoryCalls:     f.calls.Load(),
		InjectedFailures: p.failures,
		CallerErrors:     errs.Load(),
		DistinctValues:   seen.len(),
		Resident:         resident,
		Removals:         removals.Load(),
		Disposed:         disposed.Load(),
		Spans:            e.spanCount(),
		DurationMs:       timing(),
	}
}

func writeReport(e *env, r report) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
