package lazyinit

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit/observability"
)

// State is the initialization state of a Cell.
type State int

const (
	// Uninitialized means no value is stored and no factory is running.
	Uninitialized State = iota

	// Initializing means a factory is running on some goroutine.
	Initializing

	// Initialized means a value is published. It is terminal.
	Initialized
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// Factory constructs the value of a cell. The context is the caller's
// context, extended so that a nested GetOrInit on the same cell is reported
// as ErrReentrantInit.
type Factory[T any] func(ctx context.Context) (T, error)

// Cell holds a value that is constructed on first use.
//
// The zero Cell is empty and ready to use. A Cell must not be copied after
// first use.
type Cell[T any] struct {
	value published[T]

	mu       sync.Mutex // guards inflight and publication
	inflight *attempt

	hooks *hooks
}

// attempt is one run of a factory. done is closed when the run ends,
// successfully or not.
type attempt struct {
	id   string
	done chan struct{}
}

// New creates an empty cell with the given options.
func New[T any](opts ...Option) *Cell[T] {
	return &Cell[T]{hooks: newHooks(opts)}
}

// GetOrInit returns the cell's value, running init first if the cell is
// empty.
//
// Exactly one concurrent caller runs init; the others wait for it and
// return the value it produced. If init fails or panics, the cell stays
// empty, the error is returned to the caller that ran init, and waiting
// callers retry independently: the next one to wake runs its own factory.
//
// Once the cell is initialized GetOrInit never calls init and costs one
// atomic load.
func (c *Cell[T]) GetOrInit(ctx context.Context, init Factory[T]) (T, error) {
	if p := c.value.load(); p != nil {
		return *p, nil
	}
	return c.getOrInitSlow(ctx, init)
}

// MustGetOrInit is like GetOrInit but panics if initialization fails.
func (c *Cell[T]) MustGetOrInit(ctx context.Context, init Factory[T]) T {
	v, err := c.GetOrInit(ctx, init)
	if err != nil {
		panic(err)
	}
	return v
}

// Get returns the value if the cell is initialized. It never blocks.
func (c *Cell[T]) Get() (T, bool) {
	if p := c.value.load(); p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}

// Pointer returns the address of the stored value, or nil if the cell is
// not initialized. The address is stable for the life of the cell.
func (c *Cell[T]) Pointer() *T {
	return c.value.load()
}

// IsInitialized reports whether a value has been published.
func (c *Cell[T]) IsInitialized() bool {
	return c.value.load() != nil
}

// State returns the current state. The result may be stale by the time the
// caller inspects it, except for Initialized, which never changes.
func (c *Cell[T]) State() State {
	if c.value.load() != nil {
		return Initialized
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.value.load() != nil:
		return Initialized
	case c.inflight != nil:
		return Initializing
	default:
		return Uninitialized
	}
}

// Name returns the name given with WithName.
func (c *Cell[T]) Name() string {
	return c.h().name
}

func (c *Cell[T]) h() *hooks {
	if c.hooks == nil {
		return noHooks
	}
	return c.hooks
}

func (c *Cell[T]) getOrInitSlow(ctx context.Context, init Factory[T]) (T, error) {
	var zero T
	h := c.h()

	if init == nil {
		return zero, &InitError{Cell: h.name, Kind: ErrNilFactory}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		c.mu.Lock()
		if p := c.value.load(); p != nil {
			c.mu.Unlock()
			return *p, nil
		}

		if a := c.inflight; a != nil {
			c.mu.Unlock()
			if runningIn(ctx, a) {
				return zero, &InitError{Cell: h.name, AttemptID: a.id, Kind: ErrReentrantInit}
			}
			if err := c.wait(ctx, a); err != nil {
				return zero, err
			}
			continue
		}

		a := &attempt{id: uuid.NewString(), done: make(chan struct{})}
		c.inflight = a
		c.mu.Unlock()

		return c.run(ctx, a, init)
	}
}

// wait blocks until attempt a ends or ctx is done.
func (c *Cell[T]) wait(ctx context.Context, a *attempt) error {
	h := c.h()
	start := time.Now()

	select {
	case <-a.done:
		d := time.Since(start)
		ms := float64(d.Microseconds()) / 1000
		h.metrics.RecordWait(ctx, h.metricsLabel(), d)
		h.spans.AddSpanEvent(ctx, "lazyinit.wait",
			attribute.String("cell.name", h.name),
			attribute.String("attempt.id", a.id),
			attribute.Float64("duration_ms", ms),
		)
		observability.LogWait(h.logger, h.name, a.id, ms)
		return nil
	case <-ctx.Done():
		return &InitError{Cell: h.name, AttemptID: a.id, Kind: ErrWaitCanceled, Err: ctx.Err()}
	}
}

// run executes init for attempt a, which the caller has registered as
// in flight, and publishes or discards the result.
func (c *Cell[T]) run(ctx context.Context, a *attempt, init Factory[T]) (T, error) {
	h := c.h()
	done := observability.TimedOperation()
	start := time.Now()

	observability.LogInitStart(h.logger, h.name, a.id)
	spanCtx, span := h.spans.StartInitSpan(ctx, h.name, a.id)

	finished := false
	defer func() {
		if !finished {
			// init called runtime.Goexit; release waiters without publishing.
			var zero T
			c.finish(a, zero, false)
			span.End()
		}
	}()

	v, err := call(withAttempt(spanCtx, a), h.name, a.id, init)
	p := c.finish(a, v, err == nil)
	finished = true

	h.metrics.RecordInit(ctx, h.metricsLabel(), time.Since(start), err)
	h.spans.EndSpanWithError(span, err)

	if err != nil {
		observability.LogInitError(h.logger, h.name, a.id, err, done())
		var zero T
		return zero, err
	}

	observability.LogInitComplete(h.logger, h.name, a.id, done())
	return *p, nil
}

// finish ends attempt a, publishing v when ok. Publication and clearing the
// in-flight attempt happen under one lock so no caller can observe the cell
// as neither initializing nor initialized between a successful run and its
// publication.
func (c *Cell[T]) finish(a *attempt, v T, ok bool) *T {
	c.mu.Lock()
	defer c.mu.Unlock()

	var p *T
	if ok {
		p = c.value.publish(v)
	}
	c.inflight = nil
	close(a.done)
	return p
}

// call runs init, converting returned errors and panics into *InitError.
func call[T any](ctx context.Context, name, attemptID string, init Factory[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = &InitError{
				Cell:      name,
				AttemptID: attemptID,
				Kind:      ErrInitPanicked,
				Err:       &PanicError{Value: r, Stack: debug.Stack()},
			}
		}
	}()

	v, err = init(ctx)
	if err != nil {
		var zero T
		return zero, &InitError{Cell: name, AttemptID: attemptID, Kind: ErrConstructionFailed, Err: err}
	}
	return v, nil
}
