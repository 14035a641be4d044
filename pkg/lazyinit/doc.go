/*
Package lazyinit provides concurrent lazy initialization of shared values.

# Overview

A Cell holds a value that is built on first use. However many goroutines
call GetOrInit at the same time, the factory runs once per successful
initialization, and every caller gets the same fully constructed value.
After that, reads cost a single atomic load and take no lock.

The registry subpackage builds on Cell to manage many independently lazy
values under one map, keyed by any comparable type.

# Basic Usage

Keep the cell as a field of the struct that owns it:

	type Server struct {
	    db lazyinit.Cell[*sql.DB]
	}

	func (s *Server) DB(ctx context.Context) (*sql.DB, error) {
	    return s.db.GetOrInit(ctx, func(ctx context.Context) (*sql.DB, error) {
	        return sql.Open("sqlite", "app.db")
	    })
	}

The zero Cell is ready to use. New attaches a name and observability hooks:

	cell := lazyinit.New[*Client](
	    lazyinit.WithName("billing-client"),
	    lazyinit.WithLogger(slog.Default()),
	    lazyinit.WithMetrics(observability.NewMetricsRecorder()),
	    lazyinit.WithTracing(observability.NewSpanManager()),
	)

# Failure

A factory that returns an error or panics leaves the cell uninitialized.
The error goes to the goroutine that ran the factory, wrapped in an
*InitError that matches ErrConstructionFailed or ErrInitPanicked:

	v, err := cell.GetOrInit(ctx, connect)
	if errors.Is(err, lazyinit.ErrConstructionFailed) {
	    // a later call will run the factory again
	}

Goroutines that were waiting on the failed attempt do not see its error.
They wake and retry on their own, and one of them runs the next attempt.

# Reentrancy

The context passed to a factory is marked with the attempt it belongs to.
Calling GetOrInit on the same cell with that context, directly or through
other cells' factories, returns ErrReentrantInit instead of deadlocking.

# Cancellation

A waiting caller gives up when its context ends and gets an error matching
both ErrWaitCanceled and the context error. The cell is unaffected. The
running factory receives its caller's context and may honor it.
*/
package lazyinit
