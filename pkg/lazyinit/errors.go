package lazyinit

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for initialization. An *InitError always unwraps to
// exactly one of these, plus the underlying cause when there is one.
var (
	// ErrConstructionFailed indicates the factory returned an error.
	ErrConstructionFailed = errors.New("lazyinit: construction failed")

	// ErrInitPanicked indicates the factory panicked. The panic was
	// recovered and the cell reset to uninitialized.
	ErrInitPanicked = errors.New("lazyinit: initializer panicked")

	// ErrReentrantInit indicates a factory called back into the cell it is
	// initializing.
	ErrReentrantInit = errors.New("lazyinit: reentrant initialization")

	// ErrNilFactory indicates GetOrInit was called with a nil factory.
	ErrNilFactory = errors.New("lazyinit: nil factory")

	// ErrWaitCanceled indicates the caller's context ended while it was
	// waiting for another goroutine's initialization.
	ErrWaitCanceled = errors.New("lazyinit: wait canceled")
)

// InitError describes a failed GetOrInit call.
type InitError struct {
	// Cell is the name of the cell, empty for unnamed cells.
	Cell string

	// AttemptID identifies the initialization attempt, if one was started
	// or waited on.
	AttemptID string

	// Kind is one of the package sentinel errors.
	Kind error

	// Err is the underlying cause: the factory's error, a *PanicError, or a
	// context error.
	Err error
}

// Error implements the error interface.
func (e *InitError) Error() string {
	name := e.Cell
	if name == "" {
		name = "unnamed"
	}
	if e.Err == nil {
		return fmt.Sprintf("%v (cell %s)", e.Kind, name)
	}
	return fmt.Sprintf("%v (cell %s): %v", e.Kind, name, e.Err)
}

// Unwrap returns the kind and the cause for errors.Is/As support.
func (e *InitError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PanicError carries a value recovered from a panicking factory.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsRetryable reports whether a later GetOrInit on the same cell may
// succeed. Factory failures and panics leave the cell uninitialized and are
// retryable; reentrancy, nil factories and context errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrReentrantInit) || errors.Is(err, ErrNilFactory) {
		return false
	}
	return errors.Is(err, ErrConstructionFailed) || errors.Is(err, ErrInitPanicked)
}
