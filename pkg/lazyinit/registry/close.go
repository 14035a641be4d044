package registry

import (
	"context"
	"fmt"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit/observability"
)

// Remove detaches the entry for key and returns its value if it was
// initialized. Ownership of the returned value passes to the caller; the
// Closer is not called.
//
// A GetOrInit racing Remove returns either the value Remove returned, if it
// got it first, or a value from a fresh entry. Values built into the removed
// entry after Remove are disposed of by the goroutine that built them.
func (r *Registry[K, T]) Remove(key K) (T, bool) {
	v, owned, _ := r.remove(key)
	return v, owned
}

// Delete removes key and passes its value, if initialized, to the Closer.
//
// Delete returns an error matching ErrKeyNotFound if key has no entry, and
// one matching ErrCloseFailed if the Closer fails. The entry is removed in
// both cases.
func (r *Registry[K, T]) Delete(ctx context.Context, key K) error {
	v, owned, found := r.remove(key)
	if !found {
		return NewErrKeyNotFound(r.opts.name, key)
	}
	if !owned {
		return nil
	}
	return r.dispose(ctx, key, v)
}

// Close removes every entry and passes each initialized value to the Closer.
// It returns the errors of all failed closes. The registry stays usable and
// is empty afterwards.
func (r *Registry[K, T]) Close(ctx context.Context) []error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[K]*entry[T])
	for _, e := range entries {
		e.removed.Store(true)
	}
	r.mu.Unlock()

	var errs []error
	for key, e := range entries {
		r.opts.metrics.RecordRemoval(ctx, r.opts.name)

		v, ok := e.cell.Get()
		observability.LogRemove(r.opts.logger, r.opts.name, fmt.Sprint(key), ok)
		if !ok || !e.claimed.CompareAndSwap(false, true) {
			continue
		}
		if err := r.dispose(ctx, key, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// remove detaches key's entry. owned reports whether the caller now owns the
// returned value; found reports whether key had an entry at all.
func (r *Registry[K, T]) remove(key K) (v T, owned, found bool) {
	r.mu.Lock()
	e, found := r.entries[key]
	if found {
		delete(r.entries, key)
		e.removed.Store(true)
	}
	r.mu.Unlock()

	if !found {
		return v, false, false
	}

	r.opts.metrics.RecordRemoval(context.Background(), r.opts.name)

	v, ok := e.cell.Get()
	observability.LogRemove(r.opts.logger, r.opts.name, fmt.Sprint(key), ok)
	if ok && e.claimed.CompareAndSwap(false, true) {
		return v, true, true
	}

	var zero T
	return zero, false, true
}

// dispose passes v to the Closer. Failures are logged and returned.
func (r *Registry[K, T]) dispose(ctx context.Context, key K, v T) error {
	if r.closer == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.closer(ctx, v); err != nil {
		observability.LogCloseError(r.opts.logger, r.opts.name, fmt.Sprint(key), err)
		return NewErrCloseFailed(r.opts.name, key, err)
	}
	return nil
}
