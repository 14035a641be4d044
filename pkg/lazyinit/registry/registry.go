package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit"
)

// Closer disposes of a value that has left the registry.
//
// A nil Closer means values are dropped without cleanup. The entry is gone
// whether or not Closer returns an error.
//
// Example:
//
//	closer := func(ctx context.Context, db *sql.DB) error {
//	    return db.Close()
//	}
type Closer[T any] func(ctx context.Context, v T) error

// entry is one key's cell. removed is set when the entry leaves the map;
// claimed is set by whichever goroutine takes ownership of the value after
// removal, so a value is disposed of or handed back at most once.
type entry[T any] struct {
	cell    *lazyinit.Cell[T]
	removed atomic.Bool
	claimed atomic.Bool
}

// Registry maps keys to independently lazy values.
//
// The map itself is guarded by an RWMutex held only for lookups and
// insertions. Factories run inside each key's cell, so a slow construction
// for one key never blocks another key.
type Registry[K comparable, T any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[T]

	closer Closer[T]
	opts   options
}

// New creates an empty registry. closer is called for values that are
// deleted or closed; it may be nil.
func New[K comparable, T any](closer Closer[T], opts ...Option) *Registry[K, T] {
	return &Registry[K, T]{
		entries: make(map[K]*entry[T]),
		closer:  closer,
		opts:    newOptions(opts),
	}
}

// Name returns the registry name given with WithName.
func (r *Registry[K, T]) Name() string {
	return r.opts.name
}

// GetOrInit returns the value for key, running init in that key's cell if
// the key has no value yet.
//
// Concurrent calls for the same key run init once; calls for different keys
// run concurrently. A failed init leaves the key uninitialized and the next
// call retries.
//
// If the key is removed while GetOrInit is running, the call never returns
// the removed value unless it was initialized before the removal. A value
// that this call constructed into an entry that was removed meanwhile is
// passed to the Closer, and the call starts over on the live map.
func (r *Registry[K, T]) GetOrInit(ctx context.Context, key K, init lazyinit.Factory[T]) (T, error) {
	var zero T
	if init == nil {
		// Like Cell.GetOrInit, an initialized key needs no factory.
		if v, ok := r.Get(key); ok {
			return v, nil
		}
		return zero, &lazyinit.InitError{Cell: r.cellName(key), Kind: lazyinit.ErrNilFactory}
	}

	for {
		e := r.entry(key)

		created := false
		v, err := e.cell.GetOrInit(ctx, func(ctx context.Context) (T, error) {
			v, err := init(ctx)
			created = err == nil
			return v, err
		})
		if err != nil {
			return zero, err
		}
		if !e.removed.Load() {
			return v, nil
		}

		// Removed under us. Only the constructing goroutine can hold a value
		// nobody else will see, so it disposes of it unless Remove got there
		// first.
		if created && e.claimed.CompareAndSwap(false, true) {
			// dispose logs a failing Closer; this caller asked for a live
			// value, not for the removed one to be closed.
			_ = r.dispose(ctx, key, v)
		}
	}
}

// MustGetOrInit is like GetOrInit but panics if initialization fails.
func (r *Registry[K, T]) MustGetOrInit(ctx context.Context, key K, init lazyinit.Factory[T]) T {
	v, err := r.GetOrInit(ctx, key, init)
	if err != nil {
		panic(err)
	}
	return v
}

// Get returns the value for key if it is initialized. It never runs a
// factory and never waits for one.
func (r *Registry[K, T]) Get(key K) (T, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	return e.cell.Get()
}

// State returns the state of key's cell. Keys without an entry report
// lazyinit.Uninitialized.
func (r *Registry[K, T]) State(key K) lazyinit.State {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return lazyinit.Uninitialized
	}
	return e.cell.State()
}

// Has reports whether key has a resident entry, initialized or not.
func (r *Registry[K, T]) Has(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key]
	return ok
}

// Keys returns the keys of all resident entries.
// The order is not guaranteed.
func (r *Registry[K, T]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of resident entries, including entries whose value
// is still being built or whose last initialization failed. It is meant for
// diagnostics.
func (r *Registry[K, T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Range calls fn for each initialized value. If fn returns false, iteration
// stops.
//
// Range iterates over a snapshot, so fn may call GetOrInit or Remove on the
// registry.
func (r *Registry[K, T]) Range(fn func(K, T) bool) {
	r.mu.RLock()
	snapshot := make(map[K]*entry[T], len(r.entries))
	for k, e := range r.entries {
		snapshot[k] = e
	}
	r.mu.RUnlock()

	for k, e := range snapshot {
		v, ok := e.cell.Get()
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

// entry returns the live entry for key, creating it if needed.
func (r *Registry[K, T]) entry(key K) *entry[T] {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		return e
	}

	e = &entry[T]{cell: lazyinit.New[T](r.opts.cellOptions(r.cellName(key))...)}
	r.entries[key] = e
	return e
}

func (r *Registry[K, T]) cellName(key K) string {
	if r.opts.name == "" {
		return fmt.Sprint(key)
	}
	return r.opts.name + "/" + fmt.Sprint(key)
}
