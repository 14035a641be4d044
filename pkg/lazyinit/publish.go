package lazyinit

import "sync/atomic"

// published is a write-once pointer slot.
//
// publish stores with release semantics and load reads with acquire
// semantics (sync/atomic operations are sequentially consistent in the Go
// memory model), so a reader that sees a non-nil pointer also sees every
// write the publisher made to the pointee before publishing.
type published[T any] struct {
	p atomic.Pointer[T]
}

// load returns the published value or nil.
func (s *published[T]) load() *T {
	return s.p.Load()
}

// publish moves v to the heap and makes it visible to other goroutines.
// It panics if a value was already published; callers serialize publication.
func (s *published[T]) publish(v T) *T {
	ptr := &v
	if !s.p.CompareAndSwap(nil, ptr) {
		panic("lazyinit: value published twice")
	}
	return ptr
}
