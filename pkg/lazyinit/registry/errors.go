package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is.
//
// Example:
//
//	err := conns.Delete(ctx, "orders")
//	if errors.Is(err, registry.ErrKeyNotFound) {
//	    // nothing to delete
//	}
var (
	// ErrKeyNotFound indicates the key has no entry.
	ErrKeyNotFound = errors.New("lazyinit.registry: key not found")

	// ErrCloseFailed indicates the Closer returned an error. The entry is
	// removed regardless.
	ErrCloseFailed = errors.New("lazyinit.registry: close failed")
)

// NewErrKeyNotFound returns an error naming the registry and key that
// matches ErrKeyNotFound.
func NewErrKeyNotFound(registry string, key any) error {
	return fmt.Errorf("key %q not found in registry %q: %w", fmt.Sprint(key), registry, ErrKeyNotFound)
}

// NewErrCloseFailed returns an error that matches both ErrCloseFailed and
// the Closer's error.
func NewErrCloseFailed(registry string, key any, err error) error {
	return fmt.Errorf("close %q in registry %q failed: %w: %w", fmt.Sprint(key), registry, ErrCloseFailed, err)
}
