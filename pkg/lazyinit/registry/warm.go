package registry

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Warm initializes keys concurrently, at most WithWarmLimit at a time, and
// returns the first error. After a failure the remaining factories receive a
// canceled context. Keys that are already initialized are skipped.
//
// Example:
//
//	err := pools.Warm(ctx, []string{"users", "orders"}, func(ctx context.Context, name string) (*sql.DB, error) {
//	    return openDB(ctx, name)
//	})
func (r *Registry[K, T]) Warm(ctx context.Context, keys []K, init func(context.Context, K) (T, error)) error {
	g, gctx := errgroup.WithContext(ctx)
	if r.opts.warmLimit > 0 {
		g.SetLimit(r.opts.warmLimit)
	}

	for _, key := range keys {
		g.Go(func() error {
			_, err := r.GetOrInit(gctx, key, func(ctx context.Context) (T, error) {
				return init(ctx, key)
			})
			return err
		})
	}
	return g.Wait()
}
