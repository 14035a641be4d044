// Package registry provides a concurrent map of independently lazy values.
//
// Each key owns a lazyinit.Cell. The map is guarded by a sync.RWMutex that is
// held only to find or insert a key's cell; factories run inside the cell,
// outside the map lock. A slow construction for one key therefore never
// blocks first access to another key, while concurrent first access to the
// same key still constructs exactly once.
//
// # Basic Usage
//
// Create a registry with an optional Closer and ask for values by key:
//
//	pools := registry.New[string, *sql.DB](func(ctx context.Context, db *sql.DB) error {
//	    return db.Close()
//	}, registry.WithName("pools"))
//
//	db, err := pools.GetOrInit(ctx, "users", func(ctx context.Context) (*sql.DB, error) {
//	    return sql.Open("sqlite", "users.db")
//	})
//
// # Failure
//
// A factory error leaves the key's entry in place but uninitialized. The next
// GetOrInit for that key runs its factory again. Len counts such entries.
//
// # Removal
//
// Remove detaches a key and hands its value, if any, to the caller. Delete
// does the same and passes the value to the Closer. Close does it for every
// key.
//
// A GetOrInit racing a removal of the same key returns either the value
// that existed before the removal or a freshly built one from a new entry.
// Every value is handed out by Remove or disposed of at most once:
//
//	if db, ok := pools.Remove("users"); ok {
//	    db.Close() // the caller owns it now
//	}
//
// # Warming
//
// Warm builds many keys concurrently through an errgroup, bounded by
// WithWarmLimit:
//
//	err := pools.Warm(ctx, []string{"users", "orders"}, openDB)
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Range iterates over a
// snapshot, so fn may call back into the registry:
//
//	pools.Range(func(name string, db *sql.DB) bool {
//	    if db.Ping() != nil {
//	        pools.Delete(ctx, name)
//	    }
//	    return true
//	})
package registry
