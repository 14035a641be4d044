// Package sqlpool keeps one lazily opened SQLite database per name.
//
// Each database lives in its own file under a directory and is opened on
// first use, with WAL journaling and a busy timeout. Concurrent first use of
// the same name opens the file once; different names open concurrently.
//
//	pool, err := sqlpool.New("/var/lib/app/tenants")
//	db, err := pool.DB(ctx, "tenant-42")
//	defer pool.CloseAll(ctx)
package sqlpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/lazyinit/pkg/lazyinit/registry"
)

// ErrInvalidName is returned for database names that are not a single,
// plain file name.
var ErrInvalidName = errors.New("sqlpool: invalid database name")

var validName = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]*$`)

// Pool opens SQLite databases under a directory on first use.
type Pool struct {
	dir         string
	busyTimeout time.Duration
	schema      []string
	dbs         *registry.Registry[string, *sql.DB]
}

// Option configures a Pool.
type Option func(*poolOptions)

type poolOptions struct {
	busyTimeout time.Duration
	schema      []string
	registry    []registry.Option
}

// WithBusyTimeout sets how long SQLite waits on a locked database, on
// every connection of the pool. Default: 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *poolOptions) {
		o.busyTimeout = d
	}
}

// WithSchema runs stmts on every database right after it is opened.
// Statements should be idempotent (CREATE TABLE IF NOT EXISTS ...).
func WithSchema(stmts ...string) Option {
	return func(o *poolOptions) {
		o.schema = append(o.schema, stmts...)
	}
}

// WithRegistryOptions passes options to the underlying registry, for
// example a logger or a metrics recorder.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(o *poolOptions) {
		o.registry = append(o.registry, opts...)
	}
}

// New creates a pool over dir, which must exist.
func New(dir string, opts ...Option) (*Pool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat pool directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pool directory %s: not a directory", dir)
	}

	o := poolOptions{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	return &Pool{
		dir:         dir,
		busyTimeout: o.busyTimeout,
		schema:      o.schema,
		dbs:         registry.New[string, *sql.DB](closeDB, o.registry...),
	}, nil
}

// DB returns the database called name, opening it on first use.
// A failed open is retried on the next call.
func (p *Pool) DB(ctx context.Context, name string) (*sql.DB, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return p.dbs.GetOrInit(ctx, name, func(ctx context.Context) (*sql.DB, error) {
		return p.open(ctx, name)
	})
}

// Warm opens the named databases concurrently.
func (p *Pool) Warm(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			return err
		}
	}
	return p.dbs.Warm(ctx, names, p.open)
}

// Path returns the file backing name.
func (p *Pool) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(p.dir, name+".db"), nil
}

// Close closes the database called name. It returns an error matching
// registry.ErrKeyNotFound if name was never opened.
func (p *Pool) Close(ctx context.Context, name string) error {
	return p.dbs.Delete(ctx, name)
}

// CloseAll closes every open database.
func (p *Pool) CloseAll(ctx context.Context) error {
	return errors.Join(p.dbs.Close(ctx)...)
}

// Open returns the names of open databases, sorted.
func (p *Pool) Open() []string {
	var names []string
	p.dbs.Range(func(name string, _ *sql.DB) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

func (p *Pool) open(ctx context.Context, name string) (*sql.DB, error) {
	path, err := p.Path(name)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", name, err)
	}

	for _, stmt := range p.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare database %s: %w", name, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %s: %w", name, err)
	}
	return db, nil
}

// dsn carries the connection pragmas, which the driver applies to every
// connection database/sql opens, not only the first.
func (p *Pool) dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		path, p.busyTimeout.Milliseconds())
}

func closeDB(_ context.Context, db *sql.DB) error {
	return db.Close()
}

// ValidateName reports whether name can be used as a database name: a plain
// file name of letters, digits, '_', '-' and '.', not starting with '.'.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
