package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit"
)

// resource is a value whose disposal is observable.
type resource struct {
	id       int64
	disposed atomic.Int32
}

// tracker builds resources and records every one it built.
type tracker struct {
	next  atomic.Int64
	mu    sync.Mutex
	built []*resource
}

func (tr *tracker) factory(delay time.Duration) lazyinit.Factory[*resource] {
	return func(context.Context) (*resource, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		r := &resource{id: tr.next.Add(1)}
		tr.mu.Lock()
		tr.built = append(tr.built, r)
		tr.mu.Unlock()
		return r, nil
	}
}

func (tr *tracker) all() []*resource {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]*resource(nil), tr.built...)
}

func disposeResource(_ context.Context, r *resource) error {
	r.disposed.Add(1)
	return nil
}

func value(v int) lazyinit.Factory[int] {
	return func(context.Context) (int, error) {
		return v, nil
	}
}

func TestNew(t *testing.T) {
	r := New[string, int](nil)
	assert.NotNil(t, r)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Name())

	named := New[string, int](nil, WithName("things"))
	assert.Equal(t, "things", named.Name())
}

func TestGetOrInitAndGet(t *testing.T) {
	r := New[string, int](nil)
	ctx := context.Background()

	v, err := r.GetOrInit(ctx, "one", value(1))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Existing key keeps its value.
	v, err = r.GetOrInit(ctx, "one", value(100))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	got, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	got, ok = r.Get("two")
	assert.False(t, ok)
	assert.Equal(t, 0, got)

	assert.Equal(t, lazyinit.Initialized, r.State("one"))
	assert.Equal(t, lazyinit.Uninitialized, r.State("two"))
}

func TestGetOrInit_NilFactory(t *testing.T) {
	r := New[string, int](nil, WithName("reg"))

	_, err := r.GetOrInit(context.Background(), "k", nil)
	require.ErrorIs(t, err, lazyinit.ErrNilFactory)

	var ie *lazyinit.InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "reg/k", ie.Cell)
	assert.Equal(t, 0, r.Len())
}

func TestGetOrInit_NilFactoryOnInitializedKey(t *testing.T) {
	r := New[string, int](nil, WithName("reg"))
	ctx := context.Background()

	_, err := r.GetOrInit(ctx, "k", value(7))
	require.NoError(t, err)

	v, err := r.GetOrInit(ctx, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	var c lazyinit.Cell[int]
	c.MustGetOrInit(ctx, value(7))
	cv, cerr := c.GetOrInit(ctx, nil)
	assert.Equal(t, cerr, err, "registry and cell agree on nil factories")
	assert.Equal(t, cv, v)

	r.Remove("k")
	_, err = r.GetOrInit(ctx, "k", nil)
	assert.ErrorIs(t, err, lazyinit.ErrNilFactory, "a removed key is not initialized")
}

func TestMustGetOrInit(t *testing.T) {
	r := New[string, int](nil)

	assert.Equal(t, 5, r.MustGetOrInit(context.Background(), "k", value(5)))
	assert.Panics(t, func() {
		r.MustGetOrInit(context.Background(), "bad", func(context.Context) (int, error) {
			return 0, errors.New("nope")
		})
	})
}

func TestGetOrInit_ExactlyOncePerKey(t *testing.T) {
	const n = 200

	r := New[string, *resource](nil)
	tr := &tracker{}
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]*resource, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, err := r.GetOrInit(context.Background(), "same-key", tr.factory(10*time.Millisecond))
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Len(t, tr.all(), 1)
	for _, v := range results {
		assert.Same(t, results[0], v)
	}
}

func TestGetOrInit_KeyIndependence(t *testing.T) {
	r := New[string, string](nil)
	release := make(chan struct{})
	started := make(chan struct{})

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		v, err := r.GetOrInit(context.Background(), "A", func(context.Context) (string, error) {
			close(started)
			<-release
			return "slow", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "slow", v)
	}()
	<-started

	begin := time.Now()
	v, err := r.GetOrInit(context.Background(), "B", func(context.Context) (string, error) {
		return "fast", nil
	})
	elapsed := time.Since(begin)

	require.NoError(t, err)
	assert.Equal(t, "fast", v)
	assert.Less(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, lazyinit.Initializing, r.State("A"))

	// Map operations are not blocked by A either.
	assert.True(t, r.Has("A"))
	assert.Equal(t, 2, r.Len())

	close(release)
	<-slowDone
}

func TestGetOrInit_FailureLeavesRetryableEntry(t *testing.T) {
	r := New[string, int](nil)
	ctx := context.Background()
	errDown := errors.New("down")

	_, err := r.GetOrInit(ctx, "k", func(context.Context) (int, error) {
		return 0, errDown
	})
	require.ErrorIs(t, err, lazyinit.ErrConstructionFailed)
	require.ErrorIs(t, err, errDown)
	assert.True(t, lazyinit.IsRetryable(err))

	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Has("k"))
	assert.Equal(t, lazyinit.Uninitialized, r.State("k"))
	_, ok := r.Get("k")
	assert.False(t, ok)

	v, err := r.GetOrInit(ctx, "k", value(3))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestRemove(t *testing.T) {
	tr := &tracker{}
	r := New[string, *resource](disposeResource)
	ctx := context.Background()

	v, err := r.GetOrInit(ctx, "k", tr.factory(0))
	require.NoError(t, err)

	got, ok := r.Remove("k")
	require.True(t, ok)
	assert.Same(t, v, got)
	assert.Zero(t, v.disposed.Load(), "Remove hands ownership to the caller")
	assert.False(t, r.Has("k"))
	assert.Equal(t, 0, r.Len())

	_, ok = r.Remove("k")
	assert.False(t, ok)

	fresh, err := r.GetOrInit(ctx, "k", tr.factory(0))
	require.NoError(t, err)
	assert.NotSame(t, v, fresh)
}

func TestRemove_Uninitialized(t *testing.T) {
	r := New[string, int](nil)
	_, _ = r.GetOrInit(context.Background(), "k", func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	require.True(t, r.Has("k"))

	_, ok := r.Remove("k")
	assert.False(t, ok)
	assert.False(t, r.Has("k"))
}

func TestRemove_DuringInitialization(t *testing.T) {
	tr := &tracker{}
	r := New[string, *resource](disposeResource)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	type result struct {
		v   *resource
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := r.GetOrInit(context.Background(), "k", func(ctx context.Context) (*resource, error) {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return tr.factory(0)(ctx)
		})
		done <- result{v, err}
	}()
	<-started

	_, ok := r.Remove("k")
	assert.False(t, ok, "nothing to hand back while the value is still being built")
	close(release)

	res := <-done
	require.NoError(t, res.err)

	built := tr.all()
	require.Len(t, built, 2)
	assert.Equal(t, int32(1), built[0].disposed.Load(), "value built into the removed entry is disposed")
	assert.Same(t, built[1], res.v)
	assert.Zero(t, res.v.disposed.Load())

	resident, ok := r.Get("k")
	require.True(t, ok)
	assert.Same(t, res.v, resident)
}

func TestRemoveConsistency_Stress(t *testing.T) {
	const (
		iterations = 10000
		getters    = 8
		removers   = 2
	)

	tr := &tracker{}
	r := New[string, *resource](func(_ context.Context, v *resource) error {
		if v.disposed.Add(1) > 1 {
			t.Errorf("resource %d disposed twice", v.id)
		}
		return nil
	})
	ctx := context.Background()
	keys := []string{"a", "b", "c"}

	var wg sync.WaitGroup
	for g := 0; g < getters; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations/getters; i++ {
				key := keys[(i+g)%len(keys)]
				v, err := r.GetOrInit(ctx, key, tr.factory(0))
				if !assert.NoError(t, err) || !assert.NotNil(t, v) {
					return
				}
			}
		}(g)
	}
	for rm := 0; rm < removers; rm++ {
		wg.Add(1)
		go func(rm int) {
			defer wg.Done()
			for i := 0; i < iterations/removers; i++ {
				key := keys[(i+rm)%len(keys)]
				if i%2 == 0 {
					err := r.Delete(ctx, key)
					if err != nil {
						assert.ErrorIs(t, err, ErrKeyNotFound)
					}
					continue
				}
				if v, ok := r.Remove(key); ok {
					_ = disposeFromRemove(v)
				}
			}
		}(rm)
	}
	wg.Wait()

	resident := make(map[*resource]bool)
	r.Range(func(_ string, v *resource) bool {
		resident[v] = true
		return true
	})

	built := tr.all()
	require.NotEmpty(t, built)
	for _, v := range built {
		disposed := v.disposed.Load()
		assert.LessOrEqual(t, disposed, int32(1), "resource %d", v.id)
		if resident[v] {
			assert.Zero(t, disposed, "resident resource %d was disposed", v.id)
		} else {
			assert.Equal(t, int32(1), disposed, "resource %d leaked", v.id)
		}
	}
}

// disposeFromRemove stands in for a caller closing a value it got from Remove.
func disposeFromRemove(v *resource) error {
	return disposeResource(context.Background(), v)
}

func TestDelete(t *testing.T) {
	tr := &tracker{}
	r := New[string, *resource](disposeResource, WithName("res"))
	ctx := context.Background()

	v, err := r.GetOrInit(ctx, "k", tr.factory(0))
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, "k"))
	assert.Equal(t, int32(1), v.disposed.Load())
	assert.False(t, r.Has("k"))

	err = r.Delete(ctx, "k")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.Contains(t, err.Error(), `"k"`)
	assert.Contains(t, err.Error(), `"res"`)
}

func TestDelete_CloseError(t *testing.T) {
	errClose := errors.New("close failed")
	r := New[string, int](func(context.Context, int) error {
		return errClose
	})
	ctx := context.Background()

	_, err := r.GetOrInit(ctx, "k", value(1))
	require.NoError(t, err)

	err = r.Delete(ctx, "k")
	require.ErrorIs(t, err, ErrCloseFailed)
	require.ErrorIs(t, err, errClose)
	assert.False(t, r.Has("k"), "entry is removed even when close fails")
}

func TestClose(t *testing.T) {
	errClose := errors.New("boom")
	var closed []int
	var mu sync.Mutex
	r := New[string, int](func(_ context.Context, v int) error {
		mu.Lock()
		closed = append(closed, v)
		mu.Unlock()
		if v == 2 {
			return errClose
		}
		return nil
	})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := r.GetOrInit(ctx, fmt.Sprintf("k%d", i), value(i))
		require.NoError(t, err)
	}
	_, _ = r.GetOrInit(ctx, "broken", func(context.Context) (int, error) {
		return 0, errors.New("never built")
	})
	require.Equal(t, 4, r.Len())

	errs := r.Close(ctx)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrCloseFailed)
	assert.ErrorIs(t, errs[0], errClose)

	sort.Ints(closed)
	assert.Equal(t, []int{1, 2, 3}, closed)
	assert.Equal(t, 0, r.Len())

	// Still usable after Close.
	v, err := r.GetOrInit(ctx, "k1", value(10))
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}

func TestClose_NilCloser(t *testing.T) {
	r := New[string, int](nil)
	_, _ = r.GetOrInit(context.Background(), "k", value(1))

	assert.Empty(t, r.Close(context.Background()))
	assert.Equal(t, 0, r.Len())
}

func TestKeys(t *testing.T) {
	r := New[string, int](nil)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		_, _ = r.GetOrInit(ctx, k, value(1))
	}

	keys := r.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestRange(t *testing.T) {
	r := New[string, int](nil)
	ctx := context.Background()
	_, _ = r.GetOrInit(ctx, "one", value(1))
	_, _ = r.GetOrInit(ctx, "two", value(2))
	_, _ = r.GetOrInit(ctx, "failed", func(context.Context) (int, error) {
		return 0, errors.New("x")
	})

	sum := 0
	seen := 0
	r.Range(func(_ string, v int) bool {
		sum += v
		seen++
		return true
	})
	assert.Equal(t, 3, sum)
	assert.Equal(t, 2, seen, "uninitialized entries are skipped")
}

func TestRangeEarlyStop(t *testing.T) {
	r := New[int, int](nil)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, _ = r.GetOrInit(ctx, i, value(i))
	}

	count := 0
	r.Range(func(int, int) bool {
		count++
		return count < 3
	})
	assert.Equal(t, 3, count)
}

func TestRangeMutationSafety(t *testing.T) {
	r := New[string, int](nil)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		_, _ = r.GetOrInit(ctx, k, value(1))
	}

	r.Range(func(k string, _ int) bool {
		r.Remove(k)
		_, _ = r.GetOrInit(ctx, "new-"+k, value(2))
		return true
	})

	assert.Equal(t, 3, r.Len())
	assert.False(t, r.Has("a"))
	assert.True(t, r.Has("new-a"))
}

func TestIntKeys(t *testing.T) {
	r := New[int, string](nil, WithName("ints"))

	v, err := r.GetOrInit(context.Background(), 42, func(context.Context) (string, error) {
		return "answer", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", v)
	assert.Equal(t, "ints/42", r.cellName(42))
}

func TestStructKeys(t *testing.T) {
	type key struct {
		tenant string
		db     string
	}
	r := New[key, int](nil)
	ctx := context.Background()

	_, _ = r.GetOrInit(ctx, key{"t1", "users"}, value(1))
	_, _ = r.GetOrInit(ctx, key{"t2", "users"}, value(2))

	v, ok := r.Get(key{"t2", "users"})
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, r.Len())
}

func TestConcurrentAccess(t *testing.T) {
	r := New[int, int](nil)
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v, err := r.GetOrInit(ctx, n, value(n*2))
			assert.NoError(t, err)
			assert.Equal(t, n*2, v)
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = r.Get(n)
			_ = r.Has(n)
			_ = r.Len()
			_ = r.Keys()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, r.Len())
}
