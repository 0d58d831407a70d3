package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KOMKZ/habitcache/durable"
	"github.com/KOMKZ/habitcache/errcode"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))

	cfg := DefaultConfig()
	cfg.Serializer = "xml"
	_, err = New(durable.NewMemoryStore("", 0), WithConfig(cfg))
	assert.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestEngine_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	habits := NewTyped[[]habit](env.engine)
	want := []habit{{ID: 1, Status: "pending"}, {ID: 2, Status: "done"}}

	require.NoError(t, habits.Set(ctx, NewKey("habits", "today"), want))
	got, err := habits.Get(ctx, NewKey("habits", "today"), nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	exp, ok := habits.Expiry(ctx, NewKey("habits", "today"))
	require.True(t, ok)
	assert.Equal(t, env.clock.Now().Add(5*time.Minute), exp, "default class is medium")
}

func TestEngine_TTLResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kinds = map[string]TTLClass{"subscription": ClassStatic}
	env := newTestEnv(t, WithConfig(cfg))
	ctx := context.Background()

	require.NoError(t, env.engine.Set(ctx, NewKey("subscription", "limits"), 1))
	require.NoError(t, env.engine.Set(ctx, NewKey("habits", "today"), 1, WithTTLClass(ClassFast)))
	require.NoError(t, env.engine.Set(ctx, NewKey("cat"), 1, WithTTL(time.Second)))

	ttl := func(k Key) time.Duration {
		e, ok := env.engine.Lookup(ctx, k)
		require.True(t, ok)
		return e.TTL
	}
	assert.Equal(t, time.Hour, ttl(NewKey("subscription", "limits")))
	assert.Equal(t, time.Minute, ttl(NewKey("habits", "today")))
	assert.Equal(t, time.Second, ttl(NewKey("cat")))
}

// set("cat", {id:1}, 1000ms); read at 500ms and 1500ms without revalidation.
func TestEngine_CatScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("cat")
	require.NoError(t, env.engine.Set(ctx, k, map[string]int{"id": 1}, WithTTL(time.Second)))

	env.clock.Advance(500 * time.Millisecond)
	data, err := env.engine.Get(ctx, k, nil, WithStaleWhileRevalidate(false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(data))

	env.clock.Advance(time.Second)
	_, err = env.engine.Get(ctx, k, nil, WithStaleWhileRevalidate(false))
	assert.True(t, errors.Is(err, ErrNotCached))
	_, ok := env.engine.Peek(ctx, k, WithStaleWhileRevalidate(false))
	assert.False(t, ok)
}

func TestEngine_FetchOnMissStoresResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var calls atomic.Int32
	k := NewKey("habits", "today")

	data, err := env.engine.Get(ctx, k, fetchValue([]int{1, 2}, &calls))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(data))

	data, err = env.engine.Get(ctx, k, fetchValue([]int{3}, &calls))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(data), "fresh entry is served without fetching")
	assert.Equal(t, int32(1), calls.Load())

	s := env.engine.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Fetches)
	assert.Equal(t, 1, s.MemoryEntries)
}

func TestEngine_CoalescesConcurrentFetches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("habits", "today")

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return []habit{{ID: 7, Status: "pending"}}, nil
	}

	const callers = 5
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := env.engine.Get(ctx, k, fetch)
			assert.NoError(t, err)
			results[i] = string(data)
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.JSONEq(t, `[{"id":7,"status":"pending"}]`, r)
	}
	assert.Equal(t, int64(callers-1), env.engine.Stats().Coalesced)
}

func TestEngine_StaleFallbackOnFetchError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("habits", "today")
	require.NoError(t, env.engine.Set(ctx, k, []int{1}, WithTTL(time.Second)))
	env.clock.Advance(2 * time.Second)

	offline := errors.New("offline")
	fail := func(ctx context.Context) (any, error) { return nil, offline }

	data, err := env.engine.Get(ctx, k, fail, WithStaleWhileRevalidate(false))
	require.NoError(t, err, "stale data swallows the fetch error")
	assert.Equal(t, `[1]`, string(data))
	assert.Equal(t, int64(1), env.engine.Stats().StaleFallbacks)

	_, err = env.engine.Get(ctx, NewKey("habits", "all"), fail)
	assert.Same(t, offline, err, "without fallback the fetcher's error is returned unchanged")
}

func TestEngine_StaleWhileRevalidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("habits", "today")
	require.NoError(t, env.engine.Set(ctx, k, "old", WithTTL(time.Second)))
	env.clock.Advance(2 * time.Second)

	var calls atomic.Int32
	data, err := env.engine.Get(ctx, k, fetchValue("new", &calls), WithTTL(time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"old"`, string(data), "stale value is returned immediately")

	require.Eventually(t, func() bool {
		data, ok := env.engine.Store().Get(ctx, k)
		return ok && string(data) == `"new"`
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	s := env.engine.Stats()
	assert.Equal(t, int64(1), s.StaleHits)
	assert.Equal(t, int64(1), s.BackgroundRefreshes)
}

func TestEngine_ExpiringSoonRefreshesInBackground(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("stats", "week")
	require.NoError(t, env.engine.Set(ctx, k, 1, WithTTL(10*time.Second)))

	var calls atomic.Int32
	_, err := env.engine.Get(ctx, k, fetchValue(2, &calls))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "young entry does not refresh")

	env.clock.Advance(9 * time.Second)
	data, err := env.engine.Get(ctx, k, fetchValue(2, &calls))
	require.NoError(t, err)
	assert.Equal(t, `1`, string(data))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEngine_ForceRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("profile")
	require.NoError(t, env.engine.Set(ctx, k, "cached"))

	var calls atomic.Int32
	data, err := env.engine.Get(ctx, k, fetchValue("remote", &calls), WithForceRefresh())
	require.NoError(t, err)
	assert.Equal(t, `"remote"`, string(data))
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_WaiterCancellationDoesNotCancelFetch(t *testing.T) {
	env := newTestEnv(t)
	k := NewKey("habits", "today")
	release := make(chan struct{})
	var fetchErr atomic.Value
	fetch := func(ctx context.Context) (any, error) {
		<-release
		if err := ctx.Err(); err != nil {
			fetchErr.Store(err)
		}
		return "done", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := env.engine.Get(ctx, k, fetch)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return env.engine.Stats().InFlight == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.True(t, errors.Is(<-errCh, context.Canceled))

	close(release)
	require.Eventually(t, func() bool {
		_, ok := env.engine.Store().Get(context.Background(), k)
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, fetchErr.Load(), "shared fetch must not see the waiter's cancellation")
}

func TestEngine_InvalidationDuringFetchIsNotWrittenBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("habits", "today")
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		<-release
		return "before-invalidation", nil
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := env.engine.Get(ctx, k, fetch)
		done <- result{data, err}
	}()
	require.Eventually(t, func() bool { return env.engine.Stats().InFlight == 1 }, time.Second, 5*time.Millisecond)

	env.engine.Invalidate(ctx, "habits_")
	assert.Equal(t, 0, env.engine.Stats().InFlight)
	close(release)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, `"before-invalidation"`, string(r.data), "waiters still get the result")
	_, ok := env.engine.Store().GetStale(ctx, k)
	assert.False(t, ok, "invalidated fetch must not resurrect the key")
	assert.Equal(t, int64(1), env.engine.Stats().DiscardedResults)
}

// slowDurable blocks writes of keys ending in "slow" until release closes.
type slowDurable struct {
	*durable.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *slowDurable) Set(ctx context.Context, key, value string) error {
	if strings.HasSuffix(key, "slow") {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestEngine_DurableWriteDoesNotBlockFlightBookkeeping(t *testing.T) {
	d := &slowDurable{
		MemoryStore: durable.NewMemoryStore("slow", 0),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	e, err := New(d)
	require.NoError(t, err)
	defer e.Close(context.Background())
	ctx := context.Background()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		_, err := e.Get(ctx, NewKey("slow"), fetchValue(1, &calls))
		done <- err
	}()
	select {
	case <-d.entered:
	case <-time.After(time.Second):
		t.Fatal("durable write did not start")
	}

	bookkeeping := make(chan int, 1)
	go func() {
		e.coord.forgetMatching(MatchKind("other"))
		bookkeeping <- e.coord.inFlight()
	}()
	select {
	case n := <-bookkeeping:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("flight bookkeeping waited on the durable write")
	}

	close(d.release)
	require.NoError(t, <-done)
	data, ok := e.Peek(ctx, NewKey("slow"))
	require.True(t, ok)
	assert.Equal(t, `1`, string(data))
}

func TestEngine_OptimisticShadow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("habit", 7)
	require.NoError(t, env.engine.Set(ctx, k, habit{ID: 7, Status: "pending"}))
	env.engine.Ledger().Apply(k, []byte(`{"id":7,"status":"done"}`), 0)

	data, err := env.engine.Get(ctx, k, nil, WithOptimistic())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"status":"done"}`, string(data))

	data, err = env.engine.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"status":"pending"}`, string(data))

	typed := NewTyped[habit](env.engine)
	h, ok := typed.Peek(ctx, k, WithOptimistic())
	require.True(t, ok)
	assert.Equal(t, "done", h.Status)
	assert.Equal(t, int64(1), env.engine.Stats().OptimisticHits)
}

func TestEngine_OptimisticShadowsBackgroundRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("habit", 7)
	require.NoError(t, env.engine.Set(ctx, k, "pending", WithTTL(time.Second)))
	env.engine.Ledger().Apply(k, []byte(`"optimistic"`), time.Minute)
	env.clock.Advance(2 * time.Second)

	// stale read kicks off a refresh that lands while the optimistic value is live
	var calls atomic.Int32
	data, err := env.engine.Get(ctx, k, fetchValue("server", &calls), WithTTL(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"pending"`, string(data))
	require.Eventually(t, func() bool {
		data, ok := env.engine.Store().Get(ctx, k)
		return ok && string(data) == `"server"`
	}, time.Second, 5*time.Millisecond)

	data, err = env.engine.Get(ctx, k, fetchValue("server", &calls), WithOptimistic())
	require.NoError(t, err)
	assert.Equal(t, `"optimistic"`, string(data))
	assert.Equal(t, StateApplied, env.engine.Ledger().State(k))
	assert.Equal(t, int32(1), calls.Load())

	data, err = env.engine.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.Equal(t, `"server"`, string(data))
}

func TestEngine_InvalidationScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, k := range []Key{
		NewKey("habits", "today"),
		NewKey("habits", "date", "2024-01-01"),
		NewKey("habits", "all"),
		NewKey("subscription", "limits"),
	} {
		require.NoError(t, env.engine.Set(ctx, k, 1))
	}
	env.engine.Ledger().Apply(NewKey("habits", "today"), []byte(`2`), 0)

	n := env.engine.Invalidate(ctx, "habits_")
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"subscription_limits"}, env.engine.Keys(ctx))
	assert.Equal(t, 0, env.engine.Ledger().Len())

	assert.Equal(t, 0, env.engine.Invalidate(ctx, "habits_"), "idempotent")
	assert.Equal(t, 0, env.engine.Invalidate(ctx, ""), "empty pattern matches nothing")
	assert.Equal(t, []string{"subscription_limits"}, env.engine.Keys(ctx))
}

func TestEngine_StructuralInvalidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.Set(ctx, NewKey("habit", "stats", 7), 1))
	require.NoError(t, env.engine.Set(ctx, NewKey("habit", "stats", 8), 1))
	require.NoError(t, env.engine.Set(ctx, NewKey("habits", "today"), 1))

	assert.Equal(t, 1, env.engine.InvalidateMatching(ctx, MatchKind("habit", "stats", 7)))
	assert.Equal(t, []string{"habit_stats_8", "habits_today"}, env.engine.Keys(ctx))

	assert.Equal(t, 1, env.engine.InvalidateMatching(ctx, MatchKind("habit")))
	assert.Equal(t, []string{"habits_today"}, env.engine.Keys(ctx))
}

func TestEngine_RemoveAndClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.Set(ctx, NewKey("a"), 1))
	require.NoError(t, env.engine.Set(ctx, NewKey("b"), 1))

	assert.True(t, env.engine.Remove(ctx, NewKey("a")))
	assert.False(t, env.engine.Remove(ctx, NewKey("a")))

	env.engine.Ledger().Apply(NewKey("c"), []byte(`1`), 0)
	env.engine.Clear(ctx)
	assert.Empty(t, env.engine.Keys(ctx))
	assert.Equal(t, 0, env.engine.Ledger().Len())
	keys, _ := env.durable.Keys(ctx)
	assert.Empty(t, keys)
}

func TestEngine_Prefetch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("habits", "all")
	var calls atomic.Int32

	assert.True(t, env.engine.Prefetch(ctx, k, fetchValue([]int{1}, &calls)))
	require.Eventually(t, func() bool {
		_, ok := env.engine.Peek(ctx, k)
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, env.engine.Prefetch(ctx, k, fetchValue([]int{1}, &calls)), "fresh key is not refetched")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_Closed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.Close(ctx))
	require.NoError(t, env.engine.Close(ctx))

	_, err := env.engine.Get(ctx, NewKey("a"), nil)
	assert.True(t, errors.Is(err, ErrEngineClosed))
	assert.True(t, errors.Is(env.engine.Set(ctx, NewKey("a"), 1), ErrEngineClosed))

	le, ok := errcode.As(ErrEngineClosed)
	require.True(t, ok)
	assert.Equal(t, 700006, le.Code())
}

func TestEngine_Sweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.Set(ctx, NewKey("a"), 1, WithTTL(time.Second)))
	require.NoError(t, env.engine.Set(ctx, NewKey("b"), 1, WithTTL(time.Hour)))
	env.clock.Advance(time.Minute)

	assert.Equal(t, 1, env.engine.Sweep(ctx))
	assert.Equal(t, []string{"b"}, env.engine.Keys(ctx))
}
