package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedToday(t *testing.T, e *Engine) Key {
	t.Helper()
	k := NewKey("habits", "today")
	require.NoError(t, e.Set(context.Background(), k, Collection[habit, todayStats]{
		Items:   []habit{{ID: 7, Status: "pending"}},
		Derived: todayStats{Completed: 0, Total: 1},
	}, WithTTLClass(ClassFast)))
	return k
}

func markDone(h habit) habit {
	h.Status = "done"
	return h
}

func isHabit(id int) func(habit) bool {
	return func(h habit) bool { return h.ID == id }
}

func TestPatchCollectionEntry_AppliesBeforeCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := seedToday(t, env.engine)

	release := make(chan struct{})
	p, err := PatchCollectionEntry(ctx, env.engine, k, isHabit(7), markDone, recomputeToday,
		func(ctx context.Context) error {
			<-release
			return nil
		})
	require.NoError(t, err)
	require.True(t, p.Applied)
	assert.Equal(t, 1, p.Matched)
	assert.Equal(t, []habit{{ID: 7, Status: "done"}}, p.Collection.Items)
	assert.Equal(t, todayStats{Completed: 1, Total: 1}, p.Collection.Derived)

	// visible to readers before the network confirms
	data, ok := env.engine.Peek(ctx, k)
	require.True(t, ok)
	assert.JSONEq(t, `{"items":[{"id":7,"status":"done"}],"derived":{"completed":1,"total":1}}`, string(data))
	assert.Equal(t, StateApplied, env.engine.Ledger().State(k))
	assert.Nil(t, p.Err())

	close(release)
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, p.Wait(waitCtx))
	assert.Equal(t, StateAbsent, env.engine.Ledger().State(k))

	entry, ok := env.engine.Lookup(ctx, k)
	require.True(t, ok)
	assert.Equal(t, time.Minute, entry.TTL, "patched entry keeps its ttl")
	assert.JSONEq(t, string(data), string(entry.Data))
}

func TestPatchCollectionEntry_CommitFailureInvalidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := seedToday(t, env.engine)
	rejected := errors.New("server said no")

	p, err := PatchCollectionEntry(ctx, env.engine, k, isHabit(7), markDone, recomputeToday,
		func(ctx context.Context) error { return rejected })
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("patch did not settle")
	}
	assert.True(t, errors.Is(p.Err(), ErrMutation))
	assert.True(t, errors.Is(p.Err(), rejected))
	assert.Equal(t, 0, env.engine.Ledger().Len())
	_, ok := env.engine.Peek(ctx, k)
	assert.False(t, ok, "key is invalidated to force a clean refetch")
}

func TestPatchCollectionEntry_AbsentIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	called := false

	p, err := PatchCollectionEntry(ctx, env.engine, NewKey("habits", "today"), isHabit(7), markDone, recomputeToday,
		func(ctx context.Context) error {
			called = true
			return nil
		})
	require.NoError(t, err)
	assert.False(t, p.Applied)
	require.NoError(t, p.Wait(ctx))
	assert.False(t, called)
	assert.Empty(t, env.engine.Keys(ctx))
}

func TestPatchCollectionEntry_StaleAndChained(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k := NewKey("habits", "today")
	require.NoError(t, env.engine.Set(ctx, k, Collection[habit, todayStats]{
		Items:   []habit{{ID: 1, Status: "pending"}, {ID: 2, Status: "pending"}},
		Derived: todayStats{Total: 2},
	}, WithTTL(time.Second)))
	env.clock.Advance(2 * time.Second)

	first, err := PatchCollectionEntry(ctx, env.engine, k, isHabit(1), markDone, recomputeToday, nil)
	require.NoError(t, err)
	require.True(t, first.Applied, "stale entries can be patched")
	require.NoError(t, first.Wait(ctx))

	second, err := PatchCollectionEntry(ctx, env.engine, k, isHabit(2), markDone, recomputeToday, nil)
	require.NoError(t, err)
	assert.Equal(t, todayStats{Completed: 2, Total: 2}, second.Collection.Derived)
}

func TestPatchCollectionEntry_Undecodable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.Set(ctx, NewKey("habits", "today"), "not a collection"))

	_, err := PatchCollectionEntry(ctx, env.engine, NewKey("habits", "today"), isHabit(7), markDone, recomputeToday, nil)
	assert.True(t, errors.Is(err, ErrDeserialize))
}
