package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KOMKZ/habitcache/event"
)

type habitArchived struct {
	event.BaseEvent
	id int
}

func (e habitArchived) InvalidatedKeys() []Key {
	return []Key{NewKey("habit", e.id)}
}

func TestBus_EventRules(t *testing.T) {
	d := event.NewDispatcher()
	defer d.Close()
	cfg := DefaultConfig()
	cfg.InvalidationRules = []InvalidationRule{
		{Event: "habit.completed", Patterns: []string{"habits_"}, Kinds: []string{"stats"}},
		{Event: "habit.archived", Kinds: []string{"habits"}},
	}
	env := newTestEnv(t, WithConfig(cfg), WithDispatcher(d))
	ctx := context.Background()

	for _, k := range []Key{
		NewKey("habits", "today"),
		NewKey("stats", "week"),
		NewKey("habit", 7),
		NewKey("habit", 8),
		NewKey("profile"),
	} {
		require.NoError(t, env.engine.Set(ctx, k, 1))
	}
	assert.Equal(t, 1, event.ListenerCount(d, "habit.completed"))

	require.NoError(t, d.Dispatch(ctx, event.NewEvent("habit.completed")))
	assert.Equal(t, []string{"habit_7", "habit_8", "profile"}, env.engine.Keys(ctx))

	require.NoError(t, d.Dispatch(ctx, habitArchived{BaseEvent: event.NewEvent("habit.archived"), id: 7}))
	assert.Equal(t, []string{"habit_8", "profile"}, env.engine.Keys(ctx))

	// Close unsubscribes the rules
	require.NoError(t, env.engine.Close(ctx))
	assert.Equal(t, 0, event.ListenerCount(d, "habit.completed"))
}

func TestInvalidationRule_Validate(t *testing.T) {
	assert.NoError(t, InvalidationRule{Event: "e", Kinds: []string{"habits"}}.Validate())
	assert.NoError(t, InvalidationRule{Event: "e", Patterns: []string{"habits_"}}.Validate())
	assert.Error(t, InvalidationRule{Event: "e"}.Validate())
	assert.Error(t, InvalidationRule{Patterns: []string{"x"}}.Validate())
	assert.Error(t, InvalidationRule{Event: "e", Patterns: []string{""}}.Validate())
}
