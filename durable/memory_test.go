package durable

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("", 0)
	assert.Equal(t, "memory", s.Name())

	_, ok, err := s.Get(ctx, "habits_today")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "habits_today", `{"a":1}`))
	require.NoError(t, s.Set(ctx, "cat", `{}`))
	v, ok, err := s.Get(ctx, "habits_today")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, v)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "habits_today"}, keys)

	require.NoError(t, s.Remove(ctx, "habits_today"))
	require.NoError(t, s.Remove(ctx, "missing"))
	_, ok, _ = s.Get(ctx, "habits_today")
	assert.False(t, ok)
	assert.Equal(t, int64(len("cat")+len("{}")), s.Usage())
}

func TestMemoryStore_Quota(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("small", 10)

	require.NoError(t, s.Set(ctx, "k", "12345678")) // 9 bytes
	err := s.Set(ctx, "j", "12")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuota))

	// overwriting with a value of the same size fits
	require.NoError(t, s.Set(ctx, "k", "87654321"))

	require.NoError(t, s.Remove(ctx, "k"))
	assert.NoError(t, s.Set(ctx, "j", "12"))
}
