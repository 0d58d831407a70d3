package durable

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore("", client, "hc-test:"), mr
}

func TestRedisStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	assert.Equal(t, "redis", s.Name())

	_, ok, err := s.Get(ctx, "habits_today")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "habits_today", "v1"))
	require.NoError(t, s.Set(ctx, "subscription_limits", "v2"))
	require.NoError(t, mr.Set("other:key", "ignored"))

	v, ok, err := s.Get(ctx, "habits_today")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)
	assert.Equal(t, "v1", mustGet(t, mr, "hc-test:habits_today"))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"habits_today", "subscription_limits"}, keys)

	require.NoError(t, s.Remove(ctx, "habits_today"))
	assert.False(t, mr.Exists("hc-test:habits_today"))
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	// not owned, client still usable
	require.NoError(t, s.Ping(ctx))
}

func TestRedisStore_OOMIsQuota(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	require.NoError(t, s.Ping(ctx))

	mr.SetError("OOM command not allowed when used memory > 'maxmemory'.")
	err := s.Set(ctx, "habits_today", "v")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuota))

	mr.SetError("ERR something else")
	err = s.Set(ctx, "habits_today", "v")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, errors.Is(err, ErrQuota))

	_, _, err = s.Get(ctx, "habits_today")
	assert.True(t, errors.Is(err, ErrUnavailable))
	mr.SetError("")
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	mr.Close()

	_, err := s.Keys(ctx)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Error(t, NewHealthChecker(s).Check(ctx))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
