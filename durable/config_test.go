package durable

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Type = "floppy"
	err := cfg.Validate()
	assert.True(t, errors.Is(err, ErrConfigInvalid))

	cfg = DefaultConfig()
	cfg.Type = TypeRedis
	cfg.Redis.Addrs = nil
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Type = TypeSQL
	cfg.SQL.Driver = "oracle"
	assert.Error(t, cfg.Validate())
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, NewHealthChecker(s).Check(context.Background()))
}

func TestOpen_Redis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Type = TypeRedis
	cfg.Redis.Addrs = []string{mr.Addr()}
	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "habits_today", "v"))
	assert.True(t, mr.Exists("habitcache:habits_today"))
	assert.NoError(t, NewHealthChecker(s).Check(ctx))
	require.NoError(t, s.Close())
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Type = TypeRedis
	cfg.Redis.Addrs = []string{addr}
	_, err := Open(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Type = TypeSQL
	cfg.SQL.DSN = filepath.Join(t.TempDir(), "open.db")
	cfg.SQL.MaxRows = 1

	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", "1"))
	assert.True(t, errors.Is(s.Set(ctx, "b", "2"), ErrQuota))
	assert.NoError(t, NewHealthChecker(s).Check(ctx))
}
