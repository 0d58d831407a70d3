package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/KOMKZ/habitcache/durable"
	"github.com/KOMKZ/habitcache/logger"
)

type habit struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

type todayStats struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

func recomputeToday(items []habit) todayStats {
	s := todayStats{Total: len(items)}
	for _, h := range items {
		if h.Status == "done" {
			s.Completed++
		}
	}
	return s
}

type testEnv struct {
	engine  *Engine
	clock   *clockwork.FakeClock
	durable *durable.MemoryStore
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClock()
	d := durable.NewMemoryStore("test", 0)
	all := append([]Option{WithClock(clock), WithLogger(logger.NewNop())}, opts...)
	e, err := New(d, all...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return &testEnv{engine: e, clock: clock, durable: d}
}

// fetchValue returns a fetcher counting its calls.
func fetchValue(v any, calls *atomic.Int32) Fetcher {
	return func(ctx context.Context) (any, error) {
		calls.Add(1)
		return v, nil
	}
}
