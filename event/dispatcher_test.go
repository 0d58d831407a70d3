package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type habitCompleted struct {
	BaseEvent
	HabitID int
}

func newHabitCompleted(id int) habitCompleted {
	return habitCompleted{BaseEvent: NewEvent("habit.completed"), HabitID: id}
}

func TestDispatcher_SyncOrderByPriority(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	var order []string
	d.Subscribe("habit.completed", ListenerFunc(func(ctx context.Context, e Event) error {
		order = append(order, "late")
		return nil
	}), WithPriority(10))
	d.Subscribe("habit.completed", ListenerFunc(func(ctx context.Context, e Event) error {
		order = append(order, "early:"+e.Name())
		assert.Equal(t, 7, e.(habitCompleted).HabitID)
		return nil
	}), WithPriority(-1))

	require.NoError(t, d.Dispatch(context.Background(), newHabitCompleted(7)))
	assert.Equal(t, []string{"early:habit.completed", "late"}, order)
}

func TestDispatcher_ErrorStopsChain(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	boom := errors.New("boom")
	called := false
	d.Subscribe("x", ListenerFunc(func(context.Context, Event) error { return boom }))
	d.Subscribe("x", ListenerFunc(func(context.Context, Event) error { called = true; return nil }), WithPriority(1))

	err := d.Dispatch(context.Background(), NewEvent("x"))
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestDispatcher_StopPropagationIsNotAnError(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	called := false
	d.Subscribe("x", ListenerFunc(func(context.Context, Event) error { return ErrStopPropagation }))
	d.Subscribe("x", ListenerFunc(func(context.Context, Event) error { called = true; return nil }), WithPriority(1))

	assert.NoError(t, d.Dispatch(context.Background(), NewEvent("x")))
	assert.False(t, called)
}

func TestDispatcher_OnceAndUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	var n atomic.Int32
	d.Subscribe("x", ListenerFunc(func(context.Context, Event) error { n.Add(1); return nil }), WithOnce())
	unsub := d.Subscribe("x", ListenerFunc(func(context.Context, Event) error { n.Add(10); return nil }))
	assert.Equal(t, 2, ListenerCount(d, "x"))

	require.NoError(t, d.Dispatch(context.Background(), NewEvent("x")))
	assert.Equal(t, 1, ListenerCount(d, "x"))
	unsub()
	assert.Equal(t, 0, ListenerCount(d, "x"))

	require.NoError(t, d.Dispatch(context.Background(), NewEvent("x")))
	assert.Equal(t, int32(11), n.Load())
}

func TestDispatcher_Async(t *testing.T) {
	d := NewDispatcher(WithPoolSize(4))
	defer d.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	d.Subscribe("x", ListenerFunc(func(context.Context, Event) error { wg.Done(); return nil }), WithAsync())
	d.Subscribe("y", ListenerFunc(func(context.Context, Event) error { wg.Done(); return nil }))

	require.NoError(t, d.Dispatch(context.Background(), NewEvent("x")))
	require.NoError(t, d.Dispatch(context.Background(), NewEvent("y"), WithDispatchAsync()))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async listeners did not run")
	}
}

func TestDispatcher_SetAllSync(t *testing.T) {
	d := NewDispatcher(WithConfig(Config{PoolSize: 2, SetAllSync: true}))
	defer d.Close()

	ran := false
	d.Subscribe("x", ListenerFunc(func(context.Context, Event) error { ran = true; return nil }), WithAsync())
	require.NoError(t, d.Dispatch(context.Background(), NewEvent("x"), WithDispatchAsync()))
	assert.True(t, ran)
}

func TestDispatcher_Closed(t *testing.T) {
	d := NewDispatcher()
	d.Close()
	d.Close()
	assert.ErrorIs(t, d.Dispatch(context.Background(), NewEvent("x")), ErrDispatcherClosed)
}

func TestMetrics_Interceptor(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewMetrics(true)
	require.NoError(t, m.RegisterMetrics(mp.Meter("test")))

	d := NewDispatcher()
	defer d.Close()
	d.Use(m.Interceptor())
	d.Subscribe("bad", ListenerFunc(func(context.Context, Event) error { return errors.New("nope") }))

	require.NoError(t, d.Dispatch(ctx, NewEvent("good")))
	require.Error(t, d.Dispatch(ctx, NewEvent("bad")))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	results := map[string]string{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "habitcache_events_dispatched_total" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				name, _ := dp.Attributes.Value("event")
				res, _ := dp.Attributes.Value("result")
				results[name.AsString()] = res.AsString()
			}
		}
	}
	assert.Equal(t, map[string]string{"good": "ok", "bad": "error"}, results)
}
