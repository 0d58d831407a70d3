package event

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/logger"
)

type UnsubscribeFunc func()

// Dispatcher delivers events to subscribed listeners.
type Dispatcher interface {
	Subscribe(name string, l Listener, opts ...SubscribeOption) UnsubscribeFunc
	Dispatch(ctx context.Context, e Event, opts ...DispatchOption) error
	Use(i Interceptor)
	Close()
}

type dispatcher struct {
	mu           sync.RWMutex
	listeners    map[string][]listenerEntry
	interceptors []Interceptor
	nextID       atomic.Uint64
	closed       atomic.Bool

	pool     *ants.Pool
	poolSize int
	allSync  bool
	logger   *logger.CtxZapLogger
}

// NewDispatcher returns a dispatcher backed by an ants pool for async work.
func NewDispatcher(opts ...DispatcherOption) Dispatcher {
	d := &dispatcher{
		listeners: make(map[string][]listenerEntry),
		poolSize:  100,
		logger:    logger.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	pool, err := ants.NewPool(d.poolSize)
	if err != nil {
		d.logger.Warn("event pool size rejected, using default", zap.Int("pool_size", d.poolSize), zap.Error(err))
		pool, _ = ants.NewPool(100)
	}
	d.pool = pool
	return d
}

func (d *dispatcher) Subscribe(name string, l Listener, opts ...SubscribeOption) UnsubscribeFunc {
	if name == "" || l == nil {
		return func() {}
	}
	entry := listenerEntry{id: d.nextID.Add(1), listener: l}
	for _, opt := range opts {
		opt(&entry)
	}
	if d.allSync {
		entry.async = false
	}

	d.mu.Lock()
	list := append(d.listeners[name], entry)
	sort.SliceStable(list, func(i, j int) bool { return list[i].priority < list[j].priority })
	d.listeners[name] = list
	d.mu.Unlock()

	return func() { d.remove(name, entry.id) }
}

func (d *dispatcher) Use(i Interceptor) {
	d.mu.Lock()
	d.interceptors = append(d.interceptors, i)
	d.mu.Unlock()
}

func (d *dispatcher) Dispatch(ctx context.Context, e Event, opts ...DispatchOption) error {
	if e == nil {
		return nil
	}
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	var o dispatchOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.async && !d.allSync {
		actx := context.WithoutCancel(ctx)
		err := d.pool.Submit(func() {
			if err := d.dispatch(actx, e); err != nil {
				d.logger.ErrorCtx(actx, "async event dispatch failed", zap.String("event", e.Name()), zap.Error(err))
			}
		})
		if err != nil {
			d.logger.WarnCtx(ctx, "event pool rejected dispatch", zap.String("event", e.Name()), zap.Error(err))
			return err
		}
		return nil
	}
	return d.dispatch(ctx, e)
}

func (d *dispatcher) dispatch(ctx context.Context, e Event) error {
	d.mu.RLock()
	entries := append([]listenerEntry(nil), d.listeners[e.Name()]...)
	interceptors := append([]Interceptor(nil), d.interceptors...)
	d.mu.RUnlock()

	handler := Next(func(ctx context.Context, e Event) error {
		return d.run(ctx, e, entries)
	})
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic, next := interceptors[i], handler
		handler = func(ctx context.Context, e Event) error { return ic(ctx, e, next) }
	}

	err := handler(ctx, e)
	for _, entry := range entries {
		if entry.once {
			d.remove(e.Name(), entry.id)
		}
	}
	if errors.Is(err, ErrStopPropagation) {
		return nil
	}
	return err
}

func (d *dispatcher) run(ctx context.Context, e Event, entries []listenerEntry) error {
	for _, entry := range entries {
		if !entry.async {
			if err := entry.listener.Handle(ctx, e); err != nil {
				return err
			}
			continue
		}
		l := entry.listener
		actx := context.WithoutCancel(ctx)
		if err := d.pool.Submit(func() {
			if err := l.Handle(actx, e); err != nil && !errors.Is(err, ErrStopPropagation) {
				d.logger.ErrorCtx(actx, "async listener failed", zap.String("event", e.Name()), zap.Error(err))
			}
		}); err != nil {
			d.logger.WarnCtx(ctx, "event pool rejected listener", zap.String("event", e.Name()), zap.Error(err))
		}
	}
	return nil
}

func (d *dispatcher) remove(name string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.listeners[name]
	for i, e := range list {
		if e.id == id {
			d.listeners[name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Close stops accepting dispatches and releases the pool.
func (d *dispatcher) Close() {
	if d.closed.CompareAndSwap(false, true) {
		d.pool.Release()
	}
}

// Shutdown closes the dispatcher when it is owned by a DI container.
func (d *dispatcher) Shutdown() { d.Close() }

// ListenerCount reports subscribers of name.
func ListenerCount(d Dispatcher, name string) int {
	impl, ok := d.(*dispatcher)
	if !ok {
		return -1
	}
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	return len(impl.listeners[name])
}
