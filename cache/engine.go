// Package cache is the client-side cache and sync engine: a two-tier store,
// a fetch coordinator with stale-while-revalidate, an optimistic-write
// ledger and pattern invalidation, behind the Engine facade.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/durable"
	"github.com/KOMKZ/habitcache/event"
	"github.com/KOMKZ/habitcache/logger"
)

const tracerName = "github.com/KOMKZ/habitcache/cache"

type engineOptions struct {
	cfg        Config
	log        *logger.CtxZapLogger
	clock      clockwork.Clock
	dispatcher event.Dispatcher
	tracer     trace.TracerProvider
}

type Option func(*engineOptions)

func WithConfig(cfg Config) Option {
	return func(o *engineOptions) { o.cfg = cfg }
}

func WithLogger(l *logger.CtxZapLogger) Option {
	return func(o *engineOptions) { o.log = l }
}

// WithClock replaces the wall clock used for TTL math and optimistic expiry.
func WithClock(c clockwork.Clock) Option {
	return func(o *engineOptions) { o.clock = c }
}

// WithDispatcher subscribes the configured invalidation rules to d and lets
// mutations dispatch events through it.
func WithDispatcher(d event.Dispatcher) Option {
	return func(o *engineOptions) { o.dispatcher = d }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *engineOptions) { o.tracer = tp }
}

// Engine is the public face of the cache. It is safe for concurrent use.
// The durable store passed to New is not closed by Close.
type Engine struct {
	cfg        Config
	store      *Store
	coord      *coordinator
	ledger     *Ledger
	bus        *Bus
	ser        Serializer
	clock      clockwork.Clock
	log        *logger.CtxZapLogger
	dispatcher event.Dispatcher
	pool       *ants.Pool
	stats      *counters

	unsubs []event.UnsubscribeFunc
	work   sync.WaitGroup // async mutations and patch commits
	closed atomic.Bool
}

// New builds an engine over d.
func New(d durable.Store, opts ...Option) (*Engine, error) {
	o := engineOptions{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if d == nil {
		return nil, ErrStoreUnavailable.WithMsgf("no durable store")
	}
	cfg := o.cfg
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, ErrConfigInvalid.Wrap(err)
	}
	if o.log == nil {
		o.log = logger.NewNop()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider()
	}
	ser, err := SerializerByName(cfg.Serializer)
	if err != nil {
		return nil, ErrConfigInvalid.Wrap(err)
	}
	pool, err := ants.NewPool(cfg.PoolSize, ants.WithNonblocking(true), ants.WithPanicHandler(func(p any) {
		o.log.Error("cache worker panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, ErrConfigInvalid.Wrap(err)
	}

	stats := &counters{}
	store := newStore(d, &cfg, ser, o.clock, o.log, stats)
	coord := &coordinator{
		store:     store,
		ser:       ser,
		threshold: cfg.ExpiringThreshold,
		inflight:  make(map[string]*flight),
		pool:      pool,
		tracer:    o.tracer.Tracer(tracerName),
		log:       o.log,
		stats:     stats,
	}
	ledger := newLedger(store, o.clock, cfg.OptimisticTTL, o.log, stats)
	e := &Engine{
		cfg:        cfg,
		store:      store,
		coord:      coord,
		ledger:     ledger,
		bus:        &Bus{coord: coord, store: store, ledger: ledger, log: o.log, stats: stats},
		ser:        ser,
		clock:      o.clock,
		log:        o.log,
		dispatcher: o.dispatcher,
		pool:       pool,
		stats:      stats,
	}
	if e.dispatcher != nil && len(cfg.InvalidationRules) > 0 {
		e.unsubs = e.bus.Subscribe(e.dispatcher, cfg.InvalidationRules)
	}
	e.log.Debug("cache engine ready",
		zap.String("durable", d.Name()),
		zap.String("serializer", ser.Name()),
		zap.String("version", cfg.Version),
	)
	return e, nil
}

// Get returns the value for k, fetching it with fetch when the cache cannot
// answer. A nil fetch makes Get cache-only; it then fails with ErrNotCached.
func (e *Engine) Get(ctx context.Context, k Key, fetch Fetcher, opts ...PolicyOption) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	p := buildPolicy(opts)
	if p.Optimistic {
		if data, ok := e.ledger.Read(k); ok {
			e.stats.optimisticHits.Add(1)
			return data, nil
		}
	}
	return e.coord.resolve(ctx, k, fetch, e.ttl(k, p), p.ForceRefresh, p.StaleWhileRevalidate)
}

// Peek reads without fetching: the live optimistic value when asked for,
// else the fresh entry, else (with stale-while-revalidate) the stale one.
func (e *Engine) Peek(ctx context.Context, k Key, opts ...PolicyOption) ([]byte, bool) {
	p := buildPolicy(opts)
	if p.Optimistic {
		if data, ok := e.ledger.Read(k); ok {
			return data, true
		}
	}
	if data, ok := e.store.Get(ctx, k); ok {
		return data, true
	}
	if p.StaleWhileRevalidate {
		return e.store.GetStale(ctx, k)
	}
	return nil, false
}

// Lookup returns the stored entry for k with its metadata.
func (e *Engine) Lookup(ctx context.Context, k Key) (Entry, bool) {
	return e.store.Lookup(ctx, k)
}

// Set encodes v and stores it under k.
func (e *Engine) Set(ctx context.Context, k Key, v any, opts ...PolicyOption) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	data, err := e.ser.Marshal(v)
	if err != nil {
		return ErrSerialize.WithData("key", k.String()).Wrap(err)
	}
	e.store.Set(ctx, k, data, e.ttl(k, buildPolicy(opts)))
	return nil
}

// Remove drops k from every layer.
func (e *Engine) Remove(ctx context.Context, k Key) bool {
	return e.bus.InvalidateMatching(ctx, MatchExact(k)) > 0
}

// Clear drops everything the engine holds, including in-flight results.
func (e *Engine) Clear(ctx context.Context) {
	e.coord.forgetMatching(matchAll{})
	e.store.Clear(ctx)
	e.ledger.clear()
	e.log.InfoCtx(ctx, "cache cleared")
}

func (e *Engine) Invalidate(ctx context.Context, pattern string) int {
	return e.bus.Invalidate(ctx, pattern)
}

func (e *Engine) InvalidateMatching(ctx context.Context, m Matcher) int {
	return e.bus.InvalidateMatching(ctx, m)
}

// Prefetch warms k in the background unless it is already fresh. It
// reports whether a fetch was scheduled.
func (e *Engine) Prefetch(ctx context.Context, k Key, fetch Fetcher, opts ...PolicyOption) bool {
	if e.closed.Load() || fetch == nil {
		return false
	}
	p := buildPolicy(opts)
	if !p.ForceRefresh {
		if _, ok := e.store.Get(ctx, k); ok {
			return false
		}
	}
	return e.coord.refresh(ctx, k, fetch, e.ttl(k, p))
}

// Keys lists cached keys across both tiers.
func (e *Engine) Keys(ctx context.Context) []string {
	return e.store.Keys(ctx)
}

// Sweep runs CleanOldCache.
func (e *Engine) Sweep(ctx context.Context) int {
	return e.store.CleanOldCache(ctx)
}

func (e *Engine) Stats() Stats {
	s := e.stats.snapshot()
	s.MemoryEntries = e.store.Len()
	s.LedgerEntries = e.ledger.Len()
	s.InFlight = e.coord.inFlight()
	return s
}

func (e *Engine) Store() *Store          { return e.store }
func (e *Engine) Ledger() *Ledger        { return e.ledger }
func (e *Engine) Bus() *Bus              { return e.bus }
func (e *Engine) Serializer() Serializer { return e.ser }
func (e *Engine) Config() Config         { return e.cfg }
func (e *Engine) Clock() clockwork.Clock { return e.clock }

// Close stops accepting work, waits for background refreshes and pending
// commits until ctx ends, and releases the worker pool.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, unsub := range e.unsubs {
		unsub()
	}
	err := e.coord.wait(ctx)
	if err == nil {
		done := make(chan struct{})
		go func() {
			e.work.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	e.pool.Release()
	e.ledger.clear()
	e.log.DebugCtx(ctx, "cache engine closed", zap.Error(err))
	return err
}

func (e *Engine) ttl(k Key, p Policy) time.Duration {
	if p.TTL > 0 {
		return p.TTL
	}
	return e.cfg.ttlFor(k, p.Class)
}

// submit runs fn on the pool, or on its own goroutine when the pool is
// saturated. Commits must not be dropped.
func (e *Engine) submit(fn func()) {
	e.work.Add(1)
	task := func() {
		defer e.work.Done()
		fn()
	}
	if err := e.pool.Submit(task); err != nil {
		go task()
	}
}

func newMutationID() string {
	return uuid.NewString()
}

type matchAll struct{}

func (matchAll) Match(Key) bool { return true }
func (matchAll) String() string { return "all" }
