package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/KOMKZ/habitcache/logger"
)

// Fetcher loads the authoritative value for a key. The result must be
// encodable by the engine's Serializer.
type Fetcher func(ctx context.Context) (any, error)

// flight is the in-progress fetch of one key.
type flight struct {
	key Key
	// invalidated is set when the key is invalidated mid-fetch; the result
	// is then handed to waiters but not written to the store.
	invalidated atomic.Bool
}

// coordinator decides between cache and network and makes sure there is at
// most one network fetch per key at a time.
type coordinator struct {
	store     *Store
	ser       Serializer
	threshold float64

	sf       singleflight.Group
	mu       sync.Mutex
	inflight map[string]*flight

	pool   *ants.Pool
	bg     sync.WaitGroup
	tracer trace.Tracer
	log    *logger.CtxZapLogger
	stats  *counters
}

// resolve returns the value for k following the read policy:
//  1. fresh hit: return it, refreshing in the background when expiring soon;
//  2. stale hit with swr: return it and refresh in the background;
//  3. otherwise join or start the fetch for k; on failure fall back to
//     stale data if any.
func (c *coordinator) resolve(ctx context.Context, k Key, fetch Fetcher, ttl time.Duration, force, swr bool) ([]byte, error) {
	if !force {
		if data, ok := c.store.Get(ctx, k); ok {
			c.stats.hits.Add(1)
			if swr && fetch != nil && c.store.IsExpiringSoon(ctx, k, c.threshold) {
				c.refresh(ctx, k, fetch, ttl)
			}
			return data, nil
		}
		if swr {
			if data, ok := c.store.GetStale(ctx, k); ok {
				c.stats.staleHits.Add(1)
				if fetch != nil {
					c.refresh(ctx, k, fetch, ttl)
				}
				return data, nil
			}
		}
	}

	c.stats.misses.Add(1)
	if fetch == nil {
		if data, ok := c.store.GetStale(ctx, k); ok && swr {
			return data, nil
		}
		return nil, ErrNotCached.WithData("key", k.String())
	}
	return c.fetch(ctx, k, fetch, ttl)
}

// fetch joins the in-flight fetch for k or starts one. A waiter whose ctx
// ends stops waiting; the shared fetch keeps running for the others.
func (c *coordinator) fetch(ctx context.Context, k Key, fetch Fetcher, ttl time.Duration) ([]byte, error) {
	key := k.String()
	detached := context.WithoutCancel(ctx)
	leader := false
	ch := c.sf.DoChan(key, func() (any, error) {
		leader = true
		return c.run(detached, k, fetch, ttl)
	})

	select {
	case res := <-ch:
		if !leader {
			c.stats.coalesced.Add(1)
		}
		if res.Err != nil {
			if data, ok := c.store.GetStale(ctx, k); ok {
				c.stats.staleFallbacks.Add(1)
				c.log.WarnCtx(ctx, "fetch failed, serving stale entry", zap.String("key", key), zap.Error(res.Err))
				return data, nil
			}
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run performs one network fetch. It is only called through c.sf.
func (c *coordinator) run(ctx context.Context, k Key, fetch Fetcher, ttl time.Duration) (any, error) {
	key := k.String()
	fl := &flight{key: k}
	c.mu.Lock()
	c.inflight[key] = fl
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.inflight[key] == fl {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
	}()

	ctx, span := c.tracer.Start(ctx, "habitcache.fetch", trace.WithAttributes(
		attribute.String("habitcache.key", key),
		attribute.String("habitcache.kind", k.Kind),
	))
	defer span.End()

	c.stats.fetches.Add(1)
	v, err := fetch(ctx)
	if err != nil {
		c.stats.fetchErrors.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.DebugCtx(ctx, "fetch failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	data, err := c.ser.Marshal(v)
	if err != nil {
		c.stats.fetchErrors.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialize")
		return nil, ErrSerialize.WithData("key", key).Wrap(err)
	}

	// forgetMatching marks the flight before the bus touches the store, so
	// checking the mark under the store lock is enough: either the entry
	// lands before the removal or nothing is written.
	if !c.store.setUnless(ctx, k, data, ttl, fl.invalidated.Load) {
		c.stats.discarded.Add(1)
		c.log.DebugCtx(ctx, "discarding result of invalidated fetch", zap.String("key", key))
	}
	return data, nil
}

// refresh starts a detached fetch for k unless one is already running.
// It never blocks: a saturated pool drops the refresh.
func (c *coordinator) refresh(ctx context.Context, k Key, fetch Fetcher, ttl time.Duration) bool {
	key := k.String()
	if c.pending(key) {
		return false
	}
	detached := context.WithoutCancel(ctx)
	c.bg.Add(1)
	err := c.pool.Submit(func() {
		defer c.bg.Done()
		res := <-c.sf.DoChan(key, func() (any, error) {
			return c.run(detached, k, fetch, ttl)
		})
		if res.Err != nil {
			c.log.WarnCtx(detached, "background refresh failed", zap.String("key", key), zap.Error(res.Err))
		}
	})
	if err != nil {
		c.bg.Done()
		c.log.DebugCtx(ctx, "background refresh skipped", zap.String("key", key), zap.Error(err))
		return false
	}
	c.stats.bgRefreshes.Add(1)
	return true
}

func (c *coordinator) pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

func (c *coordinator) inFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// forgetMatching detaches in-flight fetches of matched keys: their results
// are not stored and the next read starts a new fetch.
func (c *coordinator) forgetMatching(m Matcher) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, fl := range c.inflight {
		if m.Match(fl.key) {
			fl.invalidated.Store(true)
			c.sf.Forget(key)
			delete(c.inflight, key)
			n++
		}
	}
	return n
}

// wait blocks until background refreshes finish or ctx ends.
func (c *coordinator) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
