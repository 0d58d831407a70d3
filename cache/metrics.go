package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics exports engine Stats as observable OpenTelemetry instruments. It
// implements component.MetricsProvider.
type Metrics struct {
	engine  *Engine
	enabled bool

	mu  sync.Mutex
	reg metric.Registration
}

func NewMetrics(e *Engine, enabled bool) *Metrics {
	return &Metrics{engine: e, enabled: enabled}
}

func (m *Metrics) MetricsName() string    { return "cache" }
func (m *Metrics) IsMetricsEnabled() bool { return m.enabled }

func (m *Metrics) RegisterMetrics(meter metric.Meter) error {
	reads, err := meter.Int64ObservableCounter("habitcache_cache_reads_total",
		metric.WithDescription("Cache reads by result: hit, stale, optimistic, miss"))
	if err != nil {
		return err
	}
	fetches, err := meter.Int64ObservableCounter("habitcache_cache_fetches_total",
		metric.WithDescription("Network fetches by outcome"))
	if err != nil {
		return err
	}
	writes, err := meter.Int64ObservableCounter("habitcache_cache_writes_total",
		metric.WithDescription("Store writes and absorbed durable failures"))
	if err != nil {
		return err
	}
	optimistic, err := meter.Int64ObservableCounter("habitcache_cache_optimistic_total",
		metric.WithDescription("Optimistic ledger transitions"))
	if err != nil {
		return err
	}
	invalidated, err := meter.Int64ObservableCounter("habitcache_cache_invalidated_keys_total",
		metric.WithDescription("Keys removed by invalidations"))
	if err != nil {
		return err
	}
	entries, err := meter.Int64ObservableGauge("habitcache_cache_entries",
		metric.WithDescription("Entries held per layer"))
	if err != nil {
		return err
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := m.engine.Stats()
		observe := func(inst metric.Int64Observable, key string, pairs map[string]int64) {
			for v, n := range pairs {
				o.ObserveInt64(inst, n, metric.WithAttributes(attribute.String(key, v)))
			}
		}
		observe(reads, "result", map[string]int64{
			"hit":        s.Hits,
			"stale":      s.StaleHits,
			"optimistic": s.OptimisticHits,
			"miss":       s.Misses,
		})
		observe(fetches, "outcome", map[string]int64{
			"started":        s.Fetches,
			"coalesced":      s.Coalesced,
			"error":          s.FetchErrors,
			"stale_fallback": s.StaleFallbacks,
			"background":     s.BackgroundRefreshes,
			"discarded":      s.DiscardedResults,
		})
		observe(writes, "result", map[string]int64{
			"set":             s.Sets,
			"quota":           s.QuotaErrors,
			"durable_error":   s.DurableErrors,
			"durable_dropped": s.DurableDropped,
			"evicted":         s.Evictions,
			"cleaned":         s.Cleaned,
		})
		observe(optimistic, "transition", map[string]int64{
			"applied":     s.OptimisticApplied,
			"confirmed":   s.OptimisticConfirmed,
			"rolled_back": s.OptimisticRolledBack,
			"expired":     s.OptimisticExpired,
		})
		o.ObserveInt64(invalidated, s.InvalidatedKeys)
		observe(entries, "layer", map[string]int64{
			"memory":    int64(s.MemoryEntries),
			"ledger":    int64(s.LedgerEntries),
			"in_flight": int64(s.InFlight),
		})
		return nil
	}, reads, fetches, writes, optimistic, invalidated, entries)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.reg = reg
	m.mu.Unlock()
	return nil
}

// Unregister stops the callback.
func (m *Metrics) Unregister() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reg == nil {
		return nil
	}
	err := m.reg.Unregister()
	m.reg = nil
	return err
}
