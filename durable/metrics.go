package durable

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records durable store operations. It implements
// component.MetricsProvider; instruments are no-ops until RegisterMetrics.
type Metrics struct {
	enabled bool

	mu       sync.RWMutex
	ops      metric.Int64Counter
	duration metric.Float64Histogram
}

func NewMetrics(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

func (m *Metrics) MetricsName() string    { return "durable" }
func (m *Metrics) IsMetricsEnabled() bool { return m.enabled }

func (m *Metrics) RegisterMetrics(meter metric.Meter) error {
	ops, err := meter.Int64Counter("habitcache_durable_ops_total",
		metric.WithDescription("Durable store operations by store, op and result"))
	if err != nil {
		return err
	}
	dur, err := meter.Float64Histogram("habitcache_durable_op_duration_seconds",
		metric.WithDescription("Durable store operation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.ops, m.duration = ops, dur
	m.mu.Unlock()
	return nil
}

func (m *Metrics) record(ctx context.Context, store, op, result string, elapsed time.Duration) {
	m.mu.RLock()
	ops, dur := m.ops, m.duration
	m.mu.RUnlock()
	if ops == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("op", op),
		attribute.String("result", result),
	)
	ops.Add(ctx, 1, attrs)
	dur.Record(ctx, elapsed.Seconds(), attrs)
}

// Instrument wraps s so every call is recorded on m.
func Instrument(s Store, m *Metrics) Store {
	if m == nil || !m.enabled {
		return s
	}
	return &instrumented{Store: s, m: m}
}

type instrumented struct {
	Store
	m *Metrics
}

func (s *instrumented) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	v, ok, err := s.Store.Get(ctx, key)
	res := resultOf(err)
	if err == nil && !ok {
		res = "miss"
	}
	s.m.record(ctx, s.Name(), "get", res, time.Since(start))
	return v, ok, err
}

func (s *instrumented) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := s.Store.Set(ctx, key, value)
	s.m.record(ctx, s.Name(), "set", resultOf(err), time.Since(start))
	return err
}

func (s *instrumented) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Store.Remove(ctx, key)
	s.m.record(ctx, s.Name(), "remove", resultOf(err), time.Since(start))
	return err
}

func (s *instrumented) Keys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := s.Store.Keys(ctx)
	s.m.record(ctx, s.Name(), "keys", resultOf(err), time.Since(start))
	return keys, err
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrQuota):
		return "quota"
	default:
		return "error"
	}
}
