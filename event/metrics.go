package event

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts dispatches and their latency. Install it with
// d.Use(m.Interceptor()); it implements component.MetricsProvider.
type Metrics struct {
	enabled bool

	mu         sync.RWMutex
	dispatched metric.Int64Counter
	duration   metric.Float64Histogram
}

func NewMetrics(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

func (m *Metrics) MetricsName() string    { return "event" }
func (m *Metrics) IsMetricsEnabled() bool { return m.enabled }

func (m *Metrics) RegisterMetrics(meter metric.Meter) error {
	dispatched, err := meter.Int64Counter("habitcache_events_dispatched_total",
		metric.WithDescription("Events dispatched by name and result"))
	if err != nil {
		return err
	}
	duration, err := meter.Float64Histogram("habitcache_event_dispatch_duration_seconds",
		metric.WithDescription("Synchronous dispatch latency"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.dispatched, m.duration = dispatched, duration
	m.mu.Unlock()
	return nil
}

// Interceptor records every dispatch passing through it.
func (m *Metrics) Interceptor() Interceptor {
	return func(ctx context.Context, e Event, next Next) error {
		start := time.Now()
		err := next(ctx, e)

		m.mu.RLock()
		dispatched, duration := m.dispatched, m.duration
		m.mu.RUnlock()
		if dispatched == nil {
			return err
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		attrs := metric.WithAttributes(attribute.String("event", e.Name()), attribute.String("result", result))
		dispatched.Add(ctx, 1, attrs)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		return err
	}
}
