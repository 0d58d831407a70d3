package durable

import (
	"context"
	"fmt"
)

const healthCheckKey = "__habitcache_health__"

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker implements component.HealthChecker for a Store. Stores with a
// Ping method are pinged; others are checked with a read.
type HealthChecker struct {
	store Store
}

func NewHealthChecker(s Store) *HealthChecker {
	return &HealthChecker{store: s}
}

func (h *HealthChecker) Name() string { return "durable" }

func (h *HealthChecker) Check(ctx context.Context) error {
	if h.store == nil {
		return fmt.Errorf("durable store not initialized")
	}
	s := h.store
	if in, ok := s.(*instrumented); ok {
		s = in.Store
	}
	if p, ok := s.(pinger); ok {
		return p.Ping(ctx)
	}
	_, _, err := s.Get(ctx, healthCheckKey)
	return err
}
