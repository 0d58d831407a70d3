// Package component defines the lifecycle contracts shared by habitcache's
// long-lived parts (engine, durable store, admin server).
package component

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Component names.
const (
	ComponentConfig  = "config"
	ComponentLogger  = "logger"
	ComponentDurable = "durable"
	ComponentEvent   = "event"
	ComponentCache   = "cache"
	ComponentAdmin   = "admin"
)

// Component is a unit with an explicit lifecycle.
type Component interface {
	Name() string

	// DependsOn lists component names that must be initialised first.
	DependsOn() []string

	Init(ctx context.Context, loader ConfigLoader) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckProvider is implemented by components that expose a checker.
type HealthCheckProvider interface {
	GetHealthChecker() HealthChecker
}

// MetricsProvider registers OpenTelemetry instruments on a meter.
type MetricsProvider interface {
	MetricsName() string
	IsMetricsEnabled() bool
	RegisterMetrics(meter metric.Meter) error
}

// ConfigLoader gives components read access to their configuration section.
type ConfigLoader interface {
	Get(key string) interface{}
	Unmarshal(key string, v interface{}) error
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	IsSet(key string) bool
}
