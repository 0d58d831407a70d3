// Package health aggregates component health checks into one report.
package health

import (
	"time"

	"github.com/KOMKZ/habitcache/component"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded" // an optional dependency is down
	StatusUnhealthy Status = "unhealthy"
)

// Checker is an alias of component.HealthChecker.
type Checker = component.HealthChecker

type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
}

type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Checks    map[string]CheckResult `json:"checks"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (r *Response) IsHealthy() bool  { return r.Status == StatusHealthy }
func (r *Response) IsDegraded() bool { return r.Status == StatusDegraded }
