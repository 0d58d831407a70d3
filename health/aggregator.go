package health

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type registered struct {
	checker  Checker
	optional bool
}

// Aggregator runs every registered check concurrently under one timeout.
type Aggregator struct {
	mu       sync.RWMutex
	checkers []registered
	metadata map[string]interface{}
	timeout  time.Duration
	clock    clockwork.Clock
}

// NewAggregator uses a 5s timeout when timeout <= 0.
func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{
		metadata: make(map[string]interface{}),
		timeout:  timeout,
		clock:    clockwork.NewRealClock(),
	}
}

// Register adds a check whose failure makes the whole report unhealthy.
func (a *Aggregator) Register(checker Checker) {
	a.add(checker, false)
}

// RegisterOptional adds a check whose failure only degrades the report.
func (a *Aggregator) RegisterOptional(checker Checker) {
	a.add(checker, true)
}

func (a *Aggregator) add(checker Checker, optional bool) {
	if checker == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkers = append(a.checkers, registered{checker: checker, optional: optional})
}

func (a *Aggregator) SetMetadata(key string, value interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadata[key] = value
}

func (a *Aggregator) Check(ctx context.Context) *Response {
	start := a.clock.Now()
	checkCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.mu.RLock()
	checkers := append([]registered(nil), a.checkers...)
	metadata := make(map[string]interface{}, len(a.metadata))
	for k, v := range a.metadata {
		metadata[k] = v
	}
	a.mu.RUnlock()

	results := make(chan CheckResult, len(checkers))
	for _, r := range checkers {
		go func(r registered) {
			results <- a.checkOne(checkCtx, r)
		}(r)
	}
	checks := make(map[string]CheckResult, len(checkers))
	for range checkers {
		res := <-results
		checks[res.Name] = res
	}

	return &Response{
		Status:    overallStatus(checks),
		Timestamp: a.clock.Now(),
		Duration:  a.clock.Since(start),
		Checks:    checks,
		Metadata:  metadata,
	}
}

func (a *Aggregator) checkOne(ctx context.Context, r registered) CheckResult {
	start := a.clock.Now()
	res := CheckResult{Name: r.checker.Name(), Timestamp: start}
	err := r.checker.Check(ctx)
	res.Duration = a.clock.Since(start)

	switch {
	case err == nil:
		res.Status = StatusHealthy
		res.Message = "OK"
	case r.optional:
		res.Status = StatusDegraded
		res.Error = err.Error()
		res.Message = "optional dependency unavailable"
	default:
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Message = "health check failed"
	}
	return res
}

func overallStatus(checks map[string]CheckResult) Status {
	status := StatusHealthy
	for _, res := range checks {
		switch res.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
