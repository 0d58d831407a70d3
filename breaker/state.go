package breaker

import (
	"sync"
	"time"
)

type stateManager struct {
	mu               sync.Mutex
	state            State
	lastStateChange  time.Time
	failureCount     int
	successCount     int
	halfOpenAttempts int
}

func newStateManager(now time.Time) *stateManager {
	return &stateManager{state: StateClosed, lastStateChange: now}
}

func (sm *stateManager) getState() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// canAttempt moves open to half-open once the timeout has passed.
func (sm *stateManager) canAttempt(cfg Config, now time.Time) (ok, changed bool, from, to State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch sm.state {
	case StateClosed:
		return true, false, sm.state, sm.state
	case StateOpen:
		if now.Sub(sm.lastStateChange) < cfg.Timeout {
			return false, false, sm.state, sm.state
		}
		from = sm.state
		sm.transitionTo(StateHalfOpen, now)
		sm.halfOpenAttempts = 1
		return true, true, from, sm.state
	case StateHalfOpen:
		if sm.halfOpenAttempts < cfg.HalfOpenRequests {
			sm.halfOpenAttempts++
			return true, false, sm.state, sm.state
		}
		return false, false, sm.state, sm.state
	}
	return false, false, sm.state, sm.state
}

func (sm *stateManager) recordSuccess(cfg Config, now time.Time) (changed bool, from, to State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch sm.state {
	case StateClosed:
		sm.failureCount = 0
	case StateHalfOpen:
		sm.successCount++
		if sm.successCount >= cfg.HalfOpenRequests {
			from = sm.state
			sm.transitionTo(StateClosed, now)
			return true, from, sm.state
		}
	}
	return false, sm.state, sm.state
}

func (sm *stateManager) recordFailure(cfg Config, now time.Time) (changed bool, from, to State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch sm.state {
	case StateClosed:
		sm.failureCount++
		if sm.failureCount >= cfg.ConsecutiveFailures {
			from = sm.state
			sm.transitionTo(StateOpen, now)
			return true, from, sm.state
		}
	case StateHalfOpen:
		from = sm.state
		sm.transitionTo(StateOpen, now)
		return true, from, sm.state
	}
	return false, sm.state, sm.state
}

func (sm *stateManager) reset(now time.Time) (changed bool, from, to State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state == StateClosed {
		return false, sm.state, sm.state
	}
	from = sm.state
	sm.transitionTo(StateClosed, now)
	return true, from, sm.state
}

// transitionTo must be called with sm.mu held. Counters restart in every
// state.
func (sm *stateManager) transitionTo(s State, now time.Time) {
	sm.state = s
	sm.lastStateChange = now
	sm.failureCount = 0
	sm.successCount = 0
	sm.halfOpenAttempts = 0
}
