// Package breaker trips per resource after consecutive failures so callers
// stop waiting on an upstream that is down. While open, calls fail at once
// with ErrCircuitOpen; after Timeout a limited number of trial calls decide
// whether to close again.
package breaker

import (
	"context"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/errcode"
	"github.com/KOMKZ/habitcache/logger"
)

const ModuleCode = 74

var ErrCircuitOpen = errcode.Register(errcode.New(
	ModuleCode, 1, "breaker", "error.breaker.open", "circuit breaker is open", http.StatusServiceUnavailable,
))

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChangeFunc observes transitions. It runs with no lock held.
type StateChangeFunc func(resource string, from, to State)

type Option func(*Breaker)

func WithClock(c clockwork.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

func WithLogger(l *logger.CtxZapLogger) Option {
	return func(b *Breaker) { b.log = l }
}

func WithOnStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker keeps one state machine per resource. A nil or disabled Breaker
// lets every call through.
type Breaker struct {
	cfg      Config
	clock    clockwork.Clock
	log      *logger.CtxZapLogger
	onChange StateChangeFunc

	mu        sync.Mutex
	resources map[string]*stateManager
}

func New(cfg Config, opts ...Option) *Breaker {
	cfg.ApplyDefaults()
	b := &Breaker{
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		log:       logger.NewNop(),
		resources: make(map[string]*stateManager),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) IsEnabled() bool { return b != nil && b.cfg.Enabled }

func (b *Breaker) manager(resource string) *stateManager {
	b.mu.Lock()
	defer b.mu.Unlock()
	sm, ok := b.resources[resource]
	if !ok {
		sm = newStateManager(b.clock.Now())
		b.resources[resource] = sm
	}
	return sm
}

// Allow reports ErrCircuitOpen when resource must not be called now.
func (b *Breaker) Allow(resource string) error {
	if !b.IsEnabled() {
		return nil
	}
	ok, changed, from, to := b.manager(resource).canAttempt(b.cfg, b.clock.Now())
	if changed {
		b.transition(resource, from, to)
	}
	if !ok {
		return ErrCircuitOpen.WithData("resource", resource)
	}
	return nil
}

// Record feeds the outcome of an allowed call back into the state machine.
func (b *Breaker) Record(resource string, failed bool) {
	if !b.IsEnabled() {
		return
	}
	sm := b.manager(resource)
	now := b.clock.Now()
	var changed bool
	var from, to State
	if failed {
		changed, from, to = sm.recordFailure(b.cfg, now)
	} else {
		changed, from, to = sm.recordSuccess(b.cfg, now)
	}
	if changed {
		b.transition(resource, from, to)
	}
}

// Execute runs fn when allowed and records every error except ctx
// cancellation as a failure.
func (b *Breaker) Execute(ctx context.Context, resource string, fn func(context.Context) error) error {
	if err := b.Allow(resource); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	b.Record(resource, err != nil)
	return err
}

func (b *Breaker) State(resource string) State {
	if !b.IsEnabled() {
		return StateClosed
	}
	return b.manager(resource).getState()
}

// Reset closes the circuit of resource.
func (b *Breaker) Reset(resource string) {
	if !b.IsEnabled() {
		return
	}
	if changed, from, to := b.manager(resource).reset(b.clock.Now()); changed {
		b.transition(resource, from, to)
	}
}

func (b *Breaker) transition(resource string, from, to State) {
	b.log.Warn("circuit state changed",
		zap.String("resource", resource),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if b.onChange != nil {
		b.onChange(resource, from, to)
	}
}
