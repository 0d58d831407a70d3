package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/event"
)

// Mutation is a write that shows up locally before the network confirms it.
type Mutation struct {
	Key Key
	// Optimistic is shown to WithOptimistic reads while Commit runs. nil
	// skips the ledger.
	Optimistic any
	// Commit performs the network write. A non-nil result is stored under
	// Key as the authoritative value.
	Commit func(ctx context.Context) (any, error)
	// Dependents are invalidated after a successful commit.
	Dependents []Matcher
	// Event is dispatched after a successful commit.
	Event      event.Event
	AutoExpire time.Duration
	Policy     []PolicyOption
}

type pendingMutation struct {
	id      string
	m       Mutation
	token   uint64
	applied bool
	log     []zap.Field
}

// Mutate applies the optimistic value, runs Commit and settles the ledger.
// On failure the optimistic value is discarded, Key is invalidated and the
// returned error is ErrMutation wrapping the cause.
func (e *Engine) Mutate(ctx context.Context, m Mutation) error {
	pm, err := e.begin(ctx, m)
	if err != nil {
		return err
	}
	res, err := m.Commit(ctx)
	return e.settle(ctx, pm, res, err)
}

// MutateAsync applies the optimistic value before returning and commits on
// the worker pool. The channel yields the outcome exactly once.
func (e *Engine) MutateAsync(ctx context.Context, m Mutation) <-chan error {
	out := make(chan error, 1)
	pm, err := e.begin(ctx, m)
	if err != nil {
		out <- err
		close(out)
		return out
	}
	detached := context.WithoutCancel(ctx)
	e.submit(func() {
		defer close(out)
		res, err := m.Commit(detached)
		out <- e.settle(detached, pm, res, err)
	})
	return out
}

func (e *Engine) begin(ctx context.Context, m Mutation) (*pendingMutation, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if m.Commit == nil {
		return nil, ErrMutation.WithMsgf("mutation of %s has no commit", m.Key)
	}
	pm := &pendingMutation{id: newMutationID(), m: m}
	pm.log = []zap.Field{zap.String("mutation_id", pm.id), zap.String("key", m.Key.String())}
	e.stats.mutations.Add(1)

	if m.Optimistic != nil {
		data, err := e.ser.Marshal(m.Optimistic)
		if err != nil {
			return nil, ErrSerialize.WithData("key", m.Key.String()).Wrap(err)
		}
		pm.token = e.ledger.Apply(m.Key, data, m.AutoExpire)
		pm.applied = true
	}
	e.log.DebugCtx(ctx, "mutation started", append(pm.log, zap.Bool("optimistic", pm.applied))...)
	return pm, nil
}

func (e *Engine) settle(ctx context.Context, pm *pendingMutation, res any, cerr error) error {
	m := pm.m
	if cerr != nil {
		e.stats.mutationFailures.Add(1)
		if pm.applied {
			e.ledger.rollbackToken(ctx, m.Key, pm.token)
		} else {
			// nothing of ours in the ledger; another apply for Key stays live
			e.store.Remove(ctx, m.Key)
		}
		e.log.WarnCtx(ctx, "mutation failed, rolled back", append(pm.log, zap.Error(cerr))...)
		return ErrMutation.WithData("mutation_id", pm.id).WithData("key", m.Key.String()).Wrap(cerr)
	}

	if res != nil {
		if err := e.Set(ctx, m.Key, res, m.Policy...); err != nil {
			e.log.WarnCtx(ctx, "mutation result not cached", append(pm.log, zap.Error(err))...)
			e.store.Remove(ctx, m.Key)
		}
	} else {
		// Without a result the stored value predates the write.
		e.store.Remove(ctx, m.Key)
	}
	if pm.applied {
		e.ledger.confirmToken(m.Key, pm.token)
	}
	for _, dep := range m.Dependents {
		e.bus.InvalidateMatching(ctx, dep)
	}
	if m.Event != nil && e.dispatcher != nil {
		if err := e.dispatcher.Dispatch(ctx, m.Event); err != nil {
			e.log.WarnCtx(ctx, "mutation event dispatch failed", append(pm.log, zap.String("event", m.Event.Name()), zap.Error(err))...)
		}
	}
	e.log.DebugCtx(ctx, "mutation confirmed", pm.log...)
	return nil
}
