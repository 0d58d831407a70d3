package cache

import (
	"context"
	"time"
)

// Typed binds an engine to one payload type so call sites get V back
// instead of bytes.
type Typed[V any] struct {
	e *Engine
}

func NewTyped[V any](e *Engine) Typed[V] {
	return Typed[V]{e: e}
}

func (t Typed[V]) Engine() *Engine { return t.e }

// Get is Engine.Get decoding into V.
func (t Typed[V]) Get(ctx context.Context, k Key, fetch func(ctx context.Context) (V, error), opts ...PolicyOption) (V, error) {
	var f Fetcher
	if fetch != nil {
		f = func(ctx context.Context) (any, error) { return fetch(ctx) }
	}
	data, err := t.e.Get(ctx, k, f, opts...)
	if err != nil {
		var zero V
		return zero, err
	}
	return t.decode(k, data)
}

func (t Typed[V]) Peek(ctx context.Context, k Key, opts ...PolicyOption) (V, bool) {
	var zero V
	data, ok := t.e.Peek(ctx, k, opts...)
	if !ok {
		return zero, false
	}
	v, err := t.decode(k, data)
	if err != nil {
		return zero, false
	}
	return v, true
}

func (t Typed[V]) Set(ctx context.Context, k Key, v V, opts ...PolicyOption) error {
	return t.e.Set(ctx, k, v, opts...)
}

// Mutate shows optimistic under k while commit runs and stores commit's
// result once it succeeds.
func (t Typed[V]) Mutate(ctx context.Context, k Key, optimistic V, commit func(ctx context.Context) (V, error), dependents ...Matcher) error {
	return t.e.Mutate(ctx, Mutation{
		Key:        k,
		Optimistic: optimistic,
		Commit: func(ctx context.Context) (any, error) {
			return commit(ctx)
		},
		Dependents: dependents,
	})
}

// Expiry returns when the stored value for k goes stale.
func (t Typed[V]) Expiry(ctx context.Context, k Key) (time.Time, bool) {
	e, ok := t.e.Lookup(ctx, k)
	if !ok {
		return time.Time{}, false
	}
	return e.ExpiresAt(), true
}

func (t Typed[V]) decode(k Key, data []byte) (V, error) {
	var v V
	if err := t.e.ser.Unmarshal(data, &v); err != nil {
		t.e.stats.deserializeErrors.Add(1)
		return v, ErrDeserialize.WithData("key", k.String()).Wrap(err)
	}
	return v, nil
}
