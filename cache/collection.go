package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Collection is the cached shape of a list screen: the items plus values
// derived from them, e.g. today's habits and the completed/total counts.
type Collection[I any, D any] struct {
	Items   []I `json:"items"`
	Derived D   `json:"derived"`
}

// Patch is the outcome of PatchCollectionEntry. Collection is available
// immediately; Wait reports how the commit ended.
type Patch[I any, D any] struct {
	// Applied is false when nothing was cached under the key.
	Applied    bool
	Matched    int
	Collection Collection[I, D]

	done chan struct{}
	once sync.Once
	err  error
}

func settledPatch[I any, D any]() *Patch[I, D] {
	p := &Patch[I, D]{done: make(chan struct{})}
	p.finish(nil)
	return p
}

// Done is closed once the commit has settled.
func (p *Patch[I, D]) Done() <-chan struct{} { return p.done }

// Err is the commit outcome; nil before Done is closed.
func (p *Patch[I, D]) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the commit settles or ctx ends.
func (p *Patch[I, D]) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Patch[I, D]) finish(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// PatchCollectionEntry updates a cached collection in place before the
// network sees the change:
//  1. read the collection at k, stale allowed; nothing cached is a no-op;
//  2. replace every item matching match with patch(item);
//  3. recompute the derived values;
//  4. write it back with the entry's own TTL and apply it to the ledger;
//  5. run commit in the background; success confirms, failure rolls back
//     (ledger dropped, k invalidated so the next read refetches) and
//     settles the Patch with ErrMutation.
//
// A nil commit confirms immediately.
func PatchCollectionEntry[I any, D any](
	ctx context.Context,
	e *Engine,
	k Key,
	match func(I) bool,
	patch func(I) I,
	recompute func([]I) D,
	commit func(ctx context.Context) error,
) (*Patch[I, D], error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	data, ok := e.ledger.Read(k)
	if !ok {
		data, ok = e.store.GetStale(ctx, k)
	}
	if !ok {
		return settledPatch[I, D](), nil
	}

	var coll Collection[I, D]
	if err := e.ser.Unmarshal(data, &coll); err != nil {
		e.stats.deserializeErrors.Add(1)
		return nil, ErrDeserialize.WithData("key", k.String()).Wrap(err)
	}

	items := make([]I, len(coll.Items))
	matched := 0
	for i, item := range coll.Items {
		if match(item) {
			item = patch(item)
			matched++
		}
		items[i] = item
	}
	patched := Collection[I, D]{Items: items, Derived: recompute(items)}

	encoded, err := e.ser.Marshal(patched)
	if err != nil {
		return nil, ErrSerialize.WithData("key", k.String()).Wrap(err)
	}
	ttl := e.cfg.ttlFor(k, "")
	if entry, ok := e.store.Lookup(ctx, k); ok {
		ttl = entry.TTL
	}
	e.store.Set(ctx, k, encoded, ttl)
	token := e.ledger.Apply(k, encoded, 0)

	p := &Patch[I, D]{Applied: true, Matched: matched, Collection: patched, done: make(chan struct{})}
	if commit == nil {
		e.ledger.confirmToken(k, token)
		p.finish(nil)
		return p, nil
	}

	id := newMutationID()
	e.stats.mutations.Add(1)
	detached := context.WithoutCancel(ctx)
	e.submit(func() {
		if err := commit(detached); err != nil {
			e.stats.mutationFailures.Add(1)
			e.ledger.rollbackToken(detached, k, token)
			e.log.WarnCtx(detached, "collection patch rejected, rolled back",
				zap.String("mutation_id", id), zap.String("key", k.String()), zap.Error(err))
			p.finish(ErrMutation.WithData("mutation_id", id).WithData("key", k.String()).Wrap(err))
			return
		}
		e.ledger.confirmToken(k, token)
		p.finish(nil)
	})
	return p, nil
}
