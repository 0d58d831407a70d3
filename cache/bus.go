package cache

import (
	"context"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/event"
	"github.com/KOMKZ/habitcache/logger"
)

// KeyInvalidator is implemented by events that name the exact keys they
// make stale. Rules subscribed to such an event invalidate those keys in
// addition to the rule's own patterns.
type KeyInvalidator interface {
	InvalidatedKeys() []Key
}

// Bus removes keys from every layer at once: in-flight fetches, both store
// tiers and the ledger. An invalidation is visible to the very next read.
type Bus struct {
	coord  *coordinator
	store  *Store
	ledger *Ledger
	log    *logger.CtxZapLogger
	stats  *counters
}

// Invalidate removes every key containing pattern and returns how many
// distinct keys were removed. Zero matches is not an error.
func (b *Bus) Invalidate(ctx context.Context, pattern string) int {
	return b.InvalidateMatching(ctx, MatchContains(pattern))
}

// InvalidateMatching removes every key m matches.
func (b *Bus) InvalidateMatching(ctx context.Context, m Matcher) int {
	// Flights first: a fetch finishing between the store removal and the
	// forget would otherwise write the key back.
	flights := b.coord.forgetMatching(m)
	removed := b.store.RemoveMatching(ctx, m)
	for _, key := range b.ledger.removeMatching(m) {
		if i := sort.SearchStrings(removed, key); i == len(removed) || removed[i] != key {
			removed = append(removed, key)
			sort.Strings(removed)
		}
	}

	b.stats.invalidations.Add(1)
	b.stats.invalidatedKeys.Add(int64(len(removed)))
	b.log.DebugCtx(ctx, "cache invalidated",
		zap.Stringer("matcher", m),
		zap.Int("keys", len(removed)),
		zap.Int("flights", flights),
	)
	return len(removed)
}

// Subscribe registers one listener per rule on d. The returned funcs
// unsubscribe them.
func (b *Bus) Subscribe(d event.Dispatcher, rules []InvalidationRule) []event.UnsubscribeFunc {
	unsubs := make([]event.UnsubscribeFunc, 0, len(rules))
	for _, rule := range rules {
		unsubs = append(unsubs, d.Subscribe(rule.Event, b.listener(rule)))
		b.log.Debug("subscribed invalidation rule",
			zap.String("event", rule.Event),
			zap.Strings("patterns", rule.Patterns),
			zap.Strings("kinds", rule.Kinds),
		)
	}
	return unsubs
}

func (b *Bus) listener(rule InvalidationRule) event.Listener {
	var ms []Matcher
	for _, p := range rule.Patterns {
		ms = append(ms, MatchContains(p))
	}
	for _, kind := range rule.Kinds {
		ms = append(ms, MatchKind(kind))
	}

	return event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		matchers := slices.Clone(ms)
		if inv, ok := e.(KeyInvalidator); ok {
			for _, k := range inv.InvalidatedKeys() {
				matchers = append(matchers, MatchExact(k))
			}
		}
		if len(matchers) == 0 {
			return nil
		}
		n := b.InvalidateMatching(ctx, MatchAny(matchers...))
		b.log.DebugCtx(ctx, "invalidation rule fired", zap.String("event", e.Name()), zap.Int("keys", n))
		return nil
	})
}
