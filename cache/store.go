package cache

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/durable"
	"github.com/KOMKZ/habitcache/logger"
)

// Store is the two-tier cache: a bounded in-memory map in front of a durable
// store. Every write goes to both tiers, every read prefers memory and
// repopulates it from durable. One RWMutex guards both tiers, so a reader
// never sees one tier updated and the other not.
//
// Durable failures are absorbed: the memory tier keeps serving and the
// failure is logged and counted.
type Store struct {
	mu      sync.RWMutex
	mem     map[string]*Entry
	durable durable.Store

	ser        Serializer
	clock      clockwork.Clock
	version    string
	namespace  string
	maxEntries int

	log   *logger.CtxZapLogger
	stats *counters
}

func newStore(d durable.Store, cfg *Config, ser Serializer, clock clockwork.Clock, log *logger.CtxZapLogger, stats *counters) *Store {
	return &Store{
		mem:        make(map[string]*Entry),
		durable:    d,
		ser:        ser,
		clock:      clock,
		version:    cfg.Version,
		namespace:  cfg.Namespace,
		maxEntries: cfg.MaxEntries,
		log:        log,
		stats:      stats,
	}
}

// Get returns the payload iff an entry exists, its version is current and
// it is younger than its TTL.
func (s *Store) Get(ctx context.Context, k Key) ([]byte, bool) {
	e, ok := s.lookup(ctx, k.String())
	if !ok || !e.Fresh(s.clock.Now()) {
		return nil, false
	}
	return e.Data, true
}

// GetStale is Get without the TTL check.
func (s *Store) GetStale(ctx context.Context, k Key) ([]byte, bool) {
	e, ok := s.lookup(ctx, k.String())
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// Lookup returns a copy of the current-version entry for k, fresh or not.
func (s *Store) Lookup(ctx context.Context, k Key) (Entry, bool) {
	e, ok := s.lookup(ctx, k.String())
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IsExpiringSoon reports whether elapsed/ttl has reached threshold.
func (s *Store) IsExpiringSoon(ctx context.Context, k Key, threshold float64) bool {
	e, ok := s.lookup(ctx, k.String())
	if !ok || e.TTL <= 0 {
		return false
	}
	return float64(e.Age(s.clock.Now()))/float64(e.TTL) >= threshold
}

// Set writes data under k in both tiers, stamped with the current time and
// version. Durable write failures never reach the caller: a quota error
// triggers CleanOldCache and one retry, anything else is logged and the
// value lives in memory only.
func (s *Store) Set(ctx context.Context, k Key, data []byte, ttl time.Duration) {
	s.setUnless(ctx, k, data, ttl, nil)
}

// setUnless is Set, skipped when discard reports true. discard runs under
// the store lock, so it is ordered against RemoveMatching: a writer that
// sees discard false lands before any removal that follows.
func (s *Store) setUnless(ctx context.Context, k Key, data []byte, ttl time.Duration, discard func() bool) bool {
	key := k.String()
	e := &Entry{
		Key:      key,
		Kind:     k.Kind,
		Params:   slices.Clone(k.Params),
		Data:     data,
		StoredAt: s.clock.Now(),
		TTL:      ttl,
		Version:  s.version,
	}
	raw, encErr := encodeEntry(s.ser, e)

	s.mu.Lock()
	defer s.mu.Unlock()
	if discard != nil && discard() {
		return false
	}

	s.putMemLocked(e)
	s.stats.sets.Add(1)
	if encErr != nil {
		s.stats.durableDropped.Add(1)
		s.log.WarnCtx(ctx, "entry not persisted", zap.String("key", key), zap.Error(encErr))
		return true
	}
	s.writeDurableLocked(ctx, key, raw)
	return true
}

func (s *Store) Remove(ctx context.Context, k Key) {
	key := k.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mem, key)
	s.removeDurableLocked(ctx, key)
}

// Clear drops every entry of this namespace from both tiers.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem = make(map[string]*Entry)
	for _, key := range s.durableKeysLocked(ctx) {
		s.removeDurableLocked(ctx, key)
	}
}

// CleanOldCache evicts every entry that is expired, of another version or
// unreadable from both tiers and returns how many keys were dropped.
func (s *Store) CleanOldCache(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.cleanLocked(ctx)
	if n > 0 {
		s.log.InfoCtx(ctx, "old cache entries cleaned", zap.Int("count", n))
	}
	return n
}

// Keys lists the keys held in either tier, sorted.
func (s *Store) Keys(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{}, len(s.mem))
	for key := range s.mem {
		set[key] = struct{}{}
	}
	for _, key := range s.durableKeysLocked(ctx) {
		set[key] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// RemoveMatching drops every key m matches from both tiers and returns the
// removed keys.
func (s *Store) RemoveMatching(ctx context.Context, m Matcher) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for key, e := range s.mem {
		if m.Match(e.StructKey()) {
			delete(s.mem, key)
			s.removeDurableLocked(ctx, key)
			removed = append(removed, key)
		}
	}
	for _, key := range s.durableKeysLocked(ctx) {
		if _, ok := s.mem[key]; ok || slices.Contains(removed, key) {
			continue
		}
		if m.Match(s.durableStructKeyLocked(ctx, key, m)) {
			s.removeDurableLocked(ctx, key)
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return removed
}

// Len is the number of entries in the memory tier.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mem)
}

func (s *Store) lookup(ctx context.Context, key string) (*Entry, bool) {
	s.mu.RLock()
	e, ok := s.mem[key]
	s.mu.RUnlock()
	if ok {
		return e, e.Version == s.version
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.mem[key]; ok {
		return e, e.Version == s.version
	}
	e, ok = s.loadDurableLocked(ctx, key)
	if !ok {
		return nil, false
	}
	s.putMemLocked(e)
	return e, true
}

func (s *Store) loadDurableLocked(ctx context.Context, key string) (*Entry, bool) {
	raw, ok, err := s.durable.Get(ctx, s.namespace+key)
	if err != nil {
		s.stats.durableErrors.Add(1)
		s.log.WarnCtx(ctx, "durable read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	e, err := decodeEntry(s.ser, raw)
	if err == nil && e.Key != key {
		err = ErrDeserialize.WithMsgf("envelope key %q stored under %q", e.Key, key)
	}
	if err != nil {
		s.stats.deserializeErrors.Add(1)
		s.log.WarnCtx(ctx, "dropping unreadable durable entry", zap.String("key", key), zap.Error(err))
		s.removeDurableLocked(ctx, key)
		return nil, false
	}
	if e.Version != s.version {
		return nil, false
	}
	return e, true
}

func (s *Store) putMemLocked(e *Entry) {
	if _, exists := s.mem[e.Key]; !exists && len(s.mem) >= s.maxEntries {
		s.evictLocked()
	}
	s.mem[e.Key] = e
}

// evictLocked drops the memory entry closest to expiry. Its durable copy
// stays and is promoted again on the next read.
func (s *Store) evictLocked() {
	var (
		victim string
		soon   time.Time
	)
	for key, e := range s.mem {
		if exp := e.ExpiresAt(); victim == "" || exp.Before(soon) {
			victim, soon = key, exp
		}
	}
	if victim != "" {
		delete(s.mem, victim)
		s.stats.evictions.Add(1)
	}
}

func (s *Store) writeDurableLocked(ctx context.Context, key, raw string) {
	err := s.durable.Set(ctx, s.namespace+key, raw)
	if err == nil {
		return
	}
	if errors.Is(err, durable.ErrQuota) {
		s.stats.quotaErrors.Add(1)
		n := s.cleanLocked(ctx)
		s.log.WarnCtx(ctx, "durable quota exceeded, cleaned old entries", zap.String("key", key), zap.Int("cleaned", n))
		if err = s.durable.Set(ctx, s.namespace+key, raw); err == nil {
			return
		}
		if errors.Is(err, durable.ErrQuota) {
			s.stats.quotaErrors.Add(1)
		}
	} else {
		s.stats.durableErrors.Add(1)
	}
	s.stats.durableDropped.Add(1)
	s.log.WarnCtx(ctx, "durable write dropped", zap.String("key", key), zap.Error(err))
}

func (s *Store) removeDurableLocked(ctx context.Context, key string) {
	if err := s.durable.Remove(ctx, s.namespace+key); err != nil {
		s.stats.durableErrors.Add(1)
		s.log.WarnCtx(ctx, "durable remove failed", zap.String("key", key), zap.Error(err))
	}
}

// durableKeysLocked returns the namespace-stripped durable keys.
func (s *Store) durableKeysLocked(ctx context.Context) []string {
	all, err := s.durable.Keys(ctx)
	if err != nil {
		s.stats.durableErrors.Add(1)
		s.log.WarnCtx(ctx, "durable keys failed", zap.Error(err))
		return nil
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, s.namespace) {
			keys = append(keys, strings.TrimPrefix(k, s.namespace))
		}
	}
	return keys
}

// durableStructKeyLocked recovers the structured key of a durable-only
// entry. Matchers that only look at the encoded form skip the decode.
func (s *Store) durableStructKeyLocked(ctx context.Context, key string, m Matcher) Key {
	if _, ok := m.(encodedMatcher); ok {
		return ParseKey(key)
	}
	raw, ok, err := s.durable.Get(ctx, s.namespace+key)
	if err != nil || !ok {
		return ParseKey(key)
	}
	e, err := decodeEntry(s.ser, raw)
	if err != nil {
		return ParseKey(key)
	}
	return e.StructKey()
}

func (s *Store) cleanLocked(ctx context.Context) int {
	now := s.clock.Now()
	removed := 0
	for key, e := range s.mem {
		if e.Version != s.version || !e.Fresh(now) {
			delete(s.mem, key)
			s.removeDurableLocked(ctx, key)
			removed++
		}
	}
	for _, key := range s.durableKeysLocked(ctx) {
		if _, ok := s.mem[key]; ok {
			continue
		}
		raw, ok, err := s.durable.Get(ctx, s.namespace+key)
		if err != nil || !ok {
			continue
		}
		e, err := decodeEntry(s.ser, raw)
		if err != nil || e.Version != s.version || !e.Fresh(now) {
			s.removeDurableLocked(ctx, key)
			removed++
		}
	}
	s.stats.cleaned.Add(int64(removed))
	return removed
}
