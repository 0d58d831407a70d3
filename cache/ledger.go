package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/logger"
)

// LedgerState is the observable state of a key in the Ledger.
type LedgerState int

const (
	StateAbsent LedgerState = iota
	StateApplied
)

func (s LedgerState) String() string {
	if s == StateApplied {
		return "applied"
	}
	return "absent"
}

type optimisticEntry struct {
	key       Key
	data      []byte
	appliedAt time.Time
	expiresAt time.Time
	timer     clockwork.Timer
	token     uint64
}

// Ledger holds speculative values that shadow the store until the network
// confirms or rejects the write, or until they expire.
//
// Per key: absent -> applied -> {confirmed | rolled back | expired} -> absent.
// Applying an applied key replaces the value and restarts its timer.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*optimisticEntry
	next    uint64

	store      *Store
	clock      clockwork.Clock
	defaultTTL time.Duration
	log        *logger.CtxZapLogger
	stats      *counters
}

func newLedger(store *Store, clock clockwork.Clock, defaultTTL time.Duration, log *logger.CtxZapLogger, stats *counters) *Ledger {
	return &Ledger{
		entries:    make(map[string]*optimisticEntry),
		store:      store,
		clock:      clock,
		defaultTTL: defaultTTL,
		log:        log,
		stats:      stats,
	}
}

// Apply records data as the optimistic value of k for autoExpire (the
// ledger default when <= 0) and returns a token identifying this apply.
func (l *Ledger) Apply(k Key, data []byte, autoExpire time.Duration) uint64 {
	if autoExpire <= 0 {
		autoExpire = l.defaultTTL
	}
	key := k.String()
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.entries[key]; ok {
		old.timer.Stop()
	}
	l.next++
	token := l.next
	l.entries[key] = &optimisticEntry{
		key:       k,
		data:      data,
		appliedAt: now,
		expiresAt: now.Add(autoExpire),
		token:     token,
		timer: l.clock.AfterFunc(autoExpire, func() {
			l.expire(key, token)
		}),
	}
	l.stats.applied.Add(1)
	return token
}

// Read returns the live optimistic value of k.
func (l *Ledger) Read(k Key) ([]byte, bool) {
	key := k.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	// the timer may not have fired yet
	if !l.clock.Now().Before(e.expiresAt) {
		l.dropLocked(key, e)
		l.stats.expired.Add(1)
		return nil, false
	}
	return e.data, true
}

// Confirm drops the optimistic value once the authoritative response has
// landed. It reports whether an entry was removed.
func (l *Ledger) Confirm(k Key) bool {
	return l.confirmToken(k, 0)
}

// Rollback drops the optimistic value and removes k from the store so the
// next read refetches.
func (l *Ledger) Rollback(ctx context.Context, k Key) bool {
	return l.rollbackToken(ctx, k, 0)
}

// State reports whether k has a live optimistic value.
func (l *Ledger) State(k Key) LedgerState {
	if _, ok := l.Read(k); ok {
		return StateApplied
	}
	return StateAbsent
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// confirmToken confirms k only if it is still the apply identified by token
// (0 matches any), so a late confirmation never removes a newer value.
func (l *Ledger) confirmToken(k Key, token uint64) bool {
	key := k.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || (token != 0 && e.token != token) {
		return false
	}
	l.dropLocked(key, e)
	l.stats.confirmed.Add(1)
	return true
}

// rollbackToken always invalidates k in the store; the ledger entry is only
// dropped when it matches token (0 matches any).
func (l *Ledger) rollbackToken(ctx context.Context, k Key, token uint64) bool {
	key := k.String()
	l.mu.Lock()
	e, ok := l.entries[key]
	dropped := ok && (token == 0 || e.token == token)
	if dropped {
		l.dropLocked(key, e)
		l.stats.rolledBack.Add(1)
	}
	l.mu.Unlock()

	l.store.Remove(ctx, k)
	l.log.DebugCtx(ctx, "optimistic value rolled back", zap.String("key", key), zap.Bool("ledger_entry", dropped))
	return dropped
}

func (l *Ledger) expire(key string, token uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || e.token != token {
		return
	}
	l.dropLocked(key, e)
	l.stats.expired.Add(1)
	l.log.Debug("optimistic value expired", zap.String("key", key))
}

// removeMatching drops every entry m matches, as part of an invalidation.
func (l *Ledger) removeMatching(m Matcher) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed []string
	for key, e := range l.entries {
		if m.Match(e.key) {
			l.dropLocked(key, e)
			removed = append(removed, key)
		}
	}
	return removed
}

// clear drops every entry and stops its timer.
func (l *Ledger) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		l.dropLocked(key, e)
	}
}

func (l *Ledger) dropLocked(key string, e *optimisticEntry) {
	e.timer.Stop()
	delete(l.entries, key)
}
