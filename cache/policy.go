package cache

import "time"

// Policy controls one read or write. The zero TTL and Class defer to the
// engine config.
type Policy struct {
	TTL                  time.Duration
	Class                TTLClass
	ForceRefresh         bool
	StaleWhileRevalidate bool
	Optimistic           bool
}

type PolicyOption func(*Policy)

func defaultPolicy() Policy {
	return Policy{StaleWhileRevalidate: true}
}

// WithTTL sets an explicit TTL, overriding any class.
func WithTTL(ttl time.Duration) PolicyOption {
	return func(p *Policy) { p.TTL = ttl }
}

func WithTTLClass(c TTLClass) PolicyOption {
	return func(p *Policy) { p.Class = c }
}

// WithForceRefresh skips the cache and always fetches.
func WithForceRefresh() PolicyOption {
	return func(p *Policy) { p.ForceRefresh = true }
}

// WithStaleWhileRevalidate toggles serving stale entries while a background
// fetch refreshes them. On by default.
func WithStaleWhileRevalidate(on bool) PolicyOption {
	return func(p *Policy) { p.StaleWhileRevalidate = on }
}

// WithOptimistic lets a live ledger value win over the store.
func WithOptimistic() PolicyOption {
	return func(p *Policy) { p.Optimistic = true }
}

func buildPolicy(opts []PolicyOption) Policy {
	p := defaultPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
