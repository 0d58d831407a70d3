package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of engine counters and gauges.
type Stats struct {
	Hits           int64 `json:"hits"`
	StaleHits      int64 `json:"stale_hits"`
	Misses         int64 `json:"misses"`
	OptimisticHits int64 `json:"optimistic_hits"`

	Fetches             int64 `json:"fetches"`
	Coalesced           int64 `json:"coalesced"`
	FetchErrors         int64 `json:"fetch_errors"`
	StaleFallbacks      int64 `json:"stale_fallbacks"`
	BackgroundRefreshes int64 `json:"background_refreshes"`
	DiscardedResults    int64 `json:"discarded_results"`

	Sets              int64 `json:"sets"`
	QuotaErrors       int64 `json:"quota_errors"`
	DurableErrors     int64 `json:"durable_errors"`
	DurableDropped    int64 `json:"durable_dropped"`
	DeserializeErrors int64 `json:"deserialize_errors"`
	Evictions         int64 `json:"evictions"`
	Cleaned           int64 `json:"cleaned"`

	Invalidations   int64 `json:"invalidations"`
	InvalidatedKeys int64 `json:"invalidated_keys"`

	OptimisticApplied    int64 `json:"optimistic_applied"`
	OptimisticConfirmed  int64 `json:"optimistic_confirmed"`
	OptimisticRolledBack int64 `json:"optimistic_rolled_back"`
	OptimisticExpired    int64 `json:"optimistic_expired"`

	Mutations        int64 `json:"mutations"`
	MutationFailures int64 `json:"mutation_failures"`

	MemoryEntries int `json:"memory_entries"`
	LedgerEntries int `json:"ledger_entries"`
	InFlight      int `json:"in_flight"`
}

// HitRatio is (fresh + stale + optimistic hits) / reads, 0 without reads.
func (s Stats) HitRatio() float64 {
	hits := s.Hits + s.StaleHits + s.OptimisticHits
	total := hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

type counters struct {
	hits, staleHits, misses, optimisticHits                             atomic.Int64
	fetches, coalesced, fetchErrors, staleFallbacks, bgRefreshes        atomic.Int64
	discarded                                                           atomic.Int64
	sets, quotaErrors, durableErrors, durableDropped, deserializeErrors atomic.Int64
	evictions, cleaned                                                  atomic.Int64
	invalidations, invalidatedKeys                                      atomic.Int64
	applied, confirmed, rolledBack, expired                             atomic.Int64
	mutations, mutationFailures                                         atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:                 c.hits.Load(),
		StaleHits:            c.staleHits.Load(),
		Misses:               c.misses.Load(),
		OptimisticHits:       c.optimisticHits.Load(),
		Fetches:              c.fetches.Load(),
		Coalesced:            c.coalesced.Load(),
		FetchErrors:          c.fetchErrors.Load(),
		StaleFallbacks:       c.staleFallbacks.Load(),
		BackgroundRefreshes:  c.bgRefreshes.Load(),
		DiscardedResults:     c.discarded.Load(),
		Sets:                 c.sets.Load(),
		QuotaErrors:          c.quotaErrors.Load(),
		DurableErrors:        c.durableErrors.Load(),
		DurableDropped:       c.durableDropped.Load(),
		DeserializeErrors:    c.deserializeErrors.Load(),
		Evictions:            c.evictions.Load(),
		Cleaned:              c.cleaned.Load(),
		Invalidations:        c.invalidations.Load(),
		InvalidatedKeys:      c.invalidatedKeys.Load(),
		OptimisticApplied:    c.applied.Load(),
		OptimisticConfirmed:  c.confirmed.Load(),
		OptimisticRolledBack: c.rolledBack.Load(),
		OptimisticExpired:    c.expired.Load(),
		Mutations:            c.mutations.Load(),
		MutationFailures:     c.mutationFailures.Load(),
	}
}
