// Package scanner runs the per-chain opportunity pipeline: sampling
// venue quotes at a coherent block, deriving cross-venue candidates,
// scoring them and applying admission control before execution.
package scanner

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// LiveBook is the live opportunity map. The scanner goroutines are its
// only writers; observers read consistent snapshots. Revisions for one
// id apply in freshness order, late arrivals are dropped.
type LiveBook struct {
	mu     sync.RWMutex
	window int
	ttl    map[domain.ChainID]time.Duration

	entries map[string]*bookEntry
}

type bookEntry struct {
	opp   domain.Opportunity
	trend []decimal.Decimal
}

// NewLiveBook builds an empty book with the trend window length and the
// per-chain freshness TTLs.
func NewLiveBook(window int, ttl map[domain.ChainID]time.Duration) *LiveBook {
	if window <= 0 {
		window = 32
	}
	return &LiveBook{
		window:  window,
		ttl:     ttl,
		entries: make(map[string]*bookEntry),
	}
}

// AppendTrend records a sell-side price sample for the id and returns a
// copy of the current trend, oldest first.
func (b *LiveBook) AppendTrend(id string, price decimal.Decimal) []decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		e = &bookEntry{}
		b.entries[id] = e
	}
	e.trend = append(e.trend, price)
	if len(e.trend) > b.window {
		e.trend = e.trend[len(e.trend)-b.window:]
	}
	out := make([]decimal.Decimal, len(e.trend))
	copy(out, e.trend)
	return out
}

// Upsert applies a revision. A revision not strictly fresher than the
// stored one is dropped; the return reports whether it applied.
func (b *LiveBook) Upsert(opp domain.Opportunity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[opp.ID]
	if !ok {
		b.entries[opp.ID] = &bookEntry{opp: opp}
		return true
	}
	if !e.opp.FreshAt.IsZero() && !opp.FreshAt.After(e.opp.FreshAt) {
		return false
	}
	e.opp = opp
	return true
}

// Get returns the opportunity when present.
func (b *LiveBook) Get(id string) (domain.Opportunity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[id]
	if !ok || e.opp.ID == "" {
		return domain.Opportunity{}, false
	}
	return e.opp, true
}

// Snapshot returns the live opportunities in ranking order.
func (b *LiveBook) Snapshot() []*domain.Opportunity {
	b.mu.RLock()
	out := make([]*domain.Opportunity, 0, len(b.entries))
	for _, e := range b.entries {
		if e.opp.ID == "" {
			continue
		}
		o := e.opp
		out = append(out, &o)
	}
	b.mu.RUnlock()
	domain.SortOpportunities(out)
	return out
}

// RetireStale drops entries whose freshness exceeded the chain TTL and
// returns the retired opportunities.
func (b *LiveBook) RetireStale(now time.Time) []domain.Opportunity {
	b.mu.Lock()
	defer b.mu.Unlock()
	var retired []domain.Opportunity
	for id, e := range b.entries {
		if e.opp.ID == "" {
			// Trend-only entry that never produced a full revision.
			delete(b.entries, id)
			continue
		}
		ttl := b.ttl[e.opp.Chain]
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		if now.Sub(e.opp.FreshAt) > ttl {
			retired = append(retired, e.opp)
			delete(b.entries, id)
		}
	}
	return retired
}

// Retire removes an id unconditionally (promotion to execution).
func (b *LiveBook) Retire(id string) {
	b.mu.Lock()
	delete(b.entries, id)
	b.mu.Unlock()
}

// Len returns the live entry count.
func (b *LiveBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
