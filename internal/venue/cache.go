package venue

import (
	"fmt"
	"sync"
	"time"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// QuoteCache holds pool state keyed by (pool, block) with a TTL of one
// block. Entries for older blocks are dropped lazily on read.
type QuoteCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	state   PoolState
	expires time.Time
}

// NewQuoteCache returns an empty cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{entries: make(map[string]cacheEntry)}
}

func cacheKey(ref domain.VenueRef, pair domain.TokenPair, block uint64) string {
	return fmt.Sprintf("%s|%s|%d", ref, pair.Key(), block)
}

// Get returns a cached state when present and unexpired.
func (c *QuoteCache) Get(key string) (PoolState, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return PoolState{}, false
	}
	return e.state, true
}

// Put stores state for one block time.
func (c *QuoteCache) Put(key string, st PoolState, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Opportunistic sweep to bound growth.
	if len(c.entries) > 4096 {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = cacheEntry{state: st, expires: time.Now().Add(ttl)}
}
