// Package cache memoizes the last aggregated price per symbol for a short
// TTL, absorbing read bursts from the HTTP and WebSocket handlers without
// re-polling upstream oracles.
package cache

import (
	"sync"
	"time"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

// DefaultTTL keeps end-to-end freshness at TTL + the reconciler staleness
// bound.
const DefaultTTL = 500 * time.Millisecond

type entry struct {
	price      oracle.AggregatedPrice
	insertedAt time.Time
}

// Stats summarizes cache effectiveness since startup.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"` // percentage
	Entries int     `json:"entries"`
}

// PriceCache is a TTL-bounded per-symbol memo of the last AggregatedPrice.
// Put is unconditional last-writer-wins; the entry set is bounded by the
// monitored symbols, so there is no eviction.
type PriceCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
	hits    uint64
	misses  uint64
}

// New returns a cache with the given TTL; ttl <= 0 selects DefaultTTL.
func New(ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PriceCache{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Get returns the cached price if it is within TTL.
func (c *PriceCache) Get(symbol string) (oracle.AggregatedPrice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[symbol]
	if !ok || time.Since(e.insertedAt) >= c.ttl {
		c.misses++
		return oracle.AggregatedPrice{}, false
	}
	c.hits++
	return e.price, true
}

// Peek returns the last stored price and its age regardless of TTL. It does
// not touch the hit/miss counters; health reporting uses it to expose
// staleness beyond the read-burst window.
func (c *PriceCache) Peek(symbol string) (oracle.AggregatedPrice, time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok {
		return oracle.AggregatedPrice{}, 0, false
	}
	return e.price, time.Since(e.insertedAt), true
}

// Put stores the price, replacing any previous entry for the symbol.
func (c *PriceCache) Put(p oracle.AggregatedPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[p.Symbol] = entry{price: p, insertedAt: time.Now()}
}

// Stats reports hit/miss counts and the current entry count.
func (c *PriceCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total) * 100
	}
	return s
}
