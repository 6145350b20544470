package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

func samplePrice(symbol string, mark float64) oracle.AggregatedPrice {
	return oracle.AggregatedPrice{
		Symbol:     symbol,
		MarkPrice:  mark,
		IndexPrice: mark,
		Confidence: 5.0,
		Sources:    []oracle.Quote{{Symbol: symbol, Source: "pyth", Price: mark, Confidence: 5.0}},
		Timestamp:  time.Now().Unix(),
	}
}

func TestCacheHitWithinTTL(t *testing.T) {
	c := New(time.Minute)
	p := samplePrice("BTC/USD", 65000)
	c.Put(p)

	got, ok := c.Get("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, p, got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(0), stats.Misses)
	assert.Equal(t, 100.0, stats.HitRate)
}

func TestCacheMissAfterTTL(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Put(samplePrice("BTC/USD", 65000))

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("BTC/USD")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestCacheMissUnknownSymbol(t *testing.T) {
	c := New(time.Minute)
	_, ok := c.Get("ETH/USD")
	assert.False(t, ok)
}

func TestCacheLastWriterWins(t *testing.T) {
	c := New(time.Minute)
	c.Put(samplePrice("BTC/USD", 65000))
	c.Put(samplePrice("BTC/USD", 65100))

	got, ok := c.Get("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, 65100.0, got.MarkPrice)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCachePeekIgnoresTTL(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Put(samplePrice("BTC/USD", 65000))

	time.Sleep(20 * time.Millisecond)

	p, age, ok := c.Peek("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, 65000.0, p.MarkPrice)
	assert.GreaterOrEqual(t, age, 20*time.Millisecond)

	// Peek does not move the counters.
	assert.Equal(t, uint64(0), c.Stats().Hits)
	assert.Equal(t, uint64(0), c.Stats().Misses)

	_, _, ok = c.Peek("NONE/USD")
	assert.False(t, ok)
}

func TestCacheDefaultTTL(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultTTL, c.ttl)
}
