package manip

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(d *Detector, symbol string, startTS int64, prices ...float64) float64 {
	var last float64
	for i, p := range prices {
		last = d.Analyze(symbol, p, startTS+int64(i))
	}
	return last
}

func TestDetectorSilentBelowMinimumHistory(t *testing.T) {
	d := NewDetector()

	prices := []float64{65000, 65100, 64900, 65050, 64800, 65200, 64700, 65300, 64600}
	for i, p := range prices {
		score := d.Analyze("BTC/USD", p, 1700000000+int64(i))
		assert.Equal(t, 0.0, score, "score must stay 0 with %d points", i+1)
	}

	// The 10th point crosses the activation threshold.
	score := d.Analyze("BTC/USD", 66000, 1700000009)
	assert.Greater(t, score, 0.0)
}

func TestDetectorScoreRange(t *testing.T) {
	cases := map[string][]float64{
		"flat":      {100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100},
		"trending":  {100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 111},
		"whipsaw":   {100, 200, 100, 200, 100, 200, 100, 200, 100, 200, 100, 200, 100, 200, 100, 200, 100, 200, 100, 200, 100},
		"collapse":  {100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 1, 1, 1, 1, 1},
		"one_spike": {100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 500},
	}

	for name, prices := range cases {
		t.Run(name, func(t *testing.T) {
			d := NewDetector()
			score := feed(d, "X/USD", 1700000000, prices...)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		})
	}
}

func TestDetectorFlatHistoryScoresZero(t *testing.T) {
	d := NewDetector()
	score := feed(d, "BTC/USD", 1700000000, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100)
	assert.Equal(t, 0.0, score)
}

func TestDetectorSpikeAfterQuietHistory(t *testing.T) {
	d := NewDetector()
	quiet := []float64{65000, 65010, 65005, 65020, 65015, 65030, 65025, 75000, 74950, 65040, 65030, 65025}
	feed(d, "BTC/USD", 1700000000, quiet...)

	score := d.Analyze("BTC/USD", 75000, 1700000012)
	assert.GreaterOrEqual(t, score, 0.5)
	assert.InDelta(t, 0.578, score, 0.01)

	sig := d.Explain("BTC/USD")
	assert.Equal(t, 1.0, sig.Velocity)
	assert.Greater(t, sig.Volatility, 0.5)
	assert.Equal(t, 0.0, sig.PumpDump)
	assert.Greater(t, sig.Outlier, 0.5)
	assert.Equal(t, 13, sig.Points)
}

func TestDetectorPumpDumpPattern(t *testing.T) {
	d := NewDetector()

	pattern := []float64{
		100, 100, 100, 100, 100, 115, 100, 100, 100, 100,
		100, 100, 100, 100, 100, 115, 100, 100, 100, 100,
		100,
	}
	feed(d, "PUMP/USD", 1700000000, pattern...)

	sig := d.Explain("PUMP/USD")
	assert.Equal(t, 1.0, sig.PumpDump)
	assert.Equal(t, 21, sig.Points)
	assert.LessOrEqual(t, sig.Composite, 1.0)
}

func TestDetectorPumpDumpNeedsTwentyPoints(t *testing.T) {
	d := NewDetector()

	pattern := []float64{100, 100, 100, 100, 100, 115, 100, 100, 100, 100, 100, 100}
	feed(d, "PUMP/USD", 1700000000, pattern...)

	sig := d.Explain("PUMP/USD")
	assert.Equal(t, 0.0, sig.PumpDump)
}

func TestDetectorWindowEviction(t *testing.T) {
	d := NewDetector()

	d.Analyze("BTC/USD", 65000, 1000)
	d.Analyze("BTC/USD", 65010, 1100)
	assert.Equal(t, 2, d.Points("BTC/USD"))

	// 1000 < 1400-300, 1100 >= 1400-300: only the first entry expires.
	d.Analyze("BTC/USD", 65020, 1400)
	assert.Equal(t, 2, d.Points("BTC/USD"))
}

func TestDetectorHistoryCap(t *testing.T) {
	d := NewDetector()

	ts := int64(1700000000)
	for i := 0; i < MaxHistory+100; i++ {
		// Same timestamp so the window never evicts; only the cap applies.
		d.Analyze("BTC/USD", 65000+float64(i%7), ts)
	}
	assert.Equal(t, MaxHistory, d.Points("BTC/USD"))
}

func TestDetectorSymbolsAreIndependent(t *testing.T) {
	d := NewDetector()

	feed(d, "BTC/USD", 1700000000, 65000, 65010, 65005, 65020, 65015, 65030, 65025, 75000, 74950, 65040, 65030, 65025, 75000)
	require.Greater(t, d.Explain("BTC/USD").Composite, 0.0)

	score := d.Analyze("ETH/USD", 3500, 1700000020)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, 1, d.Points("ETH/USD"))
}

func TestDetectorExplainWithoutHistory(t *testing.T) {
	d := NewDetector()
	assert.Equal(t, Signals{}, d.Explain("NONE/USD"))
}

func TestDetectorConcurrentAnalyzeAndExplain(t *testing.T) {
	d := NewDetector()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(offset int64) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				d.Analyze("BTC/USD", 65000+float64(i%50), 1700000000+offset+int64(i))
				_ = d.Explain("BTC/USD")
			}
		}(int64(w))
	}
	wg.Wait()

	assert.LessOrEqual(t, d.Points("BTC/USD"), MaxHistory)
	sig := d.Explain("BTC/USD")
	assert.GreaterOrEqual(t, sig.Composite, 0.0)
	assert.LessOrEqual(t, sig.Composite, 1.0)
}
