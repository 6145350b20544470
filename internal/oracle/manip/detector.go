// Package manip scores rolling per-symbol price history for likely
// manipulation. The score is advisory: it never rejects a price by itself,
// it only steers the engine toward conservative pricing.
package manip

import (
	"math"
	"sync"
)

const (
	// MaxHistory bounds each symbol's rolling window by entry count.
	MaxHistory = 1000

	// WindowSeconds bounds each symbol's rolling window by age.
	WindowSeconds = 300

	// minPoints is the history size below which the detector stays silent.
	minPoints = 10

	velocityWeight   = 0.30
	volatilityWeight = 0.25
	pumpDumpWeight   = 0.25
	outlierWeight    = 0.20
)

type pricePoint struct {
	price float64
	ts    int64
}

// Signals is the sub-score breakdown behind a composite manipulation score.
type Signals struct {
	Velocity   float64 `json:"velocity"`
	Volatility float64 `json:"volatility"`
	PumpDump   float64 `json:"pump_dump"`
	Outlier    float64 `json:"outlier"`
	Composite  float64 `json:"composite"`
	Points     int     `json:"points"`
}

// Detector keeps a bounded (price, timestamp) deque per symbol and computes a
// composite score in [0,1] from velocity, volatility, pump-dump pattern, and
// outlier z-score signals.
type Detector struct {
	mu        sync.RWMutex
	history   map[string][]pricePoint
	maxPoints int
	windowSec int64
}

// NewDetector returns a detector with the default bounds.
func NewDetector() *Detector {
	return &Detector{
		history:   make(map[string][]pricePoint),
		maxPoints: MaxHistory,
		windowSec: WindowSeconds,
	}
}

// Analyze records (price, ts) for the symbol and returns the current score.
// Entries older than the window are evicted on every insert; on overflow the
// oldest entries are dropped first. With fewer than 10 retained points the
// score is exactly 0.
func (d *Detector) Analyze(symbol string, price float64, ts int64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := append(d.history[symbol], pricePoint{price: price, ts: ts})

	cutoff := ts - d.windowSec
	i := 0
	for i < len(h) && h[i].ts < cutoff {
		i++
	}
	h = h[i:]
	if len(h) > d.maxPoints {
		h = h[len(h)-d.maxPoints:]
	}
	d.history[symbol] = h

	return score(h, price).Composite
}

// Explain returns the sub-score breakdown for the symbol's current history
// without mutating it. The newest recorded price is treated as current.
func (d *Detector) Explain(symbol string) Signals {
	d.mu.RLock()
	h := d.history[symbol]
	snapshot := make([]pricePoint, len(h))
	copy(snapshot, h)
	d.mu.RUnlock()

	if len(snapshot) == 0 {
		return Signals{}
	}
	return score(snapshot, snapshot[len(snapshot)-1].price)
}

// Points reports the retained history size for a symbol.
func (d *Detector) Points(symbol string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.history[symbol])
}

func score(h []pricePoint, current float64) Signals {
	s := Signals{Points: len(h)}
	if len(h) < minPoints {
		return s
	}

	s.Velocity = velocityScore(h)
	s.Volatility = volatilityScore(h)
	s.PumpDump = pumpDumpScore(h)
	s.Outlier = outlierScore(h, current)
	s.Composite = velocityWeight*s.Velocity +
		volatilityWeight*s.Volatility +
		pumpDumpWeight*s.PumpDump +
		outlierWeight*s.Outlier
	return s
}

// velocityScore measures relative movement across the 5 most recent prices.
func velocityScore(h []pricePoint) float64 {
	if len(h) < 5 {
		return 0
	}

	// Newest first.
	var recent [5]float64
	for i := 0; i < 5; i++ {
		recent[i] = h[len(h)-1-i].price
	}

	var total float64
	for i := 1; i < 5; i++ {
		total += math.Abs(recent[i-1]-recent[i]) / recent[i]
	}

	return math.Min(1, (total/4)*100)
}

// volatilityScore measures the coefficient of variation over the window.
func volatilityScore(h []pricePoint) float64 {
	if len(h) < minPoints {
		return 0
	}
	mean, std := meanStd(h)
	if mean == 0 {
		return 0
	}
	return math.Min(1, (std/mean)*10)
}

// pumpDumpScore slides a length-10 window over the history looking for a
// spike over the window start (>10%) that has already decayed by the window
// end (>8% off the peak).
func pumpDumpScore(h []pricePoint) float64 {
	if len(h) < 20 {
		return 0
	}

	var total float64
	for i := 0; i+10 <= len(h); i++ {
		start := h[i].price
		end := h[i+9].price
		peak := start
		for j := i; j < i+10; j++ {
			if h[j].price > peak {
				peak = h[j].price
			}
		}
		if peak/start > 1.10 && peak/end > 1.08 {
			total += 0.10
		}
	}

	return math.Min(1, total)
}

// outlierScore is the z-score of the current price against the window,
// saturating at 3 standard deviations.
func outlierScore(h []pricePoint, current float64) float64 {
	if len(h) < minPoints {
		return 0
	}
	mean, std := meanStd(h)
	if std == 0 {
		return 0
	}
	return math.Min(1, math.Abs(current-mean)/(3*std))
}

func meanStd(h []pricePoint) (float64, float64) {
	var sum float64
	for _, p := range h {
		sum += p.price
	}
	mean := sum / float64(len(h))

	var variance float64
	for _, p := range h {
		d := p.price - mean
		variance += d * d
	}
	variance /= float64(len(h))

	return mean, math.Sqrt(variance)
}
