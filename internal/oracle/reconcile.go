package oracle

import (
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultStalenessMax is how old a quote may be before the reconciler
	// drops it.
	DefaultStalenessMax = 30 * time.Second

	// DefaultDeviationWarn is the per-source deviation from the weighted mark
	// that triggers a dispersion warning.
	DefaultDeviationWarn = 0.05
)

// Reconciler combines per-source quotes for one symbol into a single
// AggregatedPrice using a confidence-weighted mean: sources reporting a wider
// confidence band contribute less.
type Reconciler struct {
	StalenessMax  time.Duration
	DeviationWarn float64
}

// NewReconciler returns a reconciler with the default staleness and
// dispersion-warning thresholds.
func NewReconciler() *Reconciler {
	return &Reconciler{
		StalenessMax:  DefaultStalenessMax,
		DeviationWarn: DefaultDeviationWarn,
	}
}

// Reconcile filters stale quotes and computes the aggregate. It fails with
// KindNoSources on empty input and KindAllStale when every quote misses the
// freshness cutoff. A single surviving quote is returned verbatim, so a lone
// source never sees its price drift through the weighting arithmetic.
func (r *Reconciler) Reconcile(symbol string, quotes []Quote, now time.Time) (*AggregatedPrice, error) {
	if len(quotes) == 0 {
		return nil, NewError(KindNoSources, symbol, "no quotes to reconcile")
	}

	nowSec := now.Unix()
	fresh := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if nowSec-q.Timestamp <= int64(r.StalenessMax/time.Second) {
			fresh = append(fresh, q)
			continue
		}
		log.Debug().
			Str("symbol", symbol).
			Str("source", q.Source).
			Int64("age_s", nowSec-q.Timestamp).
			Msg("dropping stale quote")
	}
	if len(fresh) == 0 {
		return nil, NewError(KindAllStale, symbol, "all %d quotes stale", len(quotes))
	}

	if len(fresh) == 1 {
		q := fresh[0]
		return &AggregatedPrice{
			Symbol:     symbol,
			MarkPrice:  q.Price,
			IndexPrice: q.Price,
			Confidence: q.Confidence,
			Sources:    fresh,
			Timestamp:  nowSec,
		}, nil
	}

	var weightedSum, totalWeight, confidenceSum float64
	for _, q := range fresh {
		w := 1.0 / (1.0 + q.Confidence)
		weightedSum += q.Price * w
		totalWeight += w
		confidenceSum += q.Confidence
	}

	mark := weightedSum / totalWeight
	agg := &AggregatedPrice{
		Symbol:     symbol,
		MarkPrice:  mark,
		IndexPrice: mark,
		Confidence: confidenceSum / float64(len(fresh)),
		Sources:    fresh,
		Timestamp:  nowSec,
	}

	for _, q := range fresh {
		dev := abs(q.Price-mark) / mark
		if dev > r.DeviationWarn {
			log.Warn().
				Str("symbol", symbol).
				Str("source", q.Source).
				Float64("price", q.Price).
				Float64("mark", mark).
				Float64("deviation", dev).
				Msg("large price deviation from consensus")
		}
	}

	return agg, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
