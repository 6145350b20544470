package engine

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

const (
	// singleSourceMaxConfRatio caps confidence/price when only one source
	// answered.
	singleSourceMaxConfRatio = 0.05

	// sourceAgeWarn flags individual quotes lagging well behind the
	// aggregate without failing the tick.
	sourceAgeWarn = 60 * time.Second
)

// validator applies the post-reconciliation acceptance rules.
type validator struct {
	deviationMax float64
	stalenessMax time.Duration
	priceMax     float64
}

func (v validator) validate(price oracle.AggregatedPrice, now time.Time) error {
	if err := v.checkSources(price); err != nil {
		return err
	}
	return v.checkFreshness(price, now)
}

func (v validator) checkSources(price oracle.AggregatedPrice) error {
	if len(price.Sources) == 0 {
		return oracle.NewError(oracle.KindNoSources, price.Symbol, "no oracle sources available for validation")
	}

	// A lone source gets stricter checks since there is nothing to
	// cross-validate against.
	if len(price.Sources) == 1 {
		src := price.Sources[0]
		if src.Price <= 0 || src.Price > v.priceMax {
			return oracle.NewError(oracle.KindInvalidQuote, price.Symbol,
				"single source price is unreasonable: %v", src.Price)
		}
		if ratio := src.Confidence / src.Price; ratio > singleSourceMaxConfRatio {
			return oracle.NewError(oracle.KindLowSingleSourceConfidence, price.Symbol,
				"single source confidence too high: %.2f%%", ratio*100)
		}
		return nil
	}

	// Deviation is measured against the unweighted mean, not the
	// confidence-weighted mark, so a dominant source cannot vouch for
	// itself.
	var sum float64
	for _, src := range price.Sources {
		sum += src.Price
	}
	mean := sum / float64(len(price.Sources))

	for _, src := range price.Sources {
		dev := math.Abs(src.Price-mean) / mean
		if dev > v.deviationMax {
			return oracle.NewError(oracle.KindDeviationTooHigh, price.Symbol,
				"price deviation too high between sources: %.2f%%", dev*100)
		}
	}
	return nil
}

func (v validator) checkFreshness(price oracle.AggregatedPrice, now time.Time) error {
	nowSec := now.Unix()

	if age := nowSec - price.Timestamp; age > int64(v.stalenessMax/time.Second) {
		return oracle.NewError(oracle.KindStale, price.Symbol, "price data is stale: %d seconds old", age)
	}

	for _, src := range price.Sources {
		if age := nowSec - src.Timestamp; age > int64(sourceAgeWarn/time.Second) {
			log.Warn().
				Str("symbol", price.Symbol).
				Str("source", src.Source).
				Int64("age_seconds", age).
				Msg("Stale quote from source")
		}
	}
	return nil
}
