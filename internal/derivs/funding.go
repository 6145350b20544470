// Package derivs computes perpetual-futures analytics, funding rates and
// liquidation prices, from aggregated oracle prices and their history. The
// functions are pure: callers supply the live mark and the history window.
package derivs

import (
	"github.com/sawpanic/oraclerun/internal/oracle"
)

const (
	// TwapPoints is how many of the newest history rows feed the TWAP that
	// doubles as the index price.
	TwapPoints = 60

	// PredictionPoints is the shorter window behind the predicted rate.
	PredictionPoints = 15

	// fundingInterval scales the premium to the 8 hour funding period.
	fundingInterval = 0.125

	// fundingCap bounds the rate at +/-0.75% per interval.
	fundingCap = 0.0075
)

// FundingRate is the funding snapshot for one symbol.
type FundingRate struct {
	Symbol        string  `json:"symbol"`
	FundingRate   float64 `json:"funding_rate"`
	PredictedRate float64 `json:"predicted_rate"`
	MarkPrice     float64 `json:"mark_price"`
	IndexPrice    float64 `json:"index_price"`
	Premium       float64 `json:"premium"`
	Timestamp     int64   `json:"timestamp"`
}

// ComputeFunding derives the current and predicted funding rate for symbol
// from the live mark price and a chronological (oldest first) slice of
// historical marks. Fewer than TwapPoints marks is a HistoryUnavailable
// error.
func ComputeFunding(symbol string, mark float64, marks []float64, now int64) (FundingRate, error) {
	if len(marks) < TwapPoints {
		return FundingRate{}, oracle.NewError(oracle.KindHistoryUnavailable, symbol,
			"need %d price points for funding, have %d", TwapPoints, len(marks))
	}

	twap := tailMean(marks, TwapPoints)
	premium := (mark - twap) / twap

	recent := tailMean(marks, PredictionPoints)
	predicted := (mark - recent) / recent

	return FundingRate{
		Symbol:        symbol,
		FundingRate:   clampRate(premium * fundingInterval),
		PredictedRate: clampRate(predicted * fundingInterval),
		MarkPrice:     mark,
		IndexPrice:    twap,
		Premium:       premium,
		Timestamp:     now,
	}, nil
}

// tailMean averages the newest n values of a chronological slice.
func tailMean(vals []float64, n int) float64 {
	if n > len(vals) {
		n = len(vals)
	}
	var sum float64
	for _, v := range vals[len(vals)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func clampRate(r float64) float64 {
	if r > fundingCap {
		return fundingCap
	}
	if r < -fundingCap {
		return -fundingCap
	}
	return r
}
