package oracle

import (
	"math"
)

// DefaultPriceMax bounds normalized prices; anything above it is treated as a
// decoding artifact rather than a market price.
const DefaultPriceMax = 1_000_000.0

// Normalize converts a raw fixed-point observation into a canonical Quote.
// Price and confidence are mantissa*10^expo in quote-currency units, with the
// confidence band sharing the price exponent. priceMax <= 0 selects
// DefaultPriceMax.
//
// Rejections are tagged KindInvalidQuote: non-finite or non-positive prices,
// prices above the bound, and confidence bands as wide as the price itself.
func Normalize(symbol, source string, mantissa, confMantissa float64, expo int32, ts int64, priceMax float64) (Quote, error) {
	if priceMax <= 0 {
		priceMax = DefaultPriceMax
	}

	scale := math.Pow10(int(expo))
	price := mantissa * scale
	conf := math.Abs(confMantissa) * scale

	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Quote{}, NewError(KindInvalidQuote, symbol, "%s: non-finite price", source)
	}
	if price <= 0 {
		return Quote{}, NewError(KindInvalidQuote, symbol, "%s: non-positive price %v", source, price)
	}
	if price > priceMax {
		return Quote{}, NewError(KindInvalidQuote, symbol, "%s: price %v above bound %v", source, price, priceMax)
	}
	if conf/price >= 1 {
		return Quote{}, NewError(KindInvalidQuote, symbol, "%s: confidence %v as wide as price %v", source, conf, price)
	}

	return Quote{
		Symbol:     symbol,
		Price:      price,
		Confidence: conf,
		Timestamp:  ts,
		Source:     source,
	}, nil
}
