package derivs

import "errors"

// MaintenanceMargin is the maintenance requirement, as a fraction of the
// posted margin, held back when computing liquidation prices.
const MaintenanceMargin = 0.05

// ErrInvalidPosition rejects positions whose size or entry price is not
// positive.
var ErrInvalidPosition = errors.New("position size and entry price must be positive")

// Position describes a perpetual position for liquidation pricing.
type Position struct {
	Size   float64
	Entry  float64
	Margin float64
	IsLong bool
}

// Liquidation is the liquidation-price snapshot for one position. Only the
// side matching the position's direction is populated.
type Liquidation struct {
	Symbol            string  `json:"symbol"`
	LongLiquidation   float64 `json:"long_liquidation"`
	ShortLiquidation  float64 `json:"short_liquidation"`
	MarkPrice         float64 `json:"mark_price"`
	MaintenanceMargin float64 `json:"maintenance_margin"`
	Timestamp         int64   `json:"timestamp"`
}

// LiquidationPrice computes the price at which the position's margin, less
// the maintenance hold-back, is exhausted. Longs liquidate below entry,
// shorts above, each offset by usable margin per unit of position.
func LiquidationPrice(symbol string, mark float64, pos Position, now int64) (Liquidation, error) {
	if pos.Size <= 0 || pos.Entry <= 0 {
		return Liquidation{}, ErrInvalidPosition
	}

	usable := pos.Margin * (1 - MaintenanceMargin)
	perUnit := usable / pos.Size

	out := Liquidation{
		Symbol:            symbol,
		MarkPrice:         mark,
		MaintenanceMargin: MaintenanceMargin,
		Timestamp:         now,
	}
	if pos.IsLong {
		out.LongLiquidation = pos.Entry - perUnit
	} else {
		out.ShortLiquidation = pos.Entry + perUnit
	}
	return out, nil
}
