package derivs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

func flatMarks(n int, price float64) []float64 {
	marks := make([]float64, n)
	for i := range marks {
		marks[i] = price
	}
	return marks
}

func TestComputeFunding(t *testing.T) {
	t.Run("zero_premium_at_twap", func(t *testing.T) {
		fr, err := ComputeFunding("BTC/USD", 65000.0, flatMarks(60, 65000.0), 1700000000)
		require.NoError(t, err)
		assert.Equal(t, "BTC/USD", fr.Symbol)
		assert.Equal(t, 0.0, fr.FundingRate)
		assert.Equal(t, 0.0, fr.PredictedRate)
		assert.Equal(t, 0.0, fr.Premium)
		assert.Equal(t, 65000.0, fr.MarkPrice)
		assert.Equal(t, 65000.0, fr.IndexPrice)
		assert.Equal(t, int64(1700000000), fr.Timestamp)
	})

	t.Run("positive_premium", func(t *testing.T) {
		fr, err := ComputeFunding("BTC/USD", 65000.0, flatMarks(60, 64000.0), 1700000000)
		require.NoError(t, err)

		premium := 1000.0 / 64000.0
		assert.InDelta(t, premium, fr.Premium, 1e-12)
		assert.InDelta(t, premium*0.125, fr.FundingRate, 1e-12)
		assert.InDelta(t, premium*0.125, fr.PredictedRate, 1e-12)
		assert.Equal(t, 64000.0, fr.IndexPrice)
	})

	t.Run("rate_is_capped", func(t *testing.T) {
		fr, err := ComputeFunding("BTC/USD", 65000.0, flatMarks(60, 60000.0), 0)
		require.NoError(t, err)
		assert.Equal(t, 0.0075, fr.FundingRate)
		// Premium itself is reported unclamped.
		assert.InDelta(t, 5000.0/60000.0, fr.Premium, 1e-12)

		fr, err = ComputeFunding("BTC/USD", 55000.0, flatMarks(60, 60000.0), 0)
		require.NoError(t, err)
		assert.Equal(t, -0.0075, fr.FundingRate)
	})

	t.Run("twap_uses_newest_sixty", func(t *testing.T) {
		// Old out-of-window marks must not leak into the TWAP.
		marks := append(flatMarks(40, 100000.0), flatMarks(60, 64000.0)...)
		fr, err := ComputeFunding("BTC/USD", 65000.0, marks, 0)
		require.NoError(t, err)
		assert.Equal(t, 64000.0, fr.IndexPrice)
		assert.InDelta(t, (1000.0/64000.0)*0.125, fr.FundingRate, 1e-12)
	})

	t.Run("predicted_follows_recent_window", func(t *testing.T) {
		// The last 15 marks already caught up with the live price, so the
		// predicted rate decays to zero while the 60-point rate lags.
		marks := append(flatMarks(45, 64000.0), flatMarks(15, 65000.0)...)
		fr, err := ComputeFunding("BTC/USD", 65000.0, marks, 0)
		require.NoError(t, err)

		twap := (45*64000.0 + 15*65000.0) / 60.0
		assert.InDelta(t, twap, fr.IndexPrice, 1e-9)
		assert.InDelta(t, (65000.0-twap)/twap*0.125, fr.FundingRate, 1e-12)
		assert.Equal(t, 0.0, fr.PredictedRate)
	})

	t.Run("insufficient_history", func(t *testing.T) {
		_, err := ComputeFunding("BTC/USD", 65000.0, flatMarks(59, 65000.0), 0)
		require.Error(t, err)
		assert.True(t, oracle.IsKind(err, oracle.KindHistoryUnavailable), "got %v", err)
	})
}
