package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("fixed_point_to_float", func(t *testing.T) {
		q, err := Normalize("BTC/USD", "pyth", 6500000000000, 250000000, -8, 1700000000, 0)
		require.NoError(t, err)

		assert.Equal(t, "BTC/USD", q.Symbol)
		assert.Equal(t, "pyth", q.Source)
		assert.InDelta(t, 65000.0, q.Price, 1e-9)
		assert.InDelta(t, 2.5, q.Confidence, 1e-9)
		assert.Equal(t, int64(1700000000), q.Timestamp)
	})

	t.Run("positive_exponent", func(t *testing.T) {
		q, err := Normalize("SOL/USD", "switchboard", 15, 0, 1, 1700000000, 0)
		require.NoError(t, err)
		assert.InDelta(t, 150.0, q.Price, 1e-9)
	})

	t.Run("negative_confidence_mantissa_uses_absolute_value", func(t *testing.T) {
		q, err := Normalize("ETH/USD", "pyth", 350000, -1200, -2, 1700000000, 0)
		require.NoError(t, err)
		assert.InDelta(t, 12.0, q.Confidence, 1e-9)
	})

	t.Run("rejects_non_positive_price", func(t *testing.T) {
		_, err := Normalize("BTC/USD", "pyth", 0, 0, -8, 1700000000, 0)
		require.Error(t, err)
		assert.Equal(t, KindInvalidQuote, KindOf(err))

		_, err = Normalize("BTC/USD", "pyth", -6500000000000, 0, -8, 1700000000, 0)
		require.Error(t, err)
		assert.Equal(t, KindInvalidQuote, KindOf(err))
	})

	t.Run("rejects_price_above_bound", func(t *testing.T) {
		_, err := Normalize("BTC/USD", "pyth", 100000001, 0, -2, 1700000000, 0)
		require.Error(t, err)
		assert.Equal(t, KindInvalidQuote, KindOf(err))
	})

	t.Run("respects_custom_bound", func(t *testing.T) {
		_, err := Normalize("BTC/USD", "pyth", 6500000000000, 0, -8, 1700000000, 1000.0)
		require.Error(t, err)
		assert.Equal(t, KindInvalidQuote, KindOf(err))
	})

	t.Run("rejects_confidence_as_wide_as_price", func(t *testing.T) {
		_, err := Normalize("BTC/USD", "pyth", 100, 100, 0, 1700000000, 0)
		require.Error(t, err)
		assert.Equal(t, KindInvalidQuote, KindOf(err))
	})
}

func TestErrorKinds(t *testing.T) {
	t.Run("kind_of_tagged_error", func(t *testing.T) {
		err := NewError(KindNoSources, "BTC/USD", "nothing left")
		assert.Equal(t, KindNoSources, KindOf(err))
		assert.True(t, IsKind(err, KindNoSources))
		assert.False(t, IsKind(err, KindAllStale))
	})

	t.Run("kind_of_untagged_error", func(t *testing.T) {
		assert.Equal(t, Kind(""), KindOf(assert.AnError))
		assert.False(t, IsKind(assert.AnError, KindNoSources))
	})

	t.Run("wrapped_cause_is_reachable", func(t *testing.T) {
		err := WrapError(KindSourceUnavailable, "BTC/USD", assert.AnError)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, KindSourceUnavailable, KindOf(err))
	})

	t.Run("message_includes_symbol_and_kind", func(t *testing.T) {
		err := NewError(KindDeviationTooHigh, "ETH/USD", "source pyth off by 7%%")
		assert.Contains(t, err.Error(), "deviation_too_high")
		assert.Contains(t, err.Error(), "ETH/USD")
	})
}
