package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepo_WindowAndRecent(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, PriceHistoryEntry{
			Symbol:      "BTC/USD",
			MarkPrice:   65000.0 + float64(i),
			IndexPrice:  65000.0 + float64(i),
			Confidence:  5.0,
			SourceCount: 2,
		}))
	}
	require.NoError(t, repo.Insert(ctx, PriceHistoryEntry{Symbol: "ETH/USD", MarkPrice: 3200.0}))

	rows, err := repo.Window(ctx, "BTC/USD", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 65000.0, rows[0].MarkPrice, "oldest first")
	assert.False(t, rows[0].CreatedAt.IsZero(), "store stamps CreatedAt")

	recent, err := repo.Recent(ctx, "BTC/USD", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 65002.0, recent[0].MarkPrice, "newest first")
}

func TestMemoryRepo_AverageMark(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	_, err := repo.AverageMark(ctx, "BTC/USD", time.Now().Add(-time.Hour))
	require.ErrorIs(t, err, ErrNoHistory)

	require.NoError(t, repo.Insert(ctx, PriceHistoryEntry{Symbol: "BTC/USD", MarkPrice: 64000.0}))
	require.NoError(t, repo.Insert(ctx, PriceHistoryEntry{Symbol: "BTC/USD", MarkPrice: 66000.0}))

	avg, err := repo.AverageMark(ctx, "BTC/USD", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 65000.0, avg)
}

func TestMemoryRepo_CapsBuffer(t *testing.T) {
	repo := NewMemoryRepo()
	repo.cap = 5
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, repo.Insert(ctx, PriceHistoryEntry{
			Symbol:    "BTC/USD",
			MarkPrice: float64(i),
		}))
	}

	rows, err := repo.Window(ctx, "BTC/USD", time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, 3.0, rows[0].MarkPrice, "oldest rows dropped")
	assert.Equal(t, 7.0, rows[4].MarkPrice)
}
