package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexfeed/internal/domain"
)

func TestCandleStore_MergeAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	c := domain.NewOhlcvBucket(domain.ChainEthereum, "0xpair", 2.0, 50.0, 1700000119)
	require.NoError(t, store.MergeBulk(ctx, []*domain.OhlcvBucket{c}))

	candles, err := store.GetByPair(ctx, domain.ChainEthereum, "0xpair")
	require.NoError(t, err)
	require.Len(t, candles, 1)

	assert.Equal(t, int64(1700000100), candles[0].BucketStart)
	assert.Equal(t, 2.0, candles[0].Open)
	assert.Equal(t, 2.0, candles[0].Close)
	assert.Equal(t, 50.0, candles[0].Volume)
}

func TestCandleStore_UpsertMergeSemantics(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	// Three partials for the same bucket, the last one chronologically
	// earliest: open must follow the earliest event and close the latest,
	// regardless of write order.
	writes := []*domain.OhlcvBucket{
		domain.NewOhlcvBucket(domain.ChainEthereum, "0xpair", 2.0, 50.0, 1700000110),
		domain.NewOhlcvBucket(domain.ChainEthereum, "0xpair", 3.0, 10.0, 1700000130),
		domain.NewOhlcvBucket(domain.ChainEthereum, "0xpair", 1.5, 5.0, 1700000105),
	}
	for _, c := range writes {
		require.NoError(t, store.MergeBulk(ctx, []*domain.OhlcvBucket{c}))
	}

	candles, err := store.GetByPair(ctx, domain.ChainEthereum, "0xpair")
	require.NoError(t, err)
	require.Len(t, candles, 1)

	got := candles[0]
	assert.Equal(t, 1.5, got.Open, "open follows earliest event")
	assert.Equal(t, 3.0, got.High)
	assert.Equal(t, 1.5, got.Low)
	assert.Equal(t, 3.0, got.Close, "close follows latest event")
	assert.Equal(t, 65.0, got.Volume)
	assert.Equal(t, int64(1700000105), got.FirstEventTS)
	assert.Equal(t, int64(1700000130), got.LastEventTS)
}

func TestCandleStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	var batch []*domain.OhlcvBucket
	for _, ts := range []int64{60, 120, 180, 240} {
		batch = append(batch, domain.NewOhlcvBucket(domain.ChainEthereum, "0xpair", 1.0, 1.0, ts))
	}
	require.NoError(t, store.MergeBulk(ctx, batch))

	candles, err := store.GetByTimeRange(ctx, domain.ChainEthereum, "0xpair", 120, 180)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(120), candles[0].BucketStart)
	assert.Equal(t, int64(180), candles[1].BucketStart)
}
