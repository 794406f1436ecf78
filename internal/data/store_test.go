package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/market"
)

func testBars(start int64, step int64, closes ...float64) market.Series {
	out := make(market.Series, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{
			Timestamp: start + int64(i)*step,
			Open:      c, High: c + 1, Low: c - 1, Close: c,
			Volume: 10,
		}
	}
	return out
}

func TestStoreInsertAndRange(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	bars := testBars(60_000, 60_000, 100, 101, 102, 103)
	n, err := store.InsertBars(ctx, "BTCUSDT", "1m", bars)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := store.RangeBars(ctx, "BTCUSDT", "1m", 60_000, 240_000)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, bars[0], got[0])
	assert.Equal(t, bars[3], got[3])

	// 子区间
	got, err = store.RangeBars(ctx, "BTCUSDT", "1m", 120_000, 180_000)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStoreUpsertOverwrites(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.InsertBars(ctx, "BTCUSDT", "1m", testBars(60_000, 60_000, 100))
	require.NoError(t, err)
	_, err = store.InsertBars(ctx, "BTCUSDT", "1m", testBars(60_000, 60_000, 200))
	require.NoError(t, err)

	got, err := store.RangeBars(ctx, "BTCUSDT", "1m", 60_000, 60_000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 200.0, got[0].Close)
}

func TestStoreManifest(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.InsertBars(ctx, "ethusdt", "1H", testBars(3_600_000, 3_600_000, 100, 101, 102))
	require.NoError(t, err)

	m, err := store.Manifest(ctx, "ethusdt", "1H")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", m.Symbol)
	assert.Equal(t, "1h", m.Timeframe)
	assert.Equal(t, int64(3), m.Rows)
	assert.Equal(t, int64(3_600_000), m.MinTime)
	assert.Equal(t, int64(10_800_000), m.MaxTime)
	assert.NotZero(t, m.LastSyncAt)
}

func TestStoreRejectsBadRange(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.RangeBars(context.Background(), "BTCUSDT", "1m", 0, 100)
	assert.Error(t, err)
}
