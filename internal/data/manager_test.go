package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/market"
)

// fakeSource 按网格生成确定性 K 线。
type fakeSource struct {
	step  int64
	calls int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, req FetchRequest) (market.Series, error) {
	f.calls++
	var out market.Series
	for ts := req.Start; ts <= req.End && len(out) < req.Limit; ts += f.step {
		px := 100 + float64(ts%1000)
		out = append(out, market.Bar{Timestamp: ts, Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 5})
	}
	return out, nil
}

func TestManagerEnsureRangeSyncsMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	src := &fakeSource{step: 60_000}
	m := NewManager(store, src)

	bars, err := m.EnsureRange(context.Background(), "BTCUSDT", "1m", 60_000, 600_000)
	require.NoError(t, err)
	assert.Len(t, bars, 10)
	assert.Positive(t, src.calls)

	// 第二次命中本地，不再访问数据源。
	before := src.calls
	bars2, err := m.EnsureRange(context.Background(), "BTCUSDT", "1m", 60_000, 600_000)
	require.NoError(t, err)
	assert.Equal(t, bars, bars2)
	assert.Equal(t, before, src.calls)
}

func TestManagerEnsureRangeNoSourceNoData(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	m := NewManager(store, nil)
	_, err = m.EnsureRange(context.Background(), "BTCUSDT", "1m", 60_000, 600_000)
	assert.Error(t, err)
}

func TestManagerCoverage(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.InsertBars(ctx, "BTCUSDT", "1m", testBars(60_000, 60_000, 100, 101))
	require.NoError(t, err)

	m := NewManager(store, nil)
	have, want, err := m.Coverage(ctx, "BTCUSDT", "1m", 60_000, 300_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), have)
	assert.Equal(t, int64(5), want)
}

func TestManagerRejectsUnknownTimeframe(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	m := NewManager(store, nil)
	_, err = m.EnsureRange(context.Background(), "BTCUSDT", "2m", 60_000, 600_000)
	assert.Error(t, err)
}
