package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/data"
	"backlab/internal/market"
)

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) SendText(text string) error {
	n.messages = append(n.messages, text)
	return nil
}

func newTestService(t *testing.T, notifier Notifier) (*Service, *data.Store) {
	t.Helper()
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	results, err := NewResultStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { results.Close() })

	svc, err := New(Config{
		DataManager:   data.NewManager(store, nil),
		ResultStore:   results,
		Notifier:      notifier,
		MaxConcurrent: 1,
	})
	require.NoError(t, err)
	return svc, store
}

func seedBars(t *testing.T, store *data.Store, symbol string, n int) {
	t.Helper()
	bars := make(market.Series, n)
	for i := range bars {
		px := 100 + float64(i)
		bars[i] = market.Bar{
			Timestamp: int64(i+1) * 60_000,
			Open:      px, High: px + 1, Low: px - 1, Close: px,
			Volume: 10,
		}
	}
	_, err := store.InsertBars(context.Background(), symbol, "1m", bars)
	require.NoError(t, err)
}

func baseRequest() RunRequest {
	return RunRequest{
		Strategy:  "ma_crossover",
		Params:    map[string]any{"fast": 2, "slow": 3},
		Symbols:   []string{"btcusdt"},
		Timeframe: "1m",
		StartTS:   60_000,
		EndTS:     60 * 60_000,
	}
}

func TestStartRunCompletes(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store := newTestService(t, notifier)
	seedBars(t, store, "BTCUSDT", 60)

	run, err := svc.StartRun(baseRequest())
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)
	assert.Equal(t, []string{"BTCUSDT"}, run.Symbols, "symbols are normalized to upper case")
	assert.Equal(t, "ma_crossover_2_3", run.Strategy)

	svc.Wait()

	done, err := svc.Results().GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, done.Status)
	assert.Positive(t, done.FinalCapital)
	assert.Equal(t, 0.001, done.Config.CommissionRate, "defaults applied")

	equity, err := svc.Results().ListEquity(context.Background(), run.ID, 0)
	require.NoError(t, err)
	assert.Len(t, equity, 60)

	// 单边上涨行情：金叉开仓后不再死叉，收尾强平产生一笔成交。
	trades, err := svc.Results().ListTrades(context.Background(), run.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, trades)
	assert.Equal(t, "BTCUSDT", trades[0].Symbol)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "done")
}

func TestStartRunValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)

	t.Run("unknown strategy fails synchronously", func(t *testing.T) {
		req := baseRequest()
		req.Strategy = "nope"
		_, err := svc.StartRun(req)
		require.Error(t, err)
	})

	t.Run("empty symbols", func(t *testing.T) {
		req := baseRequest()
		req.Symbols = nil
		_, err := svc.StartRun(req)
		require.Error(t, err)
	})

	t.Run("bad timeframe", func(t *testing.T) {
		req := baseRequest()
		req.Timeframe = "2m"
		_, err := svc.StartRun(req)
		require.Error(t, err)
	})

	t.Run("bad slippage model", func(t *testing.T) {
		req := baseRequest()
		req.SlippageModel = "chaotic"
		_, err := svc.StartRun(req)
		require.Error(t, err)
	})

	t.Run("bad range", func(t *testing.T) {
		req := baseRequest()
		req.StartTS = 120_000
		req.EndTS = 60_000
		_, err := svc.StartRun(req)
		require.Error(t, err)
	})
}

func TestStartRunMissingDataFailsRun(t *testing.T) {
	svc, _ := newTestService(t, nil)

	run, err := svc.StartRun(baseRequest())
	require.NoError(t, err)
	svc.Wait()

	failed, err := svc.Results().GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Message)
}

func TestResultStoreRoundTrip(t *testing.T) {
	results, err := NewResultStore(t.TempDir())
	require.NoError(t, err)
	defer results.Close()

	ctx := context.Background()
	run := Run{
		ID:             "run-1",
		Status:         RunStatusPending,
		Strategy:       "ma_crossover_2_3",
		Symbols:        []string{"BTCUSDT", "ETHUSDT"},
		Timeframe:      "1m",
		StartTS:        60_000,
		EndTS:          600_000,
		InitialCapital: 10_000,
		Config:         RunConfig{Strategy: "ma_crossover", Timeframe: "1m"},
	}
	require.NoError(t, results.InsertRun(ctx, run))

	got, err := results.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.Symbols, got.Symbols)
	assert.Equal(t, "ma_crossover", got.Config.Strategy)
	assert.False(t, got.CreatedAt.IsZero())
	assert.True(t, got.CompletedAt.IsZero())

	require.NoError(t, results.UpdateRunStatus(ctx, "run-1", RunStatusFailed, "boom"))
	got, err = results.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Message)
	assert.False(t, got.CompletedAt.IsZero())

	runs, err := results.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = results.GetRun(ctx, "missing")
	assert.Error(t, err)
}

func TestServiceWaitIsIdempotent(t *testing.T) {
	svc, store := newTestService(t, nil)
	seedBars(t, store, "BTCUSDT", 60)

	_, err := svc.StartRun(baseRequest())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		svc.Wait()
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("wait did not return")
	}
}
