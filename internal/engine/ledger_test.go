package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(cash float64) *Ledger {
	return NewLedger(LedgerConfig{
		CommissionRate: 0.001,
		Slippage:       SlippageFixed,
		SlippageRate:   0,
		FillDelayMs:    50,
	}, cash)
}

func TestExecuteOrderCashFlow(t *testing.T) {
	l := newTestLedger(10_000)

	buy := l.CreateOrder("BTCUSDT", 10, OrderMarket, Buy, 0, 0)
	assert.Equal(t, 10_000.0, l.Cash(), "creating an order must not touch cash")

	pos := l.ExecuteOrder(buy, 100, 1_000, nil)
	require.NotNil(t, pos)
	assert.Equal(t, StatusFilled, buy.Status)
	assert.Equal(t, int64(1_050), buy.FilledAt)
	assert.InDelta(t, 1.0, buy.Commission, 1e-9) // 100*10*0.001
	assert.InDelta(t, 10_000-1_000-1, l.Cash(), 1e-9)

	sell := l.CreateOrder("BTCUSDT", 10, OrderMarket, Sell, 0, 0)
	l.ExecuteOrder(sell, 110, 2_000, nil)
	assert.InDelta(t, 8_999+1_100-1.1, l.Cash(), 1e-9)
	assert.False(t, pos.IsOpen())
	require.Len(t, l.ClosedPositions(), 1)
	assert.InDelta(t, 100-2.1, pos.PnL(), 1e-9)
}

func TestExecuteOrderIdempotent(t *testing.T) {
	l := newTestLedger(10_000)
	buy := l.CreateOrder("BTCUSDT", 5, OrderMarket, Buy, 0, 0)
	require.NotNil(t, l.ExecuteOrder(buy, 100, 1_000, nil))
	cash := l.Cash()

	// 已成交订单再执行是 no-op。
	assert.Nil(t, l.ExecuteOrder(buy, 200, 2_000, nil))
	assert.Equal(t, cash, l.Cash())
	assert.Nil(t, l.ExecuteOrder(nil, 100, 1_000, nil))
}

func TestPendingLimitOrderLeavesStateUntouched(t *testing.T) {
	l := newTestLedger(10_000)
	buy := l.CreateOrder("BTCUSDT", 5, OrderLimit, Buy, 90, 0)

	assert.Nil(t, l.ExecuteOrder(buy, 100, 1_000, nil))
	assert.Equal(t, StatusPending, buy.Status)
	assert.Equal(t, 10_000.0, l.Cash())
	assert.Empty(t, l.OpenPositions())

	// 价格触及后同一订单可成交。
	pos := l.ExecuteOrder(buy, 89, 2_000, nil)
	require.NotNil(t, pos)
	assert.Equal(t, 90.0, pos.EntryPrice)
}

func TestZeroCrossSplitsPosition(t *testing.T) {
	l := newTestLedger(100_000)

	buy := l.CreateOrder("ETHUSDT", 10, OrderMarket, Buy, 0, 0)
	long := l.ExecuteOrder(buy, 100, 1_000, nil)
	require.NotNil(t, long)

	sell := l.CreateOrder("ETHUSDT", 15, OrderMarket, Sell, 0, 0)
	short := l.ExecuteOrder(sell, 120, 2_000, nil)
	require.NotNil(t, short)

	// 旧多仓按成交价平掉，剩余 5 手反向开空，同价同时刻。
	assert.False(t, long.IsOpen())
	assert.Equal(t, 120.0, long.ExitPrice)
	assert.Equal(t, -5.0, short.Quantity)
	assert.Equal(t, 120.0, short.EntryPrice)
	assert.Equal(t, long.ExitTime, short.EntryTime)

	opens := l.OpenPositions()
	require.Len(t, opens, 1)
	assert.Same(t, short, opens[0])
}

func TestExactOffsetClosesWithoutResidual(t *testing.T) {
	l := newTestLedger(100_000)
	buy := l.CreateOrder("ETHUSDT", 10, OrderMarket, Buy, 0, 0)
	pos := l.ExecuteOrder(buy, 100, 1_000, nil)
	require.NotNil(t, pos)

	sell := l.CreateOrder("ETHUSDT", 10, OrderMarket, Sell, 0, 0)
	assert.Nil(t, l.ExecuteOrder(sell, 105, 2_000, nil))
	assert.False(t, pos.IsOpen())
	assert.Empty(t, l.OpenPositions())
}

func TestClosePosition(t *testing.T) {
	l := newTestLedger(100_000)
	buy := l.CreateOrder("BTCUSDT", 3, OrderMarket, Buy, 0, 0)
	pos := l.ExecuteOrder(buy, 100, 1_000, nil)
	require.NotNil(t, pos)

	closed := l.ClosePosition(pos.ID, 110, 2_000)
	require.NotNil(t, closed)
	assert.Same(t, pos, closed)
	assert.False(t, pos.IsOpen())
	// 平仓通过一张反向市价单完成，订单留痕。
	require.Len(t, l.Orders(), 2)
	assert.Equal(t, Sell, l.Orders()[1].Direction)

	// 未知 ID、已平仓位均为 no-op。
	assert.Nil(t, l.ClosePosition("no-such-id", 110, 2_000))
	assert.Nil(t, l.ClosePosition(pos.ID, 110, 2_000))
}

func TestClosePositionShortSide(t *testing.T) {
	l := newTestLedger(100_000)
	sell := l.CreateOrder("BTCUSDT", 4, OrderMarket, Sell, 0, 0)
	pos := l.ExecuteOrder(sell, 100, 1_000, nil)
	require.NotNil(t, pos)
	assert.Equal(t, -4.0, pos.Quantity)

	closed := l.ClosePosition(pos.ID, 90, 2_000)
	require.NotNil(t, closed)
	// 空头以低价回补获利：(100-90)*4 减去两笔手续费。
	assert.InDelta(t, 40-(0.4+0.36), closed.PnL(), 1e-9)
}

func TestAtMostOneOpenPositionPerSymbol(t *testing.T) {
	l := newTestLedger(100_000)
	for i := 0; i < 3; i++ {
		o := l.CreateOrder("BTCUSDT", 1, OrderMarket, Buy, 0, 0)
		l.ExecuteOrder(o, 100, int64(1_000+i), nil)
	}
	opens := l.OpenPositions()
	require.Len(t, opens, 1)
	assert.Equal(t, 3.0, opens[0].Quantity, "repeat buys accumulate into the same position")
}
