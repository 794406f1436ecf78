package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/market"
)

func barsFromCloses(start int64, closes []float64, volumes []float64) market.Series {
	s := make(market.Series, len(closes))
	for i, c := range closes {
		vol := 100.0
		if volumes != nil {
			vol = volumes[i]
		}
		s[i] = market.Bar{
			Timestamp: start + int64(i)*60_000,
			Open:      c, High: c, Low: c, Close: c,
			Volume: vol,
		}
	}
	return s
}

func TestDerivePriceMarket(t *testing.T) {
	p := Pricer{}
	order := newOrder("BTCUSDT", 1, OrderMarket, Buy, 0, 0)
	px, ok := p.DerivePrice(order, 123.45, 1000, nil)
	require.True(t, ok)
	assert.Equal(t, 123.45, px)
}

func TestDerivePriceLimit(t *testing.T) {
	p := Pricer{}

	buy := newOrder("BTCUSDT", 1, OrderLimit, Buy, 100, 0)
	_, ok := p.DerivePrice(buy, 105, 0, nil)
	assert.False(t, ok, "buy limit above market must stay pending")
	px, ok := p.DerivePrice(buy, 99, 0, nil)
	require.True(t, ok)
	assert.Equal(t, 100.0, px, "limit orders fill at the limit price")

	sell := newOrder("BTCUSDT", 1, OrderLimit, Sell, 100, 0)
	_, ok = p.DerivePrice(sell, 95, 0, nil)
	assert.False(t, ok)
	px, ok = p.DerivePrice(sell, 101, 0, nil)
	require.True(t, ok)
	assert.Equal(t, 100.0, px)
}

func TestDerivePriceStop(t *testing.T) {
	p := Pricer{}

	buy := newOrder("BTCUSDT", 1, OrderStop, Buy, 100, 0)
	_, ok := p.DerivePrice(buy, 99, 0, nil)
	assert.False(t, ok)
	px, ok := p.DerivePrice(buy, 102, 0, nil)
	require.True(t, ok)
	assert.Equal(t, 102.0, px, "stop orders fill at the trigger bar close")

	sell := newOrder("BTCUSDT", 1, OrderStop, Sell, 100, 0)
	_, ok = p.DerivePrice(sell, 101, 0, nil)
	assert.False(t, ok)
	px, ok = p.DerivePrice(sell, 98, 0, nil)
	require.True(t, ok)
	assert.Equal(t, 98.0, px)
}

func TestDeriveTWAPAndVWAP(t *testing.T) {
	p := Pricer{}
	window := barsFromCloses(0, []float64{10, 11, 12, 13, 14}, nil)
	ts := window[len(window)-1].Timestamp

	twap := newOrder("BTCUSDT", 1, OrderTWAP, Buy, 0, 5)
	px, ok := p.DerivePrice(twap, 14, ts, window)
	require.True(t, ok)
	assert.InDelta(t, 12.0, px, 1e-9)

	// 等量成交时 VWAP 与 TWAP 一致。
	vwap := newOrder("BTCUSDT", 1, OrderVWAP, Buy, 0, 5)
	px, ok = p.DerivePrice(vwap, 14, ts, window)
	require.True(t, ok)
	assert.InDelta(t, 12.0, px, 1e-9)

	// 末根放量后 VWAP 向末根价格偏移。
	heavy := barsFromCloses(0, []float64{10, 11, 12, 13, 14}, []float64{100, 100, 100, 100, 500})
	px, ok = p.DerivePrice(vwap, 14, ts, heavy)
	require.True(t, ok)
	assert.InDelta(t, 11600.0/900.0, px, 1e-9)
	assert.Greater(t, px, 12.0)

	// 没有窗口或 duration 时保持 pending。
	_, ok = p.DerivePrice(vwap, 14, ts, nil)
	assert.False(t, ok)
	zero := newOrder("BTCUSDT", 1, OrderVWAP, Buy, 0, 0)
	_, ok = p.DerivePrice(zero, 14, ts, window)
	assert.False(t, ok)
}

func TestApplySlippageDirection(t *testing.T) {
	buy := newOrder("BTCUSDT", 1, OrderMarket, Buy, 0, 0)
	sell := newOrder("BTCUSDT", 1, OrderMarket, Sell, 0, 0)

	fixed := Pricer{Model: SlippageFixed, Rate: 0.5}
	assert.Equal(t, 100.5, fixed.ApplySlippage(buy, 100, nil))
	assert.Equal(t, 99.5, fixed.ApplySlippage(sell, 100, nil))

	pct := Pricer{Model: SlippagePercentage, Rate: 0.001}
	assert.InDelta(t, 100.1, pct.ApplySlippage(buy, 100, nil), 1e-9)
	assert.InDelta(t, 99.9, pct.ApplySlippage(sell, 100, nil), 1e-9)
}

func TestApplySlippageVolatility(t *testing.T) {
	p := Pricer{Model: SlippageVolatility, Rate: 1}

	buy := newOrder("BTCUSDT", 1, OrderMarket, Buy, 0, 0)

	// 窗口不足时不调整。
	short := barsFromCloses(0, []float64{100, 101, 102}, nil)
	assert.Equal(t, 100.0, p.ApplySlippage(buy, 100, short))
	assert.Equal(t, 100.0, p.ApplySlippage(buy, 100, nil))

	// 波动窗口填满后买入价上移。
	closes := make([]float64, volatilityWindow+1)
	for i := range closes {
		closes[i] = 100 + float64(i%2)*5 // 来回震荡制造非零波动率
	}
	window := barsFromCloses(0, closes, nil)
	slipped := p.ApplySlippage(buy, 100, window)
	assert.Greater(t, slipped, 100.0)

	sell := newOrder("BTCUSDT", 1, OrderMarket, Sell, 0, 0)
	assert.Less(t, p.ApplySlippage(sell, 100, window), 100.0)
}

func TestRollingReturnStdDev(t *testing.T) {
	// 常数序列收益率恒为零，标准差为零。
	flat := make([]float64, volatilityWindow+1)
	for i := range flat {
		flat[i] = 50
	}
	sd, ok := rollingReturnStdDev(flat, volatilityWindow)
	require.True(t, ok)
	assert.Zero(t, sd)

	_, ok = rollingReturnStdDev(flat[:volatilityWindow], volatilityWindow)
	assert.False(t, ok)
}
