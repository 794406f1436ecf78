package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/engine"
	"backlab/internal/market"
)

func sampleInput() ChartInput {
	bars := make(market.Series, 10)
	equity := make([]engine.EquityPoint, 10)
	for i := range bars {
		px := 100 + float64(i)
		ts := int64(i+1) * 60_000
		bars[i] = market.Bar{Timestamp: ts, Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 10}
		equity[i] = engine.EquityPoint{Timestamp: ts, Equity: 10_000 + float64(i)*5}
	}
	return ChartInput{
		Title:  "ma_crossover BTCUSDT",
		Equity: equity,
		Trades: []engine.Trade{{
			Symbol: "BTCUSDT", Side: "long", Quantity: 9,
			EntryPrice: 102, EntryTime: 3 * 60_000,
			ExitPrice: 108, ExitTime: 9 * 60_000,
		}},
		Series: map[string]market.Series{"BTCUSDT": bars},
	}
}

func TestBuildHTML(t *testing.T) {
	html, err := BuildHTML(sampleInput())
	require.NoError(t, err)

	page := string(html)
	assert.Contains(t, page, "ma_crossover BTCUSDT equity")
	assert.Contains(t, page, "BTCUSDT")
	assert.Contains(t, page, "Entry")
	assert.Contains(t, page, "Exit")
	// 页面应包含资金曲线和 K 线两张图的容器。
	assert.GreaterOrEqual(t, strings.Count(page, "echarts.init"), 2)
}

func TestBuildHTMLRequiresEquity(t *testing.T) {
	input := sampleInput()
	input.Equity = nil
	_, err := BuildHTML(input)
	require.Error(t, err)
}

func TestBuildHTMLSkipsEmptySeries(t *testing.T) {
	input := sampleInput()
	input.Series["EMPTY"] = nil
	html, err := BuildHTML(input)
	require.NoError(t, err)
	assert.NotContains(t, string(html), "EMPTY")
}

func TestImageResultDataURI(t *testing.T) {
	var nilRes *ImageResult
	assert.Empty(t, nilRes.DataURI())

	res := &ImageResult{Base64: "aGk="}
	assert.Equal(t, "data:image/png;base64,aGk=", res.DataURI())
}
