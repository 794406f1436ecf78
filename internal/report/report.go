// Package report 用 go-echarts 渲染回测报告：资金曲线 + 各 symbol 的
// K 线与成交标记，可选经 headless chrome 导出 PNG。
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"backlab/internal/engine"
	"backlab/internal/market"
)

const (
	colorBackground  = "#060c1b"
	colorTextPrimary = "#eceff4"
	colorTextMuted   = "#9ca3af"
	colorBull        = "#34d399"
	colorBear        = "#f87171"
	colorEquity      = "#3b82f6"

	chartWidthPx   = 1400
	equityHeightPx = 420
	klineHeightPx  = 520
)

// ChartInput 一份报告需要的全部数据。
type ChartInput struct {
	Title  string
	Equity []engine.EquityPoint
	Trades []engine.Trade
	Series map[string]market.Series
}

// ImageResult PNG 渲染产物。
type ImageResult struct {
	Bytes    []byte `json:"-"`
	Base64   string `json:"base64"`
	Filename string `json:"filename"`
}

func (r *ImageResult) DataURI() string {
	if r == nil || r.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + r.Base64
}

// BuildHTML 组装完整报告页面。
func BuildHTML(input ChartInput) ([]byte, error) {
	if len(input.Equity) == 0 {
		return nil, fmt.Errorf("equity curve required")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(buildEquityChart(input))

	symbols := make([]string, 0, len(input.Series))
	for sym := range input.Series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		bars := input.Series[sym]
		if len(bars) == 0 {
			continue
		}
		page.AddCharts(buildSymbolChart(sym, bars, input.Trades))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderPNG 把报告渲染成截图。依赖本机可用的 chrome/chromium。
func RenderPNG(ctx context.Context, input ChartInput) (ImageResult, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return ImageResult{}, err
	}
	html, err := BuildHTML(input)
	if err != nil {
		return ImageResult{}, err
	}
	height := equityHeightPx + len(input.Series)*klineHeightPx
	if height < 520 {
		height = 520
	}
	png, err := renderHTMLToPNG(ctx, html, chartWidthPx, height)
	if err != nil {
		return ImageResult{}, err
	}
	name := strings.ToLower(strings.ReplaceAll(input.Title, " ", "_"))
	if name == "" {
		name = "backtest"
	}
	return ImageResult{
		Bytes:    png,
		Base64:   base64.StdEncoding.EncodeToString(png),
		Filename: name + ".png",
	}, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 首次调用时探测 headless chrome 是否可用。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func buildEquityChart(input ChartInput) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("%s equity", input.Title),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextMuted},
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextMuted},
		}),
	)

	x := make([]string, len(input.Equity))
	data := make([]opts.LineData, len(input.Equity))
	for i, pt := range input.Equity {
		x[i] = formatTS(pt.Timestamp)
		data[i] = opts.LineData{Value: round(pt.Equity, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildSymbolChart(symbol string, bars market.Series, trades []engine.Trade) *charts.Kline {
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      symbol,
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 16},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextMuted},
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextMuted},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	x := make([]string, len(bars))
	data := make([]opts.KlineData, len(bars))
	index := make(map[int64]int, len(bars))
	for i, b := range bars {
		x[i] = formatTS(b.Timestamp)
		data[i] = opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}}
		index[b.Timestamp] = i
	}
	kline.SetXAxis(x)
	kline.AddSeries("Price", data)

	// 成交标记：入场绿色、出场红色散点。
	entries := make([]opts.ScatterData, 0)
	exits := make([]opts.ScatterData, 0)
	for _, tr := range trades {
		if tr.Symbol != symbol {
			continue
		}
		if i, ok := index[tr.EntryTime]; ok {
			entries = append(entries, opts.ScatterData{Value: []any{x[i], round(tr.EntryPrice, 4)}})
		}
		if i, ok := index[tr.ExitTime]; ok {
			exits = append(exits, opts.ScatterData{Value: []any{x[i], round(tr.ExitPrice, 4)}})
		}
	}
	if len(entries) > 0 || len(exits) > 0 {
		scatter := charts.NewScatter()
		scatter.SetXAxis(x)
		scatter.AddSeries("Entry", entries, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBull}))
		scatter.AddSeries("Exit", exits, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBear}))
		kline.Overlap(scatter)
	}
	return kline
}

func formatTS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("01-02 15:04")
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
