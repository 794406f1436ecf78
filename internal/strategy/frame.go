package strategy

import "backlab/internal/market"

// Frame 一次评估的指标帧：原始 K 线加上与其逐根对齐的指标列。
// 指标暖启动段的值为 0（与 TALib 输出一致），列长度恒等于 K 线数。
type Frame struct {
	Bars    market.Series
	columns map[string][]float64
}

func newFrame(bars market.Series) *Frame {
	return &Frame{Bars: bars, columns: make(map[string][]float64)}
}

// Column 按名称取指标列。
func (f *Frame) Column(name string) ([]float64, bool) {
	col, ok := f.columns[name]
	return col, ok
}

// ColumnNames 已有的全部指标列名。
func (f *Frame) ColumnNames() []string {
	names := make([]string, 0, len(f.columns))
	for name := range f.columns {
		names = append(names, name)
	}
	return names
}

func (f *Frame) set(name string, values []float64) {
	f.columns[name] = values
}

// priceColumn 解析 K 线自带的价格/成交量字段。
func (f *Frame) priceColumn(name string) ([]float64, bool) {
	switch name {
	case "open":
		out := make([]float64, len(f.Bars))
		for i, b := range f.Bars {
			out[i] = b.Open
		}
		return out, true
	case "high":
		return f.Bars.Highs(), true
	case "low":
		return f.Bars.Lows(), true
	case "close":
		return f.Bars.Closes(), true
	case "volume":
		return f.Bars.Volumes(), true
	}
	return nil, false
}

// series 先查指标列，再回落到价格字段。
func (f *Frame) series(ref string) ([]float64, bool) {
	if col, ok := f.Column(ref); ok {
		return col, true
	}
	return f.priceColumn(ref)
}
