package market

import "sort"

// Bar 一根 OHLCV K 线（毫秒时间戳）。
type Bar struct {
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Series 单个 symbol 的 K 线序列，约定按时间升序、无重复。
type Series []Bar

// Closes 提取收盘价序列。
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Volumes 提取成交量序列。
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Volume
	}
	return out
}

// Highs 提取最高价序列。
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.High
	}
	return out
}

// Lows 提取最低价序列。
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Low
	}
	return out
}

// UpTo 返回时间戳 <= ts 的前缀（依赖序列升序）。
func (s Series) UpTo(ts int64) Series {
	idx := sort.Search(len(s), func(i int) bool { return s[i].Timestamp > ts })
	return s[:idx]
}

// At 返回恰好等于 ts 的 K 线。
func (s Series) At(ts int64) (Bar, bool) {
	idx := sort.Search(len(s), func(i int) bool { return s[i].Timestamp >= ts })
	if idx < len(s) && s[idx].Timestamp == ts {
		return s[idx], true
	}
	return Bar{}, false
}

// MergedTimestamps 合并多 symbol 时间轴，返回去重后的升序时间戳。
func MergedTimestamps(series map[string]Series) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, s := range series {
		for _, b := range s {
			if _, ok := seen[b.Timestamp]; ok {
				continue
			}
			seen[b.Timestamp] = struct{}{}
			out = append(out, b.Timestamp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
