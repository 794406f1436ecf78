package data

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 周期定义：内部步长 + 数据源使用的 interval 字符串。
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute, SourceInterval: "1m"},
	"5m":  {Key: "5m", Duration: 5 * time.Minute, SourceInterval: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, SourceInterval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, SourceInterval: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, SourceInterval: "1h"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, SourceInterval: "4h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1d"},
}

// ParseTimeframe 标准化周期 key。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe: %s", input)
	}
	return tf, nil
}

// SupportedTimeframes 全部支持的 key（排序后）。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (tf Timeframe) stepMillis() int64 {
	return tf.Duration.Milliseconds()
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange 把毫秒时间戳对齐到周期网格，保证 start<=end。
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	step := tf.stepMillis()
	if end < start {
		start, end = end, start
	}
	alStart := alignDown(start, step)
	alEnd := alignDown(end, step)
	if alEnd < alStart {
		alEnd = alStart
	}
	return alStart, alEnd
}

// ExpectedBars start~end（含）区间按网格应有的 K 线数量。
func (tf Timeframe) ExpectedBars(start, end int64) int64 {
	if end < start {
		return 0
	}
	step := tf.stepMillis()
	if step == 0 {
		return 0
	}
	return ((end - start) / step) + 1
}
