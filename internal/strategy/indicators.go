package strategy

import (
	"strings"

	"github.com/markcheno/go-talib"

	"backlab/internal/market"
)

// IndicatorDecl 可组合策略里的一条指标声明。ID 是规则引用名，
// 一个声明可能派生多列（macd 额外输出 <id>_signal 与 <id>_hist）。
type IndicatorDecl struct {
	ID     string `json:"id" yaml:"id" mapstructure:"id"`
	Kind   string `json:"kind" yaml:"kind" mapstructure:"kind"`
	Period int    `json:"period,omitempty" yaml:"period,omitempty" mapstructure:"period"`
	Fast   int    `json:"fast,omitempty" yaml:"fast,omitempty" mapstructure:"fast"`
	Slow   int    `json:"slow,omitempty" yaml:"slow,omitempty" mapstructure:"slow"`
	Signal int    `json:"signal,omitempty" yaml:"signal,omitempty" mapstructure:"signal"`
}

// 支持的指标种类。TALib 输出的暖启动段为 0，列不做裁剪以保持对齐。
func computeIndicator(f *Frame, decl IndicatorDecl) error {
	closes := f.Bars.Closes()
	kind := strings.ToLower(strings.TrimSpace(decl.Kind))
	switch kind {
	case "sma":
		if decl.Period <= 0 {
			return configErrf("indicator %q: sma requires period > 0", decl.ID)
		}
		f.set(decl.ID, talib.Sma(closes, decl.Period))
	case "ema":
		if decl.Period <= 0 {
			return configErrf("indicator %q: ema requires period > 0", decl.ID)
		}
		f.set(decl.ID, talib.Ema(closes, decl.Period))
	case "rsi":
		if decl.Period <= 0 {
			return configErrf("indicator %q: rsi requires period > 0", decl.ID)
		}
		f.set(decl.ID, talib.Rsi(closes, decl.Period))
	case "atr":
		if decl.Period <= 0 {
			return configErrf("indicator %q: atr requires period > 0", decl.ID)
		}
		f.set(decl.ID, talib.Atr(f.Bars.Highs(), f.Bars.Lows(), closes, decl.Period))
	case "macd":
		fast, slow, signal := decl.Fast, decl.Slow, decl.Signal
		if fast <= 0 {
			fast = 12
		}
		if slow <= 0 {
			slow = 26
		}
		if signal <= 0 {
			signal = 9
		}
		if fast >= slow {
			return configErrf("indicator %q: macd fast (%d) must be below slow (%d)", decl.ID, fast, slow)
		}
		macd, sig, hist := talib.Macd(closes, fast, slow, signal)
		f.set(decl.ID, macd)
		f.set(decl.ID+"_signal", sig)
		f.set(decl.ID+"_hist", hist)
	default:
		return configErrf("indicator %q: unknown kind %q", decl.ID, decl.Kind)
	}
	return nil
}

// buildFrame 计算全部声明，重复 ID 视为配置错误。
func buildFrame(bars market.Series, decls []IndicatorDecl) (*Frame, error) {
	f := newFrame(bars)
	seen := make(map[string]struct{}, len(decls))
	for _, decl := range decls {
		id := strings.TrimSpace(decl.ID)
		if id == "" {
			return nil, configErrf("indicator declaration missing id")
		}
		if _, dup := seen[id]; dup {
			return nil, configErrf("duplicate indicator id %q", id)
		}
		if _, clash := f.priceColumn(id); clash {
			return nil, configErrf("indicator id %q shadows a price column", id)
		}
		seen[id] = struct{}{}
		decl.ID = id
		if err := computeIndicator(f, decl); err != nil {
			return nil, err
		}
	}
	return f, nil
}
