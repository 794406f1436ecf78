package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"backlab/internal/market"
)

// MovingAverageCrossover 快慢均线交叉：金叉买入，死叉卖出。
type MovingAverageCrossover struct {
	Fast int `mapstructure:"fast"`
	Slow int `mapstructure:"slow"`
}

func NewMovingAverageCrossover(params map[string]any) (Strategy, error) {
	s := &MovingAverageCrossover{Fast: 10, Slow: 30}
	if err := decodeParams(params, s); err != nil {
		return nil, err
	}
	if s.Fast <= 0 || s.Slow <= 0 {
		return nil, configErrf("ma_crossover: periods must be positive, got fast=%d slow=%d", s.Fast, s.Slow)
	}
	if s.Fast >= s.Slow {
		return nil, configErrf("ma_crossover: fast period %d must be below slow period %d", s.Fast, s.Slow)
	}
	return s, nil
}

func (s *MovingAverageCrossover) Name() string {
	return fmt.Sprintf("ma_crossover_%d_%d", s.Fast, s.Slow)
}

func (s *MovingAverageCrossover) Evaluate(bars market.Series) (*Frame, []int, error) {
	f := newFrame(bars)
	closes := bars.Closes()
	fast := talib.Sma(closes, s.Fast)
	slow := talib.Sma(closes, s.Slow)
	f.set(fmt.Sprintf("sma_%d", s.Fast), fast)
	f.set(fmt.Sprintf("sma_%d", s.Slow), slow)

	signals := crossoverSignals(fast, slow, s.Slow-1)
	return f, signals, nil
}

// RSIMeanReversion 超卖买入、超买卖出。暖启动段 RSI 为 0，
// 会落在超卖区并产生买入信号，与历史行为保持一致。
type RSIMeanReversion struct {
	Period     int     `mapstructure:"period"`
	Oversold   float64 `mapstructure:"oversold"`
	Overbought float64 `mapstructure:"overbought"`
}

func NewRSIMeanReversion(params map[string]any) (Strategy, error) {
	s := &RSIMeanReversion{Period: 14, Oversold: 30, Overbought: 70}
	if err := decodeParams(params, s); err != nil {
		return nil, err
	}
	if s.Period <= 0 {
		return nil, configErrf("rsi_reversion: period must be positive, got %d", s.Period)
	}
	if s.Oversold >= s.Overbought {
		return nil, configErrf("rsi_reversion: oversold %.1f must be below overbought %.1f", s.Oversold, s.Overbought)
	}
	return s, nil
}

func (s *RSIMeanReversion) Name() string {
	return fmt.Sprintf("rsi_reversion_%d", s.Period)
}

func (s *RSIMeanReversion) Evaluate(bars market.Series) (*Frame, []int, error) {
	f := newFrame(bars)
	rsi := talib.Rsi(bars.Closes(), s.Period)
	f.set(fmt.Sprintf("rsi_%d", s.Period), rsi)

	signals := make([]int, len(rsi))
	for i, v := range rsi {
		switch {
		case v < s.Oversold:
			signals[i] = SignalBuy
		case v > s.Overbought:
			signals[i] = SignalSell
		}
	}
	return f, signals, nil
}

// MACDCrossover MACD 线上穿信号线买入，下穿卖出。
type MACDCrossover struct {
	Fast   int `mapstructure:"fast"`
	Slow   int `mapstructure:"slow"`
	Signal int `mapstructure:"signal"`
}

func NewMACDCrossover(params map[string]any) (Strategy, error) {
	s := &MACDCrossover{Fast: 12, Slow: 26, Signal: 9}
	if err := decodeParams(params, s); err != nil {
		return nil, err
	}
	if s.Fast <= 0 || s.Slow <= 0 || s.Signal <= 0 {
		return nil, configErrf("macd_crossover: periods must be positive")
	}
	if s.Fast >= s.Slow {
		return nil, configErrf("macd_crossover: fast period %d must be below slow period %d", s.Fast, s.Slow)
	}
	return s, nil
}

func (s *MACDCrossover) Name() string {
	return fmt.Sprintf("macd_crossover_%d_%d_%d", s.Fast, s.Slow, s.Signal)
}

func (s *MACDCrossover) Evaluate(bars market.Series) (*Frame, []int, error) {
	f := newFrame(bars)
	macd, sig, hist := talib.Macd(bars.Closes(), s.Fast, s.Slow, s.Signal)
	f.set("macd", macd)
	f.set("macd_signal", sig)
	f.set("macd_hist", hist)

	signals := crossoverSignals(macd, sig, s.Slow+s.Signal-2)
	return f, signals, nil
}

// crossoverSignals 状态差分法产出交叉信号：warmup 之前状态视为 0，
// 上穿得 +1，下穿得 -1。首个有效状态若已在上方也会产出一次买入。
func crossoverSignals(fast, slow []float64, warmup int) []int {
	n := len(fast)
	if len(slow) < n {
		n = len(slow)
	}
	signals := make([]int, n)
	prev := 0
	for i := warmup; i < n; i++ {
		state := 0
		if fast[i] > slow[i] {
			state = 1
		}
		if d := state - prev; d != 0 {
			if d > 0 {
				signals[i] = SignalBuy
			} else {
				signals[i] = SignalSell
			}
		}
		prev = state
	}
	return signals
}
