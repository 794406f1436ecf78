package engine

import "math"

// EquityPoint 资金曲线上的一个点。
type EquityPoint struct {
	Timestamp int64   `json:"ts"`
	Equity    float64 `json:"equity"`
}

// Trade 已平仓持仓的展开视图，供前端/统计使用。
type Trade struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	EntryTime     int64   `json:"entry_time"`
	ExitPrice     float64 `json:"exit_price"`
	ExitTime      int64   `json:"exit_time"`
	Commission    float64 `json:"commission"`
	PnL           float64 `json:"pnl"`
	ReturnPct     float64 `json:"return_pct"`
	EntryNotional float64 `json:"entry_notional"`
	ExitNotional  float64 `json:"exit_notional"`
}

// Result 一次回测的完整产出。
type Result struct {
	Strategy       string        `json:"strategy"`
	Symbols        []string      `json:"symbols"`
	StartTS        int64         `json:"start_ts"`
	EndTS          int64         `json:"end_ts"`
	InitialCapital float64       `json:"initial_capital"`
	FinalCapital   float64       `json:"final_capital"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	Trades         []Trade       `json:"trades"`
	Warnings       []string      `json:"warnings,omitempty"`
}

func tradeFromPosition(p *Position) Trade {
	qty := math.Abs(p.Quantity)
	return Trade{
		Symbol:        p.Symbol,
		Side:          p.Side(),
		Quantity:      p.Quantity,
		EntryPrice:    p.EntryPrice,
		EntryTime:     p.EntryTime,
		ExitPrice:     p.ExitPrice,
		ExitTime:      p.ExitTime,
		Commission:    p.Commission,
		PnL:           p.PnL(),
		ReturnPct:     p.Return(),
		EntryNotional: qty * p.EntryPrice,
		ExitNotional:  qty * p.ExitPrice,
	}
}
