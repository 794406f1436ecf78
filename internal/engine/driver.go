package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"backlab/internal/logger"
	"backlab/internal/market"
)

// ErrNoData 请求的 symbol/区间内没有任何 K 线，回测提前终止并返回空结果。
var ErrNoData = errors.New("no bars available")

// 驱动器状态，单向推进，不支持重试/续跑。
type driverState int

const (
	stateIdle driverState = iota
	stateRunning
	stateFinalizing
	stateDone
)

// DriverConfig 驱动一次回测所需的全部数值配置。
type DriverConfig struct {
	Strategy       string
	InitialCapital float64
	SizingPct      float64 // 每次开仓占用现金比例
	Ledger         LedgerConfig
	Risk           RiskLimits
}

// Driver 按合并后的多 symbol 时间轴逐个时间戳推进：记资金曲线、
// 派发信号、触发风控。Step 之间是协作式让出点，调用方可同步驱动，
// 也可交由宿主调度穿插其它任务；同一时间戳永远不会被并发处理。
type Driver struct {
	cfg      DriverConfig
	series   map[string]market.Series
	signals  map[string][]int
	symbols  []string
	timeline []int64

	state   driverState
	stepIdx int
	cursors map[string]int

	ledger *Ledger
	risk   *RiskMonitor
	equity []EquityPoint
}

// NewDriver 校验输入并构造驱动器。任一 symbol 没有数据即 ErrNoData；
// 信号序列必须与对应 K 线序列等长。
func NewDriver(cfg DriverConfig, series map[string]market.Series, signals map[string][]int) (*Driver, error) {
	if len(series) == 0 {
		return nil, ErrNoData
	}
	symbols := make([]string, 0, len(series))
	for sym, bars := range series {
		if len(bars) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoData, sym)
		}
		if sig, ok := signals[sym]; ok && len(sig) != len(bars) {
			return nil, fmt.Errorf("signal series for %s has %d values, want %d", sym, len(sig), len(bars))
		}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	d := &Driver{
		cfg:      cfg,
		series:   series,
		signals:  signals,
		symbols:  symbols,
		timeline: market.MergedTimestamps(series),
	}
	d.Reset()
	return d, nil
}

// Reset 重建账本并注入初始资金，回到时间轴起点。
func (d *Driver) Reset() {
	d.ledger = NewLedger(d.cfg.Ledger, d.cfg.InitialCapital)
	d.risk = NewRiskMonitor(d.ledger, d.cfg.Risk)
	d.equity = nil
	d.stepIdx = 0
	d.cursors = make(map[string]int, len(d.series))
	d.state = stateIdle
}

// Ledger 暴露账本只读访问（资金曲线之外的状态查询）。
func (d *Driver) Ledger() *Ledger { return d.ledger }

// Step 处理下一个时间戳，时间轴耗尽时返回 false。
func (d *Driver) Step() bool {
	if d.state == stateDone || d.state == stateFinalizing {
		return false
	}
	if d.stepIdx >= len(d.timeline) {
		return false
	}
	d.state = stateRunning
	ts := d.timeline[d.stepIdx]

	// 本时间戳各 symbol 的 K 线（缺席的 symbol 不参与本步）。
	bars := make(map[string]market.Bar, len(d.symbols))
	for _, sym := range d.symbols {
		cur := d.cursors[sym]
		s := d.series[sym]
		if cur < len(s) && s[cur].Timestamp == ts {
			bars[sym] = s[cur]
		}
	}

	// 权益 = 现金 + 本步有报价的持仓按 close 计的市值。
	// 本步缺报价的持仓不计入（已知近似，见结果中的资金曲线说明）。
	equity := d.ledger.Cash()
	for _, pos := range d.ledger.OpenPositions() {
		if bar, ok := bars[pos.Symbol]; ok {
			equity += pos.Quantity * bar.Close
		}
	}
	d.equity = append(d.equity, EquityPoint{Timestamp: ts, Equity: equity})

	for _, sym := range d.symbols {
		bar, ok := bars[sym]
		if !ok {
			continue
		}
		if sig := d.signalAt(sym); sig != 0 {
			d.dispatchSignal(sym, sig, bar, ts)
		}
		d.risk.Check(sym, bar.Close, ts)
	}

	for _, sym := range d.symbols {
		if _, ok := bars[sym]; ok {
			d.cursors[sym]++
		}
	}
	d.stepIdx++
	return true
}

func (d *Driver) signalAt(symbol string) int {
	sig, ok := d.signals[symbol]
	if !ok {
		return 0
	}
	return sig[d.cursors[symbol]]
}

// dispatchSignal 买入信号开多仓，卖出信号平掉现有仓位。
// 已有持仓时的买入、无持仓时的卖出均为良性 no-op。
func (d *Driver) dispatchSignal(symbol string, sig int, bar market.Bar, ts int64) {
	price := bar.Close
	if price <= 0 {
		logger.Debugf("skip non-positive price for %s at %d", symbol, ts)
		return
	}
	open := d.ledger.openPositionFor(symbol)
	switch {
	case sig > 0:
		if open != nil {
			return
		}
		qty := math.Floor(d.ledger.Cash() * d.cfg.SizingPct / price)
		if qty <= 0 {
			logger.Debugf("zero qty sized for %s at %d price=%v", symbol, ts, price)
			return
		}
		order := d.ledger.CreateOrder(symbol, qty, OrderMarket, Buy, 0, 0)
		d.ledger.ExecuteOrder(order, price, ts, d.trailingWindow(symbol, ts))
	case sig < 0:
		if open == nil {
			return
		}
		d.ledger.ClosePosition(open.ID, price, ts)
	}
}

func (d *Driver) trailingWindow(symbol string, ts int64) market.Series {
	return d.series[symbol].UpTo(ts)
}

// Run 同步驱动整个时间轴，时间戳之间检查宿主取消。
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	for d.Step() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return d.Finalize(), nil
}

// Finalize 平掉剩余持仓（按各自 symbol 最后一根 close），汇总结果。
func (d *Driver) Finalize() *Result {
	if d.state == stateDone {
		return d.buildResult()
	}
	d.state = stateFinalizing
	for _, pos := range d.ledger.OpenPositions() {
		s := d.series[pos.Symbol]
		last := s[len(s)-1]
		d.ledger.ClosePosition(pos.ID, last.Close, last.Timestamp)
	}
	d.state = stateDone
	return d.buildResult()
}

func (d *Driver) buildResult() *Result {
	closed := d.ledger.ClosedPositions()
	trades := make([]Trade, 0, len(closed))
	for _, p := range closed {
		trades = append(trades, tradeFromPosition(p))
	}
	var startTS, endTS int64
	if len(d.timeline) > 0 {
		startTS = d.timeline[0]
		endTS = d.timeline[len(d.timeline)-1]
	}
	res := &Result{
		Strategy:       d.cfg.Strategy,
		Symbols:        d.symbols,
		StartTS:        startTS,
		EndTS:          endTS,
		InitialCapital: d.cfg.InitialCapital,
		FinalCapital:   d.ledger.Cash(),
		EquityCurve:    d.equity,
		Trades:         trades,
	}
	res.Warnings = auditCash(d.cfg.InitialCapital, d.ledger)
	return res
}
