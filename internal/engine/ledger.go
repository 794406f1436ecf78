package engine

import (
	"backlab/internal/logger"
	"backlab/internal/market"
)

// LedgerConfig 账本参数。
type LedgerConfig struct {
	CommissionRate float64
	Slippage       SlippageModel
	SlippageRate   float64
	FillDelayMs    int64
}

// Ledger 持有一次回测的全部订单、持仓与现金。
// 现金只在成交时变动：买入扣 price*qty+comm，卖出加 price*qty-comm。
// 非线程安全：同一 run 内所有调用必须按时间戳顺序单线程进行。
type Ledger struct {
	commissionRate float64
	pricer         Pricer
	fillDelayMs    int64

	cash      float64
	orders    []*Order // 创建顺序
	positions []*Position // 创建顺序，含已平仓
	byID      map[string]*Position
	closed    []*Position
}

// NewLedger 构造账本并注入初始资金。
func NewLedger(cfg LedgerConfig, initialCash float64) *Ledger {
	return &Ledger{
		commissionRate: cfg.CommissionRate,
		pricer:         Pricer{Model: cfg.Slippage, Rate: cfg.SlippageRate},
		fillDelayMs:    cfg.FillDelayMs,
		cash:           initialCash,
		byID:           make(map[string]*Position),
	}
}

// Cash 当前现金。
func (l *Ledger) Cash() float64 { return l.cash }

// Orders 按创建顺序返回全部订单（含未成交）。
func (l *Ledger) Orders() []*Order { return l.orders }

// CreateOrder 纯构造，pending 状态，不动现金。
func (l *Ledger) CreateOrder(symbol string, qty float64, kind OrderKind, dir Direction, limitPrice float64, duration int) *Order {
	order := newOrder(symbol, qty, kind, dir, limitPrice, duration)
	l.orders = append(l.orders, order)
	return order
}

// ExecuteOrder 尝试成交。非 pending 或未触发时返回 nil（订单保持原状态）。
// 成交会写入订单的 fill 字段、变动现金并更新持仓（含零穿拆分）。
func (l *Ledger) ExecuteOrder(order *Order, price float64, ts int64, window market.Series) *Position {
	if order == nil || order.Status != StatusPending {
		return nil
	}
	execPrice, ok := l.pricer.DerivePrice(order, price, ts, window)
	if !ok {
		return nil
	}
	px := l.pricer.ApplySlippage(order, execPrice, window)
	comm := px * order.Quantity * l.commissionRate

	order.Status = StatusFilled
	order.FilledPrice = execPrice
	order.ExecPrice = px
	order.FilledAt = ts + l.fillDelayMs
	order.Commission = comm

	before := l.cash
	if order.Direction == Buy {
		l.cash -= px*order.Quantity + comm
	} else {
		l.cash += px*order.Quantity - comm
	}
	logger.Debugf("exec %s %s qty=%v px=%.4f comm=%.4f cash %.2f->%.2f",
		order.Direction, order.Symbol, order.Quantity, px, comm, before, l.cash)

	return l.updatePosition(order, px, order.FilledAt)
}

func (l *Ledger) updatePosition(order *Order, execPrice float64, ts int64) *Position {
	open := l.openPositionFor(order.Symbol)

	if open == nil {
		qty := order.Quantity
		if order.Direction == Sell {
			qty = -qty
		}
		if qty == 0 {
			logger.Debugf("skip zero-qty position for %s", order.Symbol)
			return nil
		}
		pos := newPosition(order.Symbol, qty, execPrice, ts)
		pos.attach(order)
		l.addPosition(pos)
		return pos
	}

	delta := order.Quantity
	if order.Direction == Sell {
		delta = -delta
	}
	newQty := open.Quantity + delta
	open.attach(order)

	switch {
	case sign(open.Quantity) != sign(newQty) && newQty != 0:
		// 零穿：旧仓按成交价平掉，剩余数量反向开新仓，同价同时刻。
		open.close(execPrice, ts)
		l.closed = append(l.closed, open)
		fresh := newPosition(order.Symbol, newQty, execPrice, ts)
		l.addPosition(fresh)
		logger.Debugf("zero-cross %s: closed qty=%v opened qty=%v", order.Symbol, open.Quantity, newQty)
		return fresh
	case newQty == 0:
		open.close(execPrice, ts)
		l.closed = append(l.closed, open)
		return nil
	default:
		open.Quantity = newQty
		return open
	}
}

// ClosePosition 以市价单反向平掉整个持仓。成功平仓返回原持仓对象。
func (l *Ledger) ClosePosition(positionID string, price float64, ts int64) *Position {
	pos, ok := l.byID[positionID]
	if !ok || !pos.IsOpen() {
		return nil
	}
	dir := Sell
	if pos.Quantity < 0 {
		dir = Buy
	}
	order := l.CreateOrder(pos.Symbol, abs(pos.Quantity), OrderMarket, dir, 0, 0)
	l.ExecuteOrder(order, price, ts, nil)
	if !pos.IsOpen() {
		return pos
	}
	return nil
}

// OpenPositions 按创建顺序返回当前未平仓持仓。
func (l *Ledger) OpenPositions() []*Position {
	var out []*Position
	for _, p := range l.positions {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// ClosedPositions 按平仓顺序返回已平仓持仓。
func (l *Ledger) ClosedPositions() []*Position { return l.closed }

func (l *Ledger) openPositionFor(symbol string) *Position {
	for _, p := range l.positions {
		if p.IsOpen() && p.Symbol == symbol {
			return p
		}
	}
	return nil
}

func (l *Ledger) addPosition(p *Position) {
	l.positions = append(l.positions, p)
	l.byID[p.ID] = p
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
