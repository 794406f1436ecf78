package engine

import (
	"math"

	"github.com/google/uuid"
)

// OrderKind 订单类型。
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
	OrderStop   OrderKind = "stop"
	OrderTWAP   OrderKind = "twap"
	OrderVWAP   OrderKind = "vwap"
)

// Direction 买卖方向。
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// OrderStatus 订单生命周期状态。
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// Order 一笔模拟订单。Quantity 恒为正，方向单独记录；
// 成交后仅 Status/FilledPrice/FilledAt/Commission 被写入一次。
type Order struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Quantity   float64     `json:"quantity"`
	Kind       OrderKind   `json:"kind"`
	Direction  Direction   `json:"direction"`
	LimitPrice float64     `json:"limit_price,omitempty"` // limit/stop 触发价，0 表示未设置
	Duration   int         `json:"duration,omitempty"`    // twap/vwap 回看的 K 线数量
	Status     OrderStatus `json:"status"`
	FilledPrice float64    `json:"filled_price,omitempty"` // 滑点前基准价，用于报表
	ExecPrice   float64    `json:"exec_price,omitempty"`   // 含滑点的实际成交价，现金按此变动
	FilledAt    int64      `json:"filled_at,omitempty"`    // Unix ms，含成交延迟
	Commission  float64    `json:"commission"`
}

// fillCost 成交名义金额（不含手续费）。
func (o *Order) fillCost() float64 {
	return o.ExecPrice * o.Quantity
}

func newOrder(symbol string, qty float64, kind OrderKind, dir Direction, limitPrice float64, duration int) *Order {
	return &Order{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Quantity:   qty,
		Kind:       kind,
		Direction:  dir,
		LimitPrice: limitPrice,
		Duration:   duration,
		Status:     StatusPending,
	}
}

// Position 一段持仓。Quantity 带符号：正为多头，负为空头。
// ExitTime == 0 表示仍然持有。
type Position struct {
	ID         string   `json:"id"`
	Symbol     string   `json:"symbol"`
	Quantity   float64  `json:"quantity"`
	EntryPrice float64  `json:"entry_price"`
	EntryTime  int64    `json:"entry_time"`
	ExitPrice  float64  `json:"exit_price,omitempty"`
	ExitTime   int64    `json:"exit_time,omitempty"`
	Commission float64  `json:"commission"`
	Orders     []*Order `json:"orders,omitempty"`
}

func newPosition(symbol string, qty, entryPrice float64, entryTime int64) *Position {
	return &Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Quantity:   qty,
		EntryPrice: entryPrice,
		EntryTime:  entryTime,
	}
}

// IsOpen 持仓尚未平掉。
func (p *Position) IsOpen() bool {
	return p.ExitTime == 0
}

func (p *Position) close(exitPrice float64, exitTime int64) {
	p.ExitPrice = exitPrice
	p.ExitTime = exitTime
}

func (p *Position) attach(order *Order) {
	p.Orders = append(p.Orders, order)
	p.Commission += order.Commission
}

// PnL 已平仓盈亏（含累计手续费）；未平仓返回 0。
func (p *Position) PnL() float64 {
	if p.IsOpen() {
		return 0
	}
	if p.Quantity > 0 {
		return (p.ExitPrice-p.EntryPrice)*p.Quantity - p.Commission
	}
	return (p.EntryPrice-p.ExitPrice)*math.Abs(p.Quantity) - p.Commission
}

// Return 已平仓收益率（相对入场价，不含手续费）；未平仓返回 0。
func (p *Position) Return() float64 {
	if p.IsOpen() || p.EntryPrice == 0 {
		return 0
	}
	if p.Quantity > 0 {
		return (p.ExitPrice - p.EntryPrice) / p.EntryPrice
	}
	return (p.EntryPrice - p.ExitPrice) / p.EntryPrice
}

// Side 以方向字符串表示持仓。
func (p *Position) Side() string {
	if p.Quantity > 0 {
		return "long"
	}
	return "short"
}
