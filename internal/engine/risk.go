package engine

import "backlab/internal/logger"

// RiskLimits 止损/止盈阈值（百分比，0 表示关闭）。
type RiskLimits struct {
	StopLossPct   float64
	TakeProfitPct float64
}

// RiskMonitor 每步扫描未平仓持仓，触发止损/止盈时向账本请求平仓。
// 止损优先于止盈，单根 K 线最多触发其一；两者均按入场价百分比计算。
type RiskMonitor struct {
	ledger *Ledger
	limits RiskLimits
}

func NewRiskMonitor(ledger *Ledger, limits RiskLimits) *RiskMonitor {
	return &RiskMonitor{ledger: ledger, limits: limits}
}

// Check 针对某 symbol 的当前价格检查全部持仓。
func (m *RiskMonitor) Check(symbol string, price float64, ts int64) {
	if m.limits.StopLossPct <= 0 && m.limits.TakeProfitPct <= 0 {
		return
	}
	for _, pos := range m.ledger.OpenPositions() {
		if pos.Symbol != symbol || pos.EntryPrice == 0 {
			continue
		}
		ret := unrealizedReturn(pos, price)
		switch {
		case m.limits.StopLossPct > 0 && ret <= -m.limits.StopLossPct/100:
			if m.ledger.ClosePosition(pos.ID, price, ts) != nil {
				logger.Infof("stop loss triggered for %s ret=%.4f", symbol, ret)
			}
		case m.limits.TakeProfitPct > 0 && ret >= m.limits.TakeProfitPct/100:
			if m.ledger.ClosePosition(pos.ID, price, ts) != nil {
				logger.Infof("take profit triggered for %s ret=%.4f", symbol, ret)
			}
		}
	}
}

// unrealizedReturn 方向敏感的浮动收益率。
func unrealizedReturn(pos *Position, price float64) float64 {
	if pos.Quantity > 0 {
		return (price - pos.EntryPrice) / pos.EntryPrice
	}
	return (pos.EntryPrice - price) / pos.EntryPrice
}
