package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// auditCash 用十进制精确重放全部已成交订单的现金变动，和账本的
// float64 现金对账。偏差超出浮点累积误差容忍度时产出告警。
func auditCash(initialCash float64, ledger *Ledger) []string {
	expected := decimal.NewFromFloat(initialCash)
	for _, order := range ledger.Orders() {
		if order.Status != StatusFilled {
			continue
		}
		px := decimal.NewFromFloat(order.fillCost())
		comm := decimal.NewFromFloat(order.Commission)
		if order.Direction == Buy {
			expected = expected.Sub(px).Sub(comm)
		} else {
			expected = expected.Add(px).Sub(comm)
		}
	}
	actual := decimal.NewFromFloat(ledger.Cash())
	diff := expected.Sub(actual).Abs()
	// 容忍度随成交笔数放大，纯浮点舍入不应该触发。
	tolerance := decimal.NewFromFloat(1e-6).Mul(decimal.NewFromInt(int64(len(ledger.Orders()) + 1)))
	if diff.GreaterThan(tolerance) {
		return []string{fmt.Sprintf("cash reconciliation drift: ledger=%s expected=%s diff=%s",
			actual.String(), expected.String(), diff.String())}
	}
	return nil
}
