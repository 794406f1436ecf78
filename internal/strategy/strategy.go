package strategy

import "backlab/internal/market"

// 信号取值：+1 买入，-1 卖出，0 持有。
const (
	SignalBuy  = 1
	SignalSell = -1
	SignalHold = 0
)

// Strategy 在完整 K 线序列上一次性产出与之等长的信号序列。
// 评估是纯函数：同一输入永远得到同一 Frame 与信号。
type Strategy interface {
	Name() string
	Evaluate(bars market.Series) (*Frame, []int, error)
}
