package engine

import (
	"math"

	"backlab/internal/market"
)

// SlippageModel 滑点模型。
type SlippageModel string

const (
	SlippageFixed      SlippageModel = "fixed"
	SlippagePercentage SlippageModel = "percentage"
	SlippageVolatility SlippageModel = "volatility_adjusted"
)

const volatilityWindow = 20

// Pricer 根据订单类型推导成交价并施加滑点，本身无状态。
type Pricer struct {
	Model SlippageModel
	Rate  float64
}

// DerivePrice 返回订单在当前 close 下的成交价。limit/stop 未触发、
// twap/vwap 缺少窗口或 duration 时返回 ok=false，订单保持 pending。
func (p Pricer) DerivePrice(order *Order, close float64, ts int64, window market.Series) (float64, bool) {
	switch order.Kind {
	case OrderMarket:
		return close, true
	case OrderLimit:
		if order.LimitPrice <= 0 {
			return 0, false
		}
		if (order.Direction == Buy && close <= order.LimitPrice) ||
			(order.Direction == Sell && close >= order.LimitPrice) {
			return order.LimitPrice, true
		}
		return 0, false
	case OrderStop:
		if order.LimitPrice <= 0 {
			return 0, false
		}
		if (order.Direction == Buy && close >= order.LimitPrice) ||
			(order.Direction == Sell && close <= order.LimitPrice) {
			return close, true
		}
		return 0, false
	case OrderTWAP, OrderVWAP:
		if len(window) == 0 || order.Duration <= 0 {
			return 0, false
		}
		period := window.UpTo(ts)
		if len(period) > order.Duration {
			period = period[len(period)-order.Duration:]
		}
		if len(period) == 0 {
			return 0, false
		}
		if order.Kind == OrderVWAP {
			var pv, vol float64
			for _, b := range period {
				pv += b.Close * b.Volume
				vol += b.Volume
			}
			if vol == 0 {
				return 0, false
			}
			return pv / vol, true
		}
		var sum float64
		for _, b := range period {
			sum += b.Close
		}
		return sum / float64(len(period)), true
	}
	return 0, false
}

// ApplySlippage 对成交价施加不利方向的滑点：买入加价，卖出减价。
func (p Pricer) ApplySlippage(order *Order, price float64, window market.Series) float64 {
	var amount float64
	switch p.Model {
	case SlippageFixed:
		amount = p.Rate
	case SlippagePercentage:
		amount = price * p.Rate
	case SlippageVolatility:
		if len(window) == 0 {
			return price
		}
		vol, ok := rollingReturnStdDev(window.Closes(), volatilityWindow)
		if !ok {
			return price
		}
		amount = price * vol * p.Rate
	default:
		return price
	}
	if order.Direction == Buy {
		return price + amount
	}
	return price - amount
}

// rollingReturnStdDev 取收盘价序列最近 window 个相邻收益率的样本标准差。
// 数据不足以填满窗口时 ok=false。
func rollingReturnStdDev(closes []float64, window int) (float64, bool) {
	if len(closes) < window+1 {
		return 0, false
	}
	returns := make([]float64, 0, window)
	for i := len(closes) - window; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			return 0, false
		}
		returns = append(returns, closes[i]/prev-1)
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(returns)-1)), true
}
