package perform

import (
	"math"

	"backlab/internal/engine"
)

const (
	periodsPerYear = 252     // 交易日口径，用于波动率/夏普的年化
	daysPerYear    = 365.25  // 自然日口径，用于收益率年化
	msPerDay       = 86_400_000
)

// Summary 一次回测的绩效汇总。
type Summary struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	Calmar           float64 `json:"calmar"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	TradeCount       int     `json:"trade_count"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	AvgTradePnL      float64 `json:"avg_trade_pnl"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
}

// Compute 从回测结果推导全部指标。数据不足的指标留 0，不报错。
func Compute(res *engine.Result) Summary {
	var s Summary
	if res == nil || res.InitialCapital == 0 {
		return s
	}
	s.TotalReturn = res.FinalCapital/res.InitialCapital - 1
	s.MaxDrawdown = maxDrawdown(res.EquityCurve)
	s.AnnualizedReturn = annualize(s.TotalReturn, res.StartTS, res.EndTS)

	returns := equityReturns(res.EquityCurve)
	if len(returns) > 1 {
		mean, sd := meanStd(returns)
		s.Volatility = sd * math.Sqrt(periodsPerYear)
		if sd > 0 {
			s.Sharpe = mean / sd * math.Sqrt(periodsPerYear)
		}
		if dsd := downsideStd(returns); dsd > 0 {
			s.Sortino = mean / dsd * math.Sqrt(periodsPerYear)
		}
	}
	if s.MaxDrawdown > 0 {
		s.Calmar = s.AnnualizedReturn / s.MaxDrawdown
	}

	s.TradeCount = len(res.Trades)
	var wins, grossProfit, grossLoss, total float64
	var winCount, lossCount int
	for _, tr := range res.Trades {
		total += tr.PnL
		if tr.PnL > 0 {
			wins++
			winCount++
			grossProfit += tr.PnL
		} else if tr.PnL < 0 {
			lossCount++
			grossLoss += -tr.PnL
		}
	}
	if s.TradeCount > 0 {
		s.WinRate = wins / float64(s.TradeCount)
		s.AvgTradePnL = total / float64(s.TradeCount)
	}
	if winCount > 0 {
		s.AvgWin = grossProfit / float64(winCount)
	}
	if lossCount > 0 {
		s.AvgLoss = -grossLoss / float64(lossCount)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	}
	return s
}

// annualize 按自然日把区间收益率换算成年化。区间不足一天按一天计。
func annualize(totalReturn float64, startTS, endTS int64) float64 {
	days := float64(endTS-startTS) / msPerDay
	if days < 1 {
		days = 1
	}
	base := 1 + totalReturn
	if base <= 0 {
		return -1
	}
	return math.Pow(base, daysPerYear/days) - 1
}

// maxDrawdown 资金曲线相对历史峰值的最大回撤，返回正数比例。
func maxDrawdown(curve []engine.EquityPoint) float64 {
	var peak, maxDD float64
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			if dd := (peak - pt.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func equityReturns(curve []engine.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

func meanStd(values []float64) (mean, sd float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	if len(values) > 1 {
		sd = math.Sqrt(ss / float64(len(values)-1))
	}
	return mean, sd
}

// downsideStd 只统计负收益的离差（相对 0），索提诺比率的分母。
func downsideStd(values []float64) float64 {
	var ss float64
	var n int
	for _, v := range values {
		if v < 0 {
			ss += v * v
		}
		n++
	}
	if n <= 1 {
		return 0
	}
	return math.Sqrt(ss / float64(n-1))
}
