// Package optimize 对策略参数做网格搜索：同一份行情数据上并行跑
// 多组参数的回测，按指定指标挑出最优组合。
package optimize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"backlab/internal/engine"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/perform"
	"backlab/internal/strategy"
)

// Grid 参数名到候选值列表。
type Grid map[string][]any

// Metric 排序指标。
type Metric string

const (
	MetricTotalReturn Metric = "total_return"
	MetricSharpe      Metric = "sharpe"
	MetricSortino     Metric = "sortino"
	MetricCalmar      Metric = "calmar"
	MetricProfit      Metric = "profit_factor"
)

type Request struct {
	Strategy       string
	Grid           Grid
	Series         map[string]market.Series
	InitialCapital float64
	SizingPct      float64
	Ledger         engine.LedgerConfig
	Risk           engine.RiskLimits
	Metric         Metric
	Parallel       int
}

// Candidate 一组参数的回测结果。失败的组合记录错误但不中断全局搜索。
type Candidate struct {
	Params  map[string]any  `json:"params"`
	Score   float64         `json:"score"`
	Summary perform.Summary `json:"summary"`
	Err     string          `json:"error,omitempty"`
}

type Report struct {
	Strategy   string      `json:"strategy"`
	Metric     Metric      `json:"metric"`
	Best       *Candidate  `json:"best,omitempty"`
	Candidates []Candidate `json:"candidates"`
}

// Run 展开网格并行回测。所有组合都失败时返回错误。
func Run(ctx context.Context, req Request) (Report, error) {
	if req.Strategy == "" {
		return Report{}, fmt.Errorf("strategy required")
	}
	if len(req.Series) == 0 {
		return Report{}, fmt.Errorf("series required")
	}
	combos := expandGrid(req.Grid)
	if len(combos) == 0 {
		return Report{}, fmt.Errorf("parameter grid is empty")
	}
	metric := req.Metric
	if metric == "" {
		metric = MetricSharpe
	}
	parallel := req.Parallel
	if parallel <= 0 {
		parallel = 4
	}

	report := Report{
		Strategy:   req.Strategy,
		Metric:     metric,
		Candidates: make([]Candidate, len(combos)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	var mu sync.Mutex
	for i, params := range combos {
		i, params := i, params
		g.Go(func() error {
			cand := evaluate(gctx, req, params, metric)
			mu.Lock()
			report.Candidates[i] = cand
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	for i := range report.Candidates {
		cand := &report.Candidates[i]
		if cand.Err != "" {
			continue
		}
		if report.Best == nil || cand.Score > report.Best.Score {
			report.Best = cand
		}
	}
	if report.Best == nil {
		return Report{}, fmt.Errorf("all %d candidates failed", len(combos))
	}
	logger.Infof("[optimize] %s: best %s=%.4f with %v",
		req.Strategy, metric, report.Best.Score, report.Best.Params)
	return report, nil
}

func evaluate(ctx context.Context, req Request, params map[string]any, metric Metric) Candidate {
	cand := Candidate{Params: params}
	strat, err := strategy.New(req.Strategy, params)
	if err != nil {
		cand.Err = err.Error()
		return cand
	}
	signals := make(map[string][]int, len(req.Series))
	for sym, bars := range req.Series {
		_, sig, err := strat.Evaluate(bars)
		if err != nil {
			cand.Err = fmt.Sprintf("evaluate %s: %v", sym, err)
			return cand
		}
		signals[sym] = sig
	}
	driver, err := engine.NewDriver(engine.DriverConfig{
		Strategy:       strat.Name(),
		InitialCapital: req.InitialCapital,
		SizingPct:      req.SizingPct,
		Ledger:         req.Ledger,
		Risk:           req.Risk,
	}, req.Series, signals)
	if err != nil {
		cand.Err = err.Error()
		return cand
	}
	res, err := driver.Run(ctx)
	if err != nil {
		cand.Err = err.Error()
		return cand
	}
	cand.Summary = perform.Compute(res)
	cand.Score = metricValue(cand.Summary, metric)
	return cand
}

func metricValue(s perform.Summary, metric Metric) float64 {
	switch metric {
	case MetricTotalReturn:
		return s.TotalReturn
	case MetricSortino:
		return s.Sortino
	case MetricCalmar:
		return s.Calmar
	case MetricProfit:
		return s.ProfitFactor
	default:
		return s.Sharpe
	}
}

// expandGrid 按参数名排序后做笛卡尔积，结果顺序稳定。
func expandGrid(grid Grid) []map[string]any {
	keys := make([]string, 0, len(grid))
	for k, vals := range grid {
		if strings.TrimSpace(k) == "" || len(vals) == 0 {
			return nil
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	combos := []map[string]any{{}}
	for _, key := range keys {
		next := make([]map[string]any, 0, len(combos)*len(grid[key]))
		for _, base := range combos {
			for _, val := range grid[key] {
				combo := make(map[string]any, len(base)+1)
				for k, v := range base {
					combo[k] = v
				}
				combo[key] = val
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}
