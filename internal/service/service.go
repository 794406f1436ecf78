package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"backlab/internal/data"
	"backlab/internal/engine"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/perform"
	"backlab/internal/strategy"
)

// Notifier 回测完成后的推送出口（Telegram、webhook 等）。
type Notifier interface {
	SendText(text string) error
}

type Config struct {
	DataManager   *data.Manager
	ResultStore   *ResultStore
	Library       *strategy.Library
	Notifier      Notifier
	MaxConcurrent int
}

// Service 把历史 K 线和策略信号推演为资金曲线：提交后立即返回，
// 回测在后台 worker 中执行，并发数由信号量约束。
type Service struct {
	dataMgr *data.Manager
	results *ResultStore
	library *strategy.Library
	notify  Notifier

	sem     chan struct{}
	baseCtx context.Context
	wg      sync.WaitGroup
}

func New(cfg Config) (*Service, error) {
	if cfg.DataManager == nil {
		return nil, fmt.Errorf("data manager required")
	}
	if cfg.ResultStore == nil {
		return nil, fmt.Errorf("result store required")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Service{
		dataMgr: cfg.DataManager,
		results: cfg.ResultStore,
		library: cfg.Library,
		notify:  cfg.Notifier,
		sem:     make(chan struct{}, maxConcurrent),
		baseCtx: context.Background(),
	}, nil
}

func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// Results 暴露结果存储供查询接口使用。
func (s *Service) Results() *ResultStore { return s.results }

// Data 暴露数据管理器供查询接口使用。
func (s *Service) Data() *data.Manager { return s.dataMgr }

// Library 暴露声明式策略库（可能为 nil）。
func (s *Service) Library() *strategy.Library { return s.library }

// Wait 等待全部后台回测退出，进程收尾时调用。
func (s *Service) Wait() { s.wg.Wait() }

// StartRun 校验参数、落一条 pending run 并立即返回，推演在后台执行。
// 策略构造在这里就完成，配置错误同步返回而不是留在后台失败。
func (s *Service) StartRun(req RunRequest) (Run, error) {
	cfg := req.toConfig()
	if len(cfg.Symbols) == 0 {
		return Run{}, fmt.Errorf("symbols required")
	}
	for i, sym := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	tf, err := data.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return Run{}, err
	}
	cfg.Timeframe = tf.Key
	cfg.StartTS, cfg.EndTS = tf.AlignRange(cfg.StartTS, cfg.EndTS)
	if cfg.StartTS <= 0 || cfg.EndTS <= cfg.StartTS {
		return Run{}, fmt.Errorf("invalid start/end range")
	}
	switch engine.SlippageModel(cfg.SlippageModel) {
	case engine.SlippageFixed, engine.SlippagePercentage, engine.SlippageVolatility:
	default:
		return Run{}, fmt.Errorf("unknown slippage model %q", cfg.SlippageModel)
	}

	strat, err := s.buildStrategy(cfg)
	if err != nil {
		return Run{}, err
	}

	run := Run{
		ID:             uuid.NewString(),
		Status:         RunStatusPending,
		Strategy:       strat.Name(),
		Symbols:        cfg.Symbols,
		Timeframe:      cfg.Timeframe,
		StartTS:        cfg.StartTS,
		EndTS:          cfg.EndTS,
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   cfg.InitialCapital,
		Config:         cfg,
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	s.wg.Add(1)
	go s.runLoop(run.ID, cfg, strat)
	return run, nil
}

// buildStrategy 先查内置注册表，再查声明式策略库。
func (s *Service) buildStrategy(cfg RunConfig) (strategy.Strategy, error) {
	strat, err := strategy.New(cfg.Strategy, cfg.Params)
	if err == nil {
		return strat, nil
	}
	if s.library != nil {
		if libStrat, libErr := s.library.Strategy(cfg.Strategy); libErr == nil {
			return libStrat, nil
		}
	}
	return nil, err
}

func (s *Service) runLoop(runID string, cfg RunConfig, strat strategy.Strategy) {
	defer s.wg.Done()
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s waiting for a free worker", runID)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "loading datasets")
	if err := s.execute(ctx, runID, cfg, strat); err != nil {
		logger.Warnf("[backtest] run %s failed: %v", runID, err)
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
		s.sendNote(fmt.Sprintf("backtest %s failed: %v", runID, err))
	}
}

func (s *Service) execute(ctx context.Context, runID string, cfg RunConfig, strat strategy.Strategy) error {
	series := make(map[string]market.Series, len(cfg.Symbols))
	signals := make(map[string][]int, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		bars, err := s.dataMgr.EnsureRange(ctx, sym, cfg.Timeframe, cfg.StartTS, cfg.EndTS)
		if err != nil {
			return fmt.Errorf("load %s: %w", sym, err)
		}
		_, sig, err := strat.Evaluate(bars)
		if err != nil {
			return fmt.Errorf("evaluate %s on %s: %w", strat.Name(), sym, err)
		}
		series[sym] = bars
		signals[sym] = sig
	}

	driver, err := engine.NewDriver(cfg.driverConfig(strat.Name()), series, signals)
	if err != nil {
		return err
	}
	res, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	summary := perform.Compute(res)
	if err := s.results.CompleteRun(ctx, runID, res, summary); err != nil {
		return fmt.Errorf("persist results: %w", err)
	}
	logger.Infof("[backtest] run %s done: return=%.2f%% trades=%d final=%.2f",
		runID, summary.TotalReturn*100, len(res.Trades), res.FinalCapital)
	s.sendNote(fmt.Sprintf("backtest %s done: %s return %.2f%%, %d trades",
		runID, strat.Name(), summary.TotalReturn*100, len(res.Trades)))
	return nil
}

func (s *Service) sendNote(text string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.SendText(text); err != nil {
		logger.Debugf("notify failed: %v", err)
	}
}
