package service

import (
	"encoding/json"
	"time"

	"backlab/internal/engine"
	"backlab/internal/perform"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 一次回测的完整参数快照，随 run 持久化，便于重放。
type RunConfig struct {
	Strategy       string         `json:"strategy"`
	Params         map[string]any `json:"params,omitempty"`
	Symbols        []string       `json:"symbols"`
	Timeframe      string         `json:"timeframe"`
	StartTS        int64          `json:"start_ts"`
	EndTS          int64          `json:"end_ts"`
	InitialCapital float64        `json:"initial_capital"`
	SizingPct      float64        `json:"sizing_pct"`
	CommissionRate float64        `json:"commission_rate"`
	SlippageModel  string         `json:"slippage_model"`
	SlippageRate   float64        `json:"slippage_rate"`
	FillDelayMs    int64          `json:"fill_delay_ms"`
	StopLossPct    float64        `json:"stop_loss_pct"`
	TakeProfitPct  float64        `json:"take_profit_pct"`
	Notes          string         `json:"notes,omitempty"`
}

// Run 一次回测任务及其汇总结果。
type Run struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Strategy       string          `json:"strategy"`
	Symbols        []string        `json:"symbols"`
	Timeframe      string          `json:"timeframe"`
	StartTS        int64           `json:"start_ts"`
	EndTS          int64           `json:"end_ts"`
	InitialCapital float64         `json:"initial_capital"`
	FinalCapital   float64         `json:"final_capital"`
	TradeCount     int             `json:"trade_count"`
	Message        string          `json:"message,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Config         RunConfig       `json:"config"`
	Summary        perform.Summary `json:"summary"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    time.Time       `json:"completed_at,omitempty"`
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// RunRequest HTTP 提交格式。
type RunRequest struct {
	Strategy       string         `json:"strategy" binding:"required"`
	Params         map[string]any `json:"params"`
	Symbols        []string       `json:"symbols" binding:"required"`
	Timeframe      string         `json:"timeframe" binding:"required"`
	StartTS        int64          `json:"start_ts" binding:"required"`
	EndTS          int64          `json:"end_ts" binding:"required"`
	InitialCapital float64        `json:"initial_capital"`
	SizingPct      float64        `json:"sizing_pct"`
	CommissionRate float64        `json:"commission_rate"`
	SlippageModel  string         `json:"slippage_model"`
	SlippageRate   float64        `json:"slippage_rate"`
	FillDelayMs    int64          `json:"fill_delay_ms"`
	StopLossPct    float64        `json:"stop_loss_pct"`
	TakeProfitPct  float64        `json:"take_profit_pct"`
}

// toConfig 补默认值后生成参数快照。
func (req RunRequest) toConfig() RunConfig {
	cfg := RunConfig{
		Strategy:       req.Strategy,
		Params:         req.Params,
		Symbols:        req.Symbols,
		Timeframe:      req.Timeframe,
		StartTS:        req.StartTS,
		EndTS:          req.EndTS,
		InitialCapital: req.InitialCapital,
		SizingPct:      req.SizingPct,
		CommissionRate: req.CommissionRate,
		SlippageModel:  req.SlippageModel,
		SlippageRate:   req.SlippageRate,
		FillDelayMs:    req.FillDelayMs,
		StopLossPct:    req.StopLossPct,
		TakeProfitPct:  req.TakeProfitPct,
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 10_000
	}
	if cfg.SizingPct <= 0 || cfg.SizingPct > 1 {
		cfg.SizingPct = 0.1
	}
	if cfg.CommissionRate < 0 {
		cfg.CommissionRate = 0
	} else if cfg.CommissionRate == 0 {
		cfg.CommissionRate = 0.001
	}
	if cfg.SlippageModel == "" {
		cfg.SlippageModel = string(engine.SlippagePercentage)
	}
	if cfg.SlippageRate == 0 {
		cfg.SlippageRate = 0.0005
	}
	if cfg.FillDelayMs <= 0 {
		cfg.FillDelayMs = 50
	}
	return cfg
}

func (cfg RunConfig) driverConfig(strategyName string) engine.DriverConfig {
	return engine.DriverConfig{
		Strategy:       strategyName,
		InitialCapital: cfg.InitialCapital,
		SizingPct:      cfg.SizingPct,
		Ledger: engine.LedgerConfig{
			CommissionRate: cfg.CommissionRate,
			Slippage:       engine.SlippageModel(cfg.SlippageModel),
			SlippageRate:   cfg.SlippageRate,
			FillDelayMs:    cfg.FillDelayMs,
		},
		Risk: engine.RiskLimits{
			StopLossPct:   cfg.StopLossPct,
			TakeProfitPct: cfg.TakeProfitPct,
		},
	}
}
