// Package config 加载并校验应用配置（viper + yaml）。
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"backlab/internal/engine"
)

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DataConfig struct {
	Root    string `mapstructure:"root"`
	Source  string `mapstructure:"source"` // binance 或 none
	BaseURL string `mapstructure:"base_url"`
}

type ResultsConfig struct {
	Root string `mapstructure:"root"`
}

type StrategiesConfig struct {
	LibraryPath     string `mapstructure:"library_path"`
	DefinitionsPath string `mapstructure:"definitions_path"`
}

// BacktestConfig 回测执行的默认参数，单次请求可以覆盖。
type BacktestConfig struct {
	MaxConcurrent  int     `mapstructure:"max_concurrent"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	SizingPct      float64 `mapstructure:"sizing_pct"`
	CommissionRate float64 `mapstructure:"commission_rate"`
	SlippageModel  string  `mapstructure:"slippage_model"`
	SlippageRate   float64 `mapstructure:"slippage_rate"`
	FillDelayMs    int64   `mapstructure:"fill_delay_ms"`
}

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Data       DataConfig       `mapstructure:"data"`
	Results    ResultsConfig    `mapstructure:"results"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
}

func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Data.Root == "" {
		c.Data.Root = "data/klines"
	}
	if c.Data.Source == "" {
		c.Data.Source = "binance"
	}
	if c.Results.Root == "" {
		c.Results.Root = "data/results"
	}
	if c.Strategies.DefinitionsPath == "" {
		c.Strategies.DefinitionsPath = "data/strategies.db"
	}
	if c.Backtest.MaxConcurrent <= 0 {
		c.Backtest.MaxConcurrent = 2
	}
	if c.Backtest.InitialCapital <= 0 {
		c.Backtest.InitialCapital = 10_000
	}
	if c.Backtest.SizingPct <= 0 {
		c.Backtest.SizingPct = 0.1
	}
	if c.Backtest.CommissionRate < 0 {
		c.Backtest.CommissionRate = 0
	}
	if c.Backtest.SlippageModel == "" {
		c.Backtest.SlippageModel = string(engine.SlippagePercentage)
	}
	if c.Backtest.FillDelayMs < 0 {
		c.Backtest.FillDelayMs = 0
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Data.Source) {
	case "binance", "none":
	default:
		return fmt.Errorf("data.source must be binance or none, got %q", c.Data.Source)
	}
	switch engine.SlippageModel(c.Backtest.SlippageModel) {
	case engine.SlippageFixed, engine.SlippagePercentage, engine.SlippageVolatility:
	default:
		return fmt.Errorf("backtest.slippage_model %q is not supported", c.Backtest.SlippageModel)
	}
	if c.Backtest.SizingPct > 1 {
		return fmt.Errorf("backtest.sizing_pct must be in (0, 1], got %v", c.Backtest.SizingPct)
	}
	return nil
}
