package app

import (
	"fmt"
	"strings"

	"backlab/internal/config"
	"backlab/internal/data"
	"backlab/internal/httpapi"
	"backlab/internal/logger"
	"backlab/internal/service"
	"backlab/internal/store"
	"backlab/internal/strategy"
)

// AppBuilder 按依赖顺序构建应用：数据层 → 策略层 → 服务层 → HTTP。
type AppBuilder struct {
	cfg *config.Config

	dataStore *data.Store
	manager   *data.Manager
	library   *strategy.Library
	defs      *store.DefStore
	svc       *service.Service
	server    *httpapi.Server
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

func (b *AppBuilder) Build() (*App, error) {
	steps := []func() error{
		b.buildData,
		b.buildStrategies,
		b.buildService,
		b.buildServer,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.closePartial()
			return nil, err
		}
	}
	return &App{
		cfg:    b.cfg,
		store:  b.dataStore,
		defs:   b.defs,
		svc:    b.svc,
		server: b.server,
	}, nil
}

func (b *AppBuilder) buildData() error {
	dataStore, err := data.NewStore(b.cfg.Data.Root)
	if err != nil {
		return fmt.Errorf("init kline store: %w", err)
	}
	b.dataStore = dataStore

	var source data.Source
	if strings.EqualFold(b.cfg.Data.Source, "binance") {
		source = data.NewBinanceSource(b.cfg.Data.BaseURL)
		logger.Infof("[app] kline source: %s", source.Name())
	} else {
		logger.Infof("[app] kline source disabled, local data only")
	}
	b.manager = data.NewManager(dataStore, source)
	return nil
}

func (b *AppBuilder) buildStrategies() error {
	if path := strings.TrimSpace(b.cfg.Strategies.LibraryPath); path != "" {
		lib, err := strategy.NewLibrary(path)
		if err != nil {
			return fmt.Errorf("load strategy library: %w", err)
		}
		b.library = lib
		logger.Infof("[app] strategy library loaded: %d definitions", len(lib.IDs()))
	}
	defs, err := store.NewDefStore(b.cfg.Strategies.DefinitionsPath)
	if err != nil {
		return fmt.Errorf("init definition store: %w", err)
	}
	b.defs = defs
	return nil
}

func (b *AppBuilder) buildService() error {
	results, err := service.NewResultStore(b.cfg.Results.Root)
	if err != nil {
		return fmt.Errorf("init result store: %w", err)
	}
	svc, err := service.New(service.Config{
		DataManager:   b.manager,
		ResultStore:   results,
		Library:       b.library,
		MaxConcurrent: b.cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("init backtest service: %w", err)
	}
	b.svc = svc
	return nil
}

func (b *AppBuilder) buildServer() error {
	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:     b.cfg.Server.Addr,
		Service:  b.svc,
		DefStore: b.defs,
	})
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}
	b.server = server
	return nil
}

func (b *AppBuilder) closePartial() {
	if b.defs != nil {
		_ = b.defs.Close()
	}
	if b.svc != nil {
		_ = b.svc.Results().Close()
	}
	if b.dataStore != nil {
		_ = b.dataStore.Close()
	}
}
