// Package app 应用级编排：加载配置、构建依赖、启动 HTTP 服务。
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"backlab/internal/config"
	"backlab/internal/data"
	"backlab/internal/httpapi"
	"backlab/internal/logger"
	"backlab/internal/service"
	"backlab/internal/store"
)

type App struct {
	cfg    *config.Config
	store  *data.Store
	defs   *store.DefStore
	svc    *service.Service
	server *httpapi.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(cfg)
}

// Run 启动 HTTP 服务，ctx 取消后等待后台回测收尾再退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.svc.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()

	logger.Infof("[app] waiting for running backtests to finish")
	a.svc.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.defs != nil {
		_ = a.defs.Close()
	}
	if a.svc != nil {
		_ = a.svc.Results().Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// Service 暴露底层服务实例（测试与回放工具使用）。
func (a *App) Service() *service.Service {
	if a == nil {
		return nil
	}
	return a.svc
}
