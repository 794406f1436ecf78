// Package httpapi 对外暴露回测服务的 REST 接口。
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/report"
	"backlab/internal/service"
	"backlab/internal/store"
	"backlab/internal/strategy"
)

type ServerConfig struct {
	Addr     string
	Service  *service.Service
	DefStore *store.DefStore
}

// Server 基于 gin 的 HTTP 服务，提交回测、查询结果、管理策略定义。
type Server struct {
	addr   string
	svc    *service.Service
	defs   *store.DefStore
	router *gin.Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("service required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = ":8090"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:   addr,
		svc:    cfg.Service,
		defs:   cfg.DefStore,
		router: router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.handleCreateRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.GET("/runs/:id/trades", s.handleListTrades)
	api.GET("/runs/:id/equity", s.handleListEquity)
	api.GET("/runs/:id/performance", s.handleGetPerformance)
	api.GET("/runs/:id/chart", s.handleRunChart)
	api.GET("/candles", s.handleCandles)
	api.GET("/data", s.handleDataManifest)

	strategies := s.router.Group("/api/strategies")
	strategies.GET("", s.handleListStrategies)
	strategies.POST("/validate", s.handleValidateDefinition)
	strategies.POST("/definitions", s.handleSaveDefinition)
	strategies.GET("/definitions", s.handleListDefinitions)
	strategies.GET("/definitions/:id", s.handleGetDefinition)
	strategies.DELETE("/definitions/:id", s.handleDeleteDefinition)

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UnixMilli()})
	})
}

// Router 暴露给测试使用。
func (s *Server) Router() http.Handler { return s.router }

// Start 启动监听并在 ctx 取消时优雅退出。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req service.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.svc.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	runs, err := s.svc.Results().ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleListTrades(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	trades, err := s.svc.Results().ListTrades(c.Request.Context(), run.ID, queryInt(c, "limit", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": run.ID, "trades": trades})
}

func (s *Server) handleListEquity(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	equity, err := s.svc.Results().ListEquity(c.Request.Context(), run.ID, queryInt(c, "limit", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": run.ID, "equity": equity})
}

func (s *Server) handleGetPerformance(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	if run.Status != service.RunStatusDone {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("run is %s", run.Status)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": run.ID, "performance": run.Summary, "warnings": run.Warnings})
}

// handleRunChart 渲染资金曲线 + K 线截图，需要本机有 headless chrome。
// format=html 时直接返回报告页面。
func (s *Server) handleRunChart(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	if run.Status != service.RunStatusDone {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("run is %s", run.Status)})
		return
	}
	ctx := c.Request.Context()
	equity, err := s.svc.Results().ListEquity(ctx, run.ID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	trades, err := s.svc.Results().ListTrades(ctx, run.ID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	series := make(map[string]market.Series, len(run.Symbols))
	for _, sym := range run.Symbols {
		bars, err := s.svc.Data().EnsureRange(ctx, sym, run.Timeframe, run.StartTS, run.EndTS)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		series[sym] = bars
	}
	input := report.ChartInput{
		Title:  fmt.Sprintf("%s %s", run.Strategy, strings.Join(run.Symbols, ",")),
		Equity: equity,
		Trades: trades,
		Series: series,
	}
	if c.Query("format") == "html" {
		html, err := report.BuildHTML(input)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", html)
		return
	}
	img, err := report.RenderPNG(ctx, input)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("render chart: %v", err)})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", img.Filename))
	c.Data(http.StatusOK, "image/png", img.Bytes)
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	timeframe := strings.TrimSpace(c.Query("timeframe"))
	start, _ := strconv.ParseInt(c.Query("start"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end"), 10, 64)
	if symbol == "" || timeframe == "" || start <= 0 || end <= start {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol, timeframe, start and end are required"})
		return
	}
	bars, err := s.svc.Data().EnsureRange(c.Request.Context(), symbol, timeframe, start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "timeframe": timeframe, "bars": bars})
}

func (s *Server) handleDataManifest(c *gin.Context) {
	entries, err := s.svc.Data().Store().ListManifests(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": entries})
}

func (s *Server) handleListStrategies(c *gin.Context) {
	resp := gin.H{"builtin": strategy.Names()}
	if lib := s.svc.Library(); lib != nil {
		resp["library"] = lib.IDs()
	}
	if s.defs != nil {
		records, err := s.defs.List(c.Request.Context(), 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ids := make([]string, len(records))
		for i, rec := range records {
			ids[i] = rec.ID
		}
		resp["saved"] = ids
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleValidateDefinition(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := strategy.ValidateDefinitionJSON(string(raw)); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (s *Server) handleSaveDefinition(c *gin.Context) {
	if s.defs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "definition store is not configured"})
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.defs.Save(c.Request.Context(), string(raw))
	if err != nil {
		var cfgErr *strategy.ConfigurationError
		if errors.As(err, &cfgErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"definition": rec})
}

func (s *Server) handleListDefinitions(c *gin.Context) {
	if s.defs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "definition store is not configured"})
		return
	}
	records, err := s.defs.List(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"definitions": records})
}

func (s *Server) handleGetDefinition(c *gin.Context) {
	if s.defs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "definition store is not configured"})
		return
	}
	rec, err := s.defs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "definition not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"definition": rec})
}

func (s *Server) handleDeleteDefinition(c *gin.Context) {
	if s.defs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "definition store is not configured"})
		return
	}
	err := s.defs.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "definition not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (s *Server) lookupRun(c *gin.Context) (service.Run, bool) {
	run, err := s.svc.Results().GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return service.Run{}, false
	}
	return run, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}
