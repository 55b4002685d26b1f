package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/api"
	"github.com/taoyao-code/groundlink/internal/api/middleware"
	"github.com/taoyao-code/groundlink/internal/app"
	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
	"github.com/taoyao-code/groundlink/internal/metrics"
)

// Run 统一启动流程：依赖就绪后再启动接口
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting groundlink", zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	// ========== 阶段1: 初始化基础组件 ==========
	reg, fm := app.NewMetrics()
	var metricsHandler http.Handler
	if cfg.Metrics.Enable {
		metricsHandler = metrics.Handler(reg)
	}
	ready := app.NewReady()

	// ========== 阶段2: 加载报文定义 ==========
	packets, err := app.LoadPackets(cfg.Packets, log)
	if err != nil {
		log.Error("packet definitions failed to load", zap.Error(err))
		return err
	}
	ready.SetPacketsReady(true)

	// ========== 阶段3: 初始化Redis（如果启用）==========
	redisClient, err := app.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Error("redis initialization failed", zap.Error(err))
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// ========== 阶段4: 初始化数据库与NATS（如果启用）==========
	dbpool, err := app.ConnectDBAndMigrate(context.Background(), cfg.Database, log)
	if err != nil {
		return err
	}
	if dbpool != nil {
		defer dbpool.Close()
	}

	bus, err := app.NewNATSBus(cfg.NATS, log)
	if err != nil {
		log.Error("nats initialization failed", zap.Error(err))
		return err
	}
	if bus != nil {
		defer bus.Close()
	}

	// ========== 阶段5: 构建接口 ==========
	stores := app.Stores{
		Redis:          redisClient,
		DB:             dbpool,
		NATS:           bus,
		ArchivePackets: cfg.Database.ArchivePackets,
	}
	mgr, err := app.NewManager(cfg, packets, fm, stores, log)
	if err != nil {
		log.Error("interface configuration failed", zap.Error(err))
		return err
	}

	// ========== 阶段6: 启动HTTP服务（非阻塞）==========
	httpSrv := app.NewHTTPServer(cfg.HTTP, cfg.Metrics.Path, metricsHandler, ready.Ready)
	healthAgg := app.NewHealthAggregator(mgr)
	app.AddRedisChecker(healthAgg, stores, mgr)
	app.AddDatabaseChecker(healthAgg, dbpool)
	app.AddNATSChecker(healthAgg, bus)
	app.RegisterHealthRoutes(httpSrv.Engine(), healthAgg)
	api.RegisterInterfaceRoutes(httpSrv.Engine(), mgr, middleware.AuthConfig{
		APIKeys: cfg.API.APIKeys,
		Enabled: cfg.API.AuthEnabled,
	}, log)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))

	// ========== 阶段7: 启动接口读循环 ==========
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	ready.SetInterfacesReady(true)
	log.Info("all services ready", zap.Strings("interfaces", mgr.Names()))

	// ========== 阶段8: 等待关闭信号 ==========
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal, gracefully shutting down...")
	ready.SetInterfacesReady(false)
	cancel()
	mgr.Wait()
	log.Info("interfaces stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("http server stopped")

	log.Info("shutdown complete")
	return nil
}
