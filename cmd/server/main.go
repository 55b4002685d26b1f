package main

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
	"github.com/taoyao-code/groundlink/internal/logging"
)

func main() {
	// 1) 加载配置：GROUNDLINK_CONFIG 指定文件，缺省为 configs/example.yaml
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 启动
	if err := bootstrap.Run(cfg, zap.L()); err != nil {
		logger.Fatal("groundlink exited with error", zap.Error(err))
	}
}
