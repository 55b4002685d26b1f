package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
	"github.com/taoyao-code/groundlink/internal/health"
	redisstorage "github.com/taoyao-code/groundlink/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端；未启用时返回 nil
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, skipping initialization")
		return nil, nil
	}

	client, err := redisstorage.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// AddRedisChecker 添加Redis检查器到聚合器；强制值存于 Redis 时按 source 统计各接口强制值
func AddRedisChecker(aggregator *health.Aggregator, stores Stores, source health.InterfaceSource) {
	if stores.Redis == nil {
		return
	}
	if _, ok := stores.OverridePersister().(*redisstorage.OverrideStore); !ok {
		source = nil
	}
	aggregator.AddChecker(health.NewRedisChecker(stores.Redis, source))
}
