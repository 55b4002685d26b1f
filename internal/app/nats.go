package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
	"github.com/taoyao-code/groundlink/internal/health"
	natsbus "github.com/taoyao-code/groundlink/internal/messaging/nats"
)

// NewNATSBus 连接NATS总线；未启用时返回 nil
func NewNATSBus(cfg cfgpkg.NATSConfig, logger *zap.Logger) (*natsbus.Bus, error) {
	if !cfg.Enabled {
		logger.Info("nats is disabled, skipping initialization")
		return nil, nil
	}
	bus, err := natsbus.Connect(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("nats connected",
		zap.String("url", bus.Conn().ConnectedUrl()),
		zap.String("command_subject", bus.CommandSubject("")))
	return bus, nil
}

// AddNATSChecker 添加NATS检查器到聚合器
func AddNATSChecker(aggregator *health.Aggregator, bus *natsbus.Bus) {
	if bus != nil {
		aggregator.AddChecker(health.NewNATSChecker(bus.Conn()))
	}
}
