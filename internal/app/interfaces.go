package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
	"github.com/taoyao-code/groundlink/internal/gateway"
	natsbus "github.com/taoyao-code/groundlink/internal/messaging/nats"
	"github.com/taoyao-code/groundlink/internal/metrics"
	"github.com/taoyao-code/groundlink/internal/packet"
	pgstorage "github.com/taoyao-code/groundlink/internal/storage/pg"
	redisstorage "github.com/taoyao-code/groundlink/internal/storage/redis"
)

// PacketPublisher 帧发布目标
type PacketPublisher interface {
	Publish(ctx context.Context, iface string, command bool, p *packet.Packet) (string, error)
}

// LoadPackets 加载报文定义文件
func LoadPackets(cfg cfgpkg.PacketsConfig, logger *zap.Logger) (*packet.Table, error) {
	tbl, err := packet.LoadFiles(cfg.Files...)
	if err != nil {
		return nil, err
	}
	logger.Info("packet definitions loaded",
		zap.Strings("files", cfg.Files),
		zap.Strings("tlm_targets", tbl.Targets(false)),
		zap.Strings("cmd_targets", tbl.Targets(true)))
	return tbl, nil
}

// Stores 可选的外部存储，nil 表示未启用
type Stores struct {
	Redis *redisstorage.Client
	DB    *pgxpool.Pool
	NATS  *natsbus.Bus
	// ArchivePackets DB 非空时是否写入 packet_log
	ArchivePackets bool
}

// Publishers 按已启用的存储组装帧发布目标
func (s Stores) Publishers(streamMaxLen int64) []PacketPublisher {
	var pubs []PacketPublisher
	if s.Redis != nil {
		pubs = append(pubs, redisstorage.NewPacketPublisher(s.Redis, streamMaxLen))
	}
	if s.DB != nil && s.ArchivePackets {
		pubs = append(pubs, pgstorage.NewPacketArchive(s.DB))
	}
	if s.NATS != nil {
		pubs = append(pubs, s.NATS)
	}
	return pubs
}

// OverridePersister 强制值持久化优先使用数据库，其次 Redis
func (s Stores) OverridePersister() gateway.OverridePersister {
	switch {
	case s.DB != nil:
		return pgstorage.NewOverrideStore(s.DB)
	case s.Redis != nil:
		return redisstorage.NewOverrideStore(s.Redis)
	}
	return nil
}

// NewPacketHandler 收到的帧写入全部发布目标；没有发布目标时仅记录调试日志
func NewPacketHandler(pubs []PacketPublisher, logger *zap.Logger) gateway.PacketHandler {
	return func(ctx context.Context, iface *gateway.Interface, p *packet.Packet) {
		if len(pubs) == 0 {
			logger.Debug("packet received",
				zap.String("interface", iface.Name()),
				zap.String("target", p.Target),
				zap.String("packet", p.Name),
				zap.Int("len", p.Len()))
			return
		}
		for _, pub := range pubs {
			if _, err := pub.Publish(ctx, iface.Name(), false, p); err != nil {
				logger.Warn("publish packet failed",
					zap.String("interface", iface.Name()),
					zap.String("target", p.Target),
					zap.String("packet", p.Name),
					zap.Error(err))
			}
		}
	}
}

// NewManager 按配置构建全部接口
func NewManager(
	cfg *cfgpkg.Config,
	packets packet.Identifier,
	fm *metrics.FramingMetrics,
	stores Stores,
	logger *zap.Logger,
) (*gateway.Manager, error) {
	mgr := gateway.NewManager(logger, stores.OverridePersister())
	deps := gateway.Deps{
		Logger:  logger,
		Packets: packets,
		Metrics: fm,
		Handler: NewPacketHandler(stores.Publishers(cfg.Redis.StreamMaxLen), logger),
	}
	for _, ic := range cfg.Interfaces {
		r, err := gateway.Build(ic, deps)
		if err != nil {
			return nil, err
		}
		if err := mgr.Add(r); err != nil {
			return nil, err
		}
		logger.Info("interface configured",
			zap.String("interface", ic.Name),
			zap.String("transport", ic.Transport.Type),
			zap.Int("protocols", len(ic.Protocols)),
			zap.Bool("auto_connect", ic.AutoConnect))
	}
	if stores.NATS != nil {
		if err := stores.NATS.SubscribeCommands(mgr); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}
