package gateway

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
	"github.com/taoyao-code/groundlink/internal/metrics"
	"github.com/taoyao-code/groundlink/internal/packet"
	"github.com/taoyao-code/groundlink/internal/protocol"
	"github.com/taoyao-code/groundlink/internal/tcpserver"
	"github.com/taoyao-code/groundlink/internal/transport"
)

// Deps 构建接口所需的共享依赖
type Deps struct {
	Logger  *zap.Logger
	Packets packet.Identifier
	Metrics *metrics.FramingMetrics
	Handler PacketHandler
}

// NewTransport 按配置创建传输层；name 为所属接口名，用作指标标签
func NewTransport(name string, cfg cfgpkg.TransportConfig, logger *zap.Logger, m *metrics.FramingMetrics) (transport.Transport, error) {
	switch cfg.Type {
	case "tcp_client", "":
		return transport.NewTCPClient(cfg, logger), nil
	case "tcp_server":
		s := tcpserver.New(cfg, logger)
		if m != nil {
			name = strings.ToUpper(name)
			s.SetAcceptCallback(func() { m.Accepted(name) })
			s.SetRejectCallback(func(reason string) { m.Rejected(name, reason) })
		}
		return s, nil
	case "file":
		return transport.NewFile(cfg, logger), nil
	case "loopback":
		return transport.NewLoopback(cfg.ReadTimeout, true), nil
	}
	return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
}

// NewChain 按声明顺序构建协议链
func NewChain(pcs []cfgpkg.ProtocolConfig) (*protocol.Chain, error) {
	chain := protocol.NewChain()
	for i, pc := range pcs {
		p, err := protocol.Build(pc.Type, pc.Args)
		if err != nil {
			return nil, fmt.Errorf("protocols[%d]: %w", i, err)
		}
		dir, err := protocol.ParseDirection(pc.Direction)
		if err != nil {
			return nil, fmt.Errorf("protocols[%d]: %w", i, err)
		}
		chain.Add(p, dir)
	}
	return chain, nil
}

// Build 由接口配置创建接口及其驱动器
func Build(ic cfgpkg.InterfaceConfig, deps Deps) (*Runner, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t, err := NewTransport(ic.Name, ic.Transport, logger.With(zap.String("interface", ic.Name)), deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
	}
	chain, err := NewChain(ic.Protocols)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
	}
	iface, err := NewInterface(ic.Name, t, chain, Options{
		Logger:     logger,
		Packets:    deps.Packets,
		Metrics:    deps.Metrics,
		CmdTargets: ic.CmdTargets,
		TlmTargets: ic.TlmTargets,
	})
	if err != nil {
		return nil, err
	}
	return NewRunner(iface, RunnerOptions{
		AutoConnect:    ic.AutoConnect,
		AutoReconnect:  ic.AutoReconnect,
		ReconnectDelay: ic.ReconnectDelay,
		Breaker:        NewBreaker(ic.BreakerThreshold, ic.BreakerTimeout),
		Handler:        deps.Handler,
		Logger:         logger,
	}), nil
}
