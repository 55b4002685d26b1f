// Package gateway 接口：一个传输层 + 一条协议链，负责读循环、写入串行化与覆盖值管理。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/metrics"
	"github.com/taoyao-code/groundlink/internal/packet"
	"github.com/taoyao-code/groundlink/internal/protocol"
	"github.com/taoyao-code/groundlink/internal/transport"
)

// UnknownName 无法识别的报文使用的目标名与报文名
const UnknownName = "UNKNOWN"

var ErrNotConnected = errors.New("interface not connected")

// Options 接口依赖
type Options struct {
	Logger     *zap.Logger
	Packets    packet.Identifier
	Metrics    *metrics.FramingMetrics
	CmdTargets []string
	TlmTargets []string
}

// Interface 组合一个 Transport 与一条 Chain。
// Read 只由所属 Runner 的读协程调用；Write/WriteRaw 可并发调用，内部串行化。
type Interface struct {
	name      string
	transport transport.Transport
	chain     *protocol.Chain
	env       *protocol.Env
	logger    *zap.Logger
	metrics   *metrics.FramingMetrics

	stateMu     sync.RWMutex
	connected   bool
	session     uuid.UUID
	connectedAt time.Time

	readMu  sync.Mutex
	writeMu sync.Mutex

	readCount    atomic.Uint64
	writeCount   atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// NewInterface 创建接口并把协议链挂到接口环境上
func NewInterface(name string, t transport.Transport, chain *protocol.Chain, opts Options) (*Interface, error) {
	name = strings.ToUpper(name)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("interface", name))
	if chain == nil {
		chain = protocol.NewChain()
	}
	env := &protocol.Env{
		Interface:  name,
		Logger:     logger,
		Packets:    opts.Packets,
		TlmTargets: opts.TlmTargets,
		CmdTargets: opts.CmdTargets,
		Overrides:  protocol.NewOverrideTable(),
		Metrics:    opts.Metrics,
	}
	if err := chain.Attach(env); err != nil {
		return nil, fmt.Errorf("interface %s: %w", name, err)
	}
	return &Interface{
		name:      name,
		transport: t,
		chain:     chain,
		env:       env,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Name 接口名
func (i *Interface) Name() string { return i.name }

// Transport 底层传输
func (i *Interface) Transport() transport.Transport { return i.transport }

// Chain 协议链
func (i *Interface) Chain() *protocol.Chain { return i.chain }

// Connected 是否已连接
func (i *Interface) Connected() bool {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.connected
}

// Session 当前连接会话 ID；未连接时为零值
func (i *Interface) Session() uuid.UUID {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.session
}

// Connect 建立传输连接并重置全部协议状态
func (i *Interface) Connect(ctx context.Context) error {
	if i.Connected() {
		return nil
	}
	if err := i.transport.Connect(ctx); err != nil {
		return err
	}

	i.readMu.Lock()
	i.chain.OnConnect()
	i.readMu.Unlock()

	i.stateMu.Lock()
	i.connected = true
	i.session = uuid.New()
	i.connectedAt = time.Now()
	session := i.session
	i.stateMu.Unlock()

	i.metrics.SetConnected(i.name, true)
	i.logger.Info("interface connected",
		zap.String("transport", i.transport.Name()),
		zap.String("session", session.String()))
	return nil
}

// Disconnect 关闭传输并清理协议状态；等待中的模板写入随之返回。可重复调用
func (i *Interface) Disconnect() error {
	i.stateMu.Lock()
	if !i.connected {
		i.stateMu.Unlock()
		return nil
	}
	i.connected = false
	session := i.session
	i.session = uuid.Nil
	i.stateMu.Unlock()

	// 先关闭传输，唤醒阻塞在 Read 的读协程后再取读锁
	err := i.transport.Disconnect()
	i.readMu.Lock()
	i.chain.OnDisconnect()
	i.readMu.Unlock()

	i.metrics.SetConnected(i.name, false)
	i.logger.Info("interface disconnected", zap.String("session", session.String()))
	return err
}

// Read 读取下一帧。
// 传输读超时返回 transport.ErrReadTimeout，连接保持；其余错误与协议要求的断开都会先断开接口再返回。
func (i *Interface) Read() (*packet.Packet, error) {
	if !i.Connected() {
		return nil, ErrNotConnected
	}

	raw := 0
	i.readMu.Lock()
	p, status, err := i.chain.Read(func() ([]byte, protocol.Extra, error) {
		b, err := i.transport.Read()
		if err != nil {
			return nil, nil, err
		}
		raw += len(b)
		i.bytesRead.Add(uint64(len(b)))
		return b, nil, nil
	})
	i.readMu.Unlock()

	if err != nil {
		if !transport.IsFatal(err) {
			return nil, err
		}
		if i.Connected() {
			i.logger.Error("read failed, disconnecting", zap.Error(err))
		}
		_ = i.Disconnect()
		return nil, err
	}
	if status == protocol.StatusDisconnect {
		i.logger.Warn("protocol requested disconnect")
		_ = i.Disconnect()
		return nil, protocol.ErrDisconnectRequested
	}

	if p.ReceivedTime.IsZero() {
		p.ReceivedTime = time.Now()
	}
	i.identify(p)
	i.readCount.Add(1)
	i.metrics.FrameRead(i.name, raw)
	return p, nil
}

// identify 为帧关联报文定义；已由协议命名的帧保留原名，其余无法识别的命名为 UNKNOWN
func (i *Interface) identify(p *packet.Packet) {
	if p.Defined() || i.env.Packets == nil {
		if !p.Identified() {
			p.Target, p.Name = UnknownName, UnknownName
		}
		return
	}
	if _, ok := i.env.Packets.Define(p, i.env.TlmTargets, false); ok {
		return
	}
	if p.Identified() {
		return
	}
	p.Target, p.Name = UnknownName, UnknownName
	i.metrics.Unknown(i.name)
	i.logger.Warn("unknown packet",
		zap.Int("len", p.Len()),
		zap.String("bytes", fmt.Sprintf("% X", p.Buffer()[:min(p.Len(), 32)])))
}

// Write 经写协议链发送报文。失败时断开接口
func (i *Interface) Write(p *packet.Packet) error {
	if !i.Connected() {
		return ErrNotConnected
	}
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	sent, err := i.chain.Write(p, func(data []byte, _ protocol.Extra) error {
		if err := i.transport.Write(data); err != nil {
			return err
		}
		i.bytesWritten.Add(uint64(len(data)))
		i.writeCount.Add(1)
		i.metrics.FrameWritten(i.name, len(data))
		return nil
	})
	if err != nil {
		if i.Connected() {
			i.logger.Error("write failed, disconnecting",
				zap.String("target", p.Target),
				zap.String("packet", p.Name),
				zap.Bool("sent", sent),
				zap.Error(err))
		}
		_ = i.Disconnect()
		return err
	}
	if !sent {
		i.logger.Debug("write filtered by protocol",
			zap.String("target", p.Target),
			zap.String("packet", p.Name))
	}
	return nil
}

// WriteRaw 绕过协议链直接写入传输层
func (i *Interface) WriteRaw(data []byte) error {
	if !i.Connected() {
		return ErrNotConnected
	}
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if err := i.transport.Write(data); err != nil {
		i.logger.Error("raw write failed, disconnecting", zap.Error(err))
		_ = i.Disconnect()
		return err
	}
	i.bytesWritten.Add(uint64(len(data)))
	i.metrics.FrameWritten(i.name, len(data))
	return nil
}

// Override 为遥测字段设置强制值，由链上的 override 处理器在读后应用
func (i *Interface) Override(o protocol.Override) (protocol.Override, error) {
	o.Target = strings.ToUpper(o.Target)
	o.Packet = strings.ToUpper(o.Packet)
	o.Item = strings.ToUpper(o.Item)
	if i.env.Packets == nil {
		return o, fmt.Errorf("interface %s: no packet definitions loaded", i.name)
	}
	def, err := i.env.Packets.Definition(o.Target, o.Packet, false)
	if err != nil {
		return o, err
	}
	if _, ok := def.Item(o.Item); !ok {
		return o, fmt.Errorf("%w: %s %s %s", packet.ErrUnknownItem, o.Target, o.Packet, o.Item)
	}
	i.env.Overrides.Set(o)
	i.logger.Info("override set",
		zap.String("target", o.Target),
		zap.String("packet", o.Packet),
		zap.String("item", o.Item),
		zap.Any("value", o.Value),
		zap.Stringer("type", o.Type))
	return o, nil
}

// Normalize 取消字段的强制值，返回是否存在
func (i *Interface) Normalize(target, pkt, item string) bool {
	return i.env.Overrides.Clear(strings.ToUpper(target), strings.ToUpper(pkt), strings.ToUpper(item))
}

// ClearOverrides 取消全部强制值
func (i *Interface) ClearOverrides() { i.env.Overrides.ClearAll() }

// Overrides 当前全部强制值
func (i *Interface) Overrides() []protocol.Override { return i.env.Overrides.List() }

// Status 接口状态快照
type Status struct {
	Name         string    `json:"name"`
	Transport    string    `json:"transport"`
	Connected    bool      `json:"connected"`
	Session      string    `json:"session,omitempty"`
	ConnectedAt  time.Time `json:"connected_at,omitempty"`
	ReadCount    uint64    `json:"read_count"`
	WriteCount   uint64    `json:"write_count"`
	BytesRead    uint64    `json:"bytes_read"`
	BytesWritten uint64    `json:"bytes_written"`
	ReadChain    []string  `json:"read_protocols"`
	WriteChain   []string  `json:"write_protocols"`
	Overrides    int       `json:"overrides"`
}

// Status 返回接口状态快照
func (i *Interface) Status() Status {
	i.stateMu.RLock()
	st := Status{
		Name:        i.name,
		Transport:   i.transport.Name(),
		Connected:   i.connected,
		ConnectedAt: i.connectedAt,
	}
	if i.connected {
		st.Session = i.session.String()
	}
	i.stateMu.RUnlock()

	st.ReadCount = i.readCount.Load()
	st.WriteCount = i.writeCount.Load()
	st.BytesRead = i.bytesRead.Load()
	st.BytesWritten = i.bytesWritten.Load()
	for _, p := range i.chain.ReadProtocols() {
		st.ReadChain = append(st.ReadChain, p.Name())
	}
	for _, p := range i.chain.WriteProtocols() {
		st.WriteChain = append(st.WriteChain, p.Name())
	}
	st.Overrides = i.env.Overrides.Len()
	return st
}
