// Package nats NATS 总线：接口收到的帧发布到 <prefix>.tlm.<TARGET>.<PACKET>，
// 并订阅 <prefix>.cmd.raw.<INTERFACE> 把原始命令字节写入接口。
package nats

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
	"github.com/taoyao-code/groundlink/internal/packet"
)

const defaultPrefix = "groundlink"

// PacketMessage 发布到总线的帧
type PacketMessage struct {
	Interface    string    `json:"interface"`
	Target       string    `json:"target"`
	Packet       string    `json:"packet"`
	ReceivedTime time.Time `json:"received_time"`
	Stored       bool      `json:"stored"`
	Buffer       []byte    `json:"buffer"`
}

// CommandRequest 原始命令；Data 为十六进制，允许空格与 0x 前缀
type CommandRequest struct {
	Data string `json:"data"`
}

// CommandReply 命令请求带 reply subject 时的应答
type CommandReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// RawWriter 按接口名写原始字节（gateway.Manager 实现）
type RawWriter interface {
	WriteRaw(name string, data []byte) error
}

// Bus NATS 连接封装
type Bus struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect 连接 NATS；断线后由客户端无限重连
func Connect(cfg cfgpkg.NATSConfig, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return NewBus(conn, cfg.SubjectPrefix, logger), nil
}

// NewBus 包装已有连接
func NewBus(conn *nats.Conn, prefix string, logger *zap.Logger) *Bus {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{conn: conn, prefix: prefix, logger: logger}
}

// Conn 底层连接
func (b *Bus) Conn() *nats.Conn { return b.conn }

// PacketSubject 帧发布 subject
func (b *Bus) PacketSubject(command bool, target, name string) string {
	kind := "tlm"
	if command {
		kind = "cmd"
	}
	return b.prefix + "." + kind + "." + target + "." + name
}

// CommandSubject 原始命令订阅 subject；iface 为空时匹配全部接口
func (b *Bus) CommandSubject(iface string) string {
	if iface == "" {
		iface = "*"
	}
	return b.prefix + ".cmd.raw." + strings.ToUpper(iface)
}

// Publish 发布一帧，返回 subject
func (b *Bus) Publish(_ context.Context, iface string, command bool, p *packet.Packet) (string, error) {
	subject := b.PacketSubject(command, p.Target, p.Name)
	data, err := json.Marshal(PacketMessage{
		Interface:    iface,
		Target:       p.Target,
		Packet:       p.Name,
		ReceivedTime: p.ReceivedTime,
		Stored:       p.Stored,
		Buffer:       p.Buffer(),
	})
	if err != nil {
		return "", err
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return "", fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return subject, nil
}

// SubscribeCommands 订阅全部接口的原始命令
func (b *Bus) SubscribeCommands(w RawWriter) error {
	subject := b.CommandSubject("")
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		reply := b.HandleCommand(w, msg.Subject, msg.Data)
		if msg.Reply == "" {
			return
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			b.logger.Warn("nats command reply failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.logger.Info("nats command subscription started", zap.String("subject", subject))
	return nil
}

var errBadSubject = errors.New("command subject has no interface")

// HandleCommand 解析并执行一条原始命令
func (b *Bus) HandleCommand(w RawWriter, subject string, data []byte) CommandReply {
	iface := subject[strings.LastIndexByte(subject, '.')+1:]
	if iface == "" || iface == "*" {
		return CommandReply{Error: errBadSubject.Error()}
	}
	var req CommandRequest
	if err := json.Unmarshal(data, &req); err != nil {
		b.logger.Warn("nats command malformed", zap.String("interface", iface), zap.Error(err))
		return CommandReply{Error: "invalid request: " + err.Error()}
	}
	raw, err := decodeHex(req.Data)
	if err != nil {
		return CommandReply{Error: err.Error()}
	}
	if err := w.WriteRaw(iface, raw); err != nil {
		b.logger.Warn("nats command write failed",
			zap.String("interface", iface),
			zap.Int("len", len(raw)),
			zap.Error(err))
		return CommandReply{Error: err.Error()}
	}
	b.logger.Debug("nats command written", zap.String("interface", iface), zap.Int("len", len(raw)))
	return CommandReply{OK: true}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, errors.New("empty command data")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

// Close 退订并排空连接
func (b *Bus) Close() {
	b.mu.Lock()
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Drain()
	}
}
