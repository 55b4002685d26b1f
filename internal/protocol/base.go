package protocol

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/packet"
)

// Base 协议公共部分：空数据策略、日志与运行环境
type Base struct {
	name string
	// allowEmpty 为 nil 时自动：仅链上最后一个读协议在空数据时返回 STOP
	allowEmpty *bool
	lastRead   bool
	env        *Env
	log        *zap.Logger
}

func (b *Base) base() *Base { return b }

// Name 协议名
func (b *Base) Name() string { return b.name }

// SetAllowEmptyData 设置空数据策略，nil 表示自动
func (b *Base) SetAllowEmptyData(v *bool) { b.allowEmpty = v }

// Attach 绑定运行环境
func (b *Base) Attach(env *Env) error {
	b.env = env
	if env != nil && env.Logger != nil {
		b.log = env.Logger.With(zap.String("protocol", b.name))
	}
	return nil
}

func (b *Base) logger() *zap.Logger {
	if b.log == nil {
		return zap.NewNop()
	}
	return b.log
}

func (b *Base) ifaceName() string {
	if b.env == nil {
		return ""
	}
	return b.env.Interface
}

func (b *Base) OnConnect()    {}
func (b *Base) OnDisconnect() {}

// ReadData 默认透传
func (b *Base) ReadData(data []byte, extra Extra) (DataResult, error) {
	return b.passEmpty(data, extra), nil
}

// passEmpty 空数据时按策略决定 STOP 还是继续向后传递
func (b *Base) passEmpty(data []byte, extra Extra) DataResult {
	if len(data) == 0 {
		if b.allowEmpty == nil {
			if b.lastRead {
				return Stop()
			}
		} else if !*b.allowEmpty {
			return Stop()
		}
	}
	return Frame(data, extra)
}

func (b *Base) PostRead(p *packet.Packet) (*packet.Packet, Status, error) {
	return p, StatusFrame, nil
}

func (b *Base) WritePacket(p *packet.Packet) (*packet.Packet, Status, error) {
	return p, StatusFrame, nil
}

func (b *Base) WriteData(data []byte, extra Extra) (DataResult, error) {
	return Frame(data, extra), nil
}

func (b *Base) PostWrite(*packet.Packet, []byte, Extra) error { return nil }
