package protocol

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/packet"
)

// Fixed 定长报文分帧：先累积 minIDSize 字节交给识别器，再按识别出报文的定义长度切帧
type Fixed struct {
	Burst
	minIDSize    int
	telemetry    bool
	raiseUnknown bool

	target   string
	name     string
	received time.Time
}

// NewFixed 创建定长协议
func NewFixed(minIDSize, discard int, sync []byte, telemetry, fill, raiseUnknown bool) (*Fixed, error) {
	if minIDSize <= 0 {
		return nil, fmt.Errorf("%w: min_id_size %d", ErrBadArgs, minIDSize)
	}
	f := &Fixed{minIDSize: minIDSize, telemetry: telemetry, raiseUnknown: raiseUnknown}
	if err := f.init("fixed", discard, sync, fill); err != nil {
		return nil, err
	}
	f.reduce = f.identifyAndFinish
	return f, nil
}

// Attach 需要报文识别器
func (f *Fixed) Attach(env *Env) error {
	if env == nil || env.Packets == nil {
		return fmt.Errorf("%w: fixed protocol needs a packet identifier", ErrBadArgs)
	}
	return f.Burst.Attach(env)
}

func (f *Fixed) targets() []string {
	if f.telemetry {
		return f.env.TlmTargets
	}
	return f.env.CmdTargets
}

func (f *Fixed) identifyAndFinish() (DataResult, error) {
	if len(f.data) < f.minIDSize+f.discard {
		return Stop(), nil
	}

	def := f.env.Packets.Identify(f.data[f.discard:], f.targets(), !f.telemetry)
	if def != nil {
		need := def.DefinedLength() + f.discard
		if len(f.data) < need {
			return Stop(), nil
		}
		f.received = time.Now()
		f.target, f.name = def.Target, def.Name
		return Frame(f.take(need), f.extra), nil
	}

	if f.raiseUnknown {
		return DataResult{}, fmt.Errorf("%w: unknown data received by fixed protocol (%d bytes)",
			packet.ErrUnknownPacket, len(f.data))
	}
	f.logger().Warn("fixed protocol could not identify data",
		zap.String("interface", f.ifaceName()),
		zap.Int("len", len(f.data)))
	f.received = time.Time{}
	f.target, f.name = "", ""
	out := f.data
	f.data = nil
	return Frame(out, f.extra), nil
}

// PostRead 填入识别结果
func (f *Fixed) PostRead(p *packet.Packet) (*packet.Packet, Status, error) {
	if f.target != "" {
		p.Target, p.Name = f.target, f.name
		p.ReceivedTime = f.received
	}
	return p, StatusFrame, nil
}
