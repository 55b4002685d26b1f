package protocol

import (
	"fmt"
	"strings"

	"github.com/taoyao-code/groundlink/internal/packet"
)

// IgnorePacket 丢弃指定报文；放在读链过滤遥测，放在写链过滤指令
type IgnorePacket struct {
	Base
	target string
	packet string
}

// NewIgnorePacket 创建过滤器
func NewIgnorePacket(target, pkt string) (*IgnorePacket, error) {
	if target == "" || pkt == "" {
		return nil, fmt.Errorf("%w: ignore_packet needs target and packet", ErrBadArgs)
	}
	return &IgnorePacket{
		Base:   Base{name: "ignore_packet"},
		target: strings.ToUpper(target),
		packet: strings.ToUpper(pkt),
	}, nil
}

// Attach 校验报文定义存在
func (f *IgnorePacket) Attach(env *Env) error {
	if env == nil || env.Packets == nil {
		return fmt.Errorf("%w: ignore_packet needs a packet identifier", ErrBadArgs)
	}
	if _, err := env.Packets.Definition(f.target, f.packet, false); err != nil {
		if _, cerr := env.Packets.Definition(f.target, f.packet, true); cerr != nil {
			return err
		}
	}
	return f.Base.Attach(env)
}

func (f *IgnorePacket) matches(p *packet.Packet) bool {
	return p.Target == f.target && p.Name == f.packet
}

// PostRead 识别后匹配则丢弃
func (f *IgnorePacket) PostRead(p *packet.Packet) (*packet.Packet, Status, error) {
	p, ok := f.env.Packets.Define(p, f.env.TlmTargets, false)
	if ok && f.matches(p) {
		return nil, StatusStop, nil
	}
	return p, StatusFrame, nil
}

// WritePacket 匹配的指令不发送
func (f *IgnorePacket) WritePacket(p *packet.Packet) (*packet.Packet, Status, error) {
	if f.matches(p) {
		return nil, StatusStop, nil
	}
	return p, StatusFrame, nil
}
