package protocol

import (
	"fmt"

	"github.com/taoyao-code/groundlink/internal/packet"
)

// Source 从传输层读取一段数据；返回错误表示本轮读取失败（含超时）
type Source func() ([]byte, Extra, error)

// Sink 将编码后的数据写入传输层
type Sink func(data []byte, extra Extra) error

// Chain 一个连接上的读协议列表与写协议列表。
// 写协议按声明逆序执行：调用方报文 → 最后声明的写协议 → … → 第一个 → 传输层。
type Chain struct {
	read  []Protocol
	write []Protocol
	all   []Protocol
}

// NewChain 创建空协议链
func NewChain() *Chain { return &Chain{} }

// Add 追加协议；READ_WRITE 时读写两侧共用同一实例
func (c *Chain) Add(p Protocol, dir Direction) {
	if dir == DirRead || dir == DirReadWrite {
		c.read = append(c.read, p)
	}
	if dir == DirWrite || dir == DirReadWrite {
		c.write = append([]Protocol{p}, c.write...)
	}
	c.all = append(c.all, p)
	for i, rp := range c.read {
		rp.base().lastRead = i == len(c.read)-1
	}
}

// ReadProtocols 读方向协议（执行顺序）
func (c *Chain) ReadProtocols() []Protocol { return c.read }

// WriteProtocols 写方向协议（执行顺序）
func (c *Chain) WriteProtocols() []Protocol { return c.write }

// Attach 为全部协议绑定环境
func (c *Chain) Attach(env *Env) error {
	for _, p := range c.all {
		if err := p.Attach(env); err != nil {
			return fmt.Errorf("attach %s: %w", p.Name(), err)
		}
	}
	return nil
}

// OnConnect 连接建立后重置全部协议状态
func (c *Chain) OnConnect() {
	for _, p := range c.all {
		p.OnConnect()
	}
}

// OnDisconnect 断开后清理全部协议状态并唤醒等待者
func (c *Chain) OnDisconnect() {
	for _, p := range c.all {
		p.OnDisconnect()
	}
}

// Read 驱动读协议链直到产出一帧。
// 首轮以及 PostRead 吞掉一帧之后向链注入空数据，使已缓存在协议内的帧无需等待新数据即可交付；
// 其余轮次从 source 读取。返回 StatusDisconnect 时调用方应断开连接。
func (c *Chain) Read(source Source) (*packet.Packet, Status, error) {
	first := true
	for {
		var data []byte
		var extra Extra
		if !first || len(c.read) == 0 {
			d, e, err := source()
			if err != nil {
				return nil, StatusStop, err
			}
			data, extra = d, e
		} else {
			data = []byte{}
			first = false
		}

		status := StatusFrame
		for _, p := range c.read {
			res, err := p.ReadData(data, extra)
			if err != nil {
				return nil, StatusDisconnect, fmt.Errorf("%s read: %w", p.Name(), err)
			}
			if res.Status != StatusFrame {
				status = res.Status
				break
			}
			data, extra = res.Data, res.Extra
		}
		if status == StatusDisconnect {
			return nil, StatusDisconnect, nil
		}
		if status == StatusStop {
			continue
		}

		pkt := packet.New(data)
		if extra != nil {
			pkt.Extra = extra
		}
		for _, p := range c.read {
			next, st, err := p.PostRead(pkt)
			if err != nil {
				return nil, StatusDisconnect, fmt.Errorf("%s post read: %w", p.Name(), err)
			}
			if st != StatusFrame {
				status = st
				break
			}
			pkt = next
		}
		switch status {
		case StatusDisconnect:
			return nil, StatusDisconnect, nil
		case StatusStop:
			first = true
			continue
		}
		return pkt, StatusFrame, nil
	}
}

// Write 依次执行写协议并交给 sink。返回 false 表示报文被某个协议拦截未发送
func (c *Chain) Write(p *packet.Packet, sink Sink) (bool, error) {
	for _, proto := range c.write {
		next, st, err := proto.WritePacket(p)
		if err != nil {
			return false, fmt.Errorf("%s write packet: %w", proto.Name(), err)
		}
		switch st {
		case StatusStop:
			return false, nil
		case StatusDisconnect:
			return false, ErrDisconnectRequested
		}
		p = next
	}

	data := append([]byte(nil), p.Buffer()...)
	var extra Extra
	for _, proto := range c.write {
		res, err := proto.WriteData(data, extra)
		if err != nil {
			return false, fmt.Errorf("%s write data: %w", proto.Name(), err)
		}
		switch res.Status {
		case StatusStop:
			return false, nil
		case StatusDisconnect:
			return false, ErrDisconnectRequested
		}
		data, extra = res.Data, res.Extra
	}

	if err := sink(data, extra); err != nil {
		return false, err
	}

	for _, proto := range c.write {
		if err := proto.PostWrite(p, data, extra); err != nil {
			return true, fmt.Errorf("%s post write: %w", proto.Name(), err)
		}
	}
	return true, nil
}
