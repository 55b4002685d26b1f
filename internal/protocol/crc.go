package protocol

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/bitfield"
	"github.com/taoyao-code/groundlink/internal/crc"
	"github.com/taoyao-code/groundlink/internal/packet"
)

// CrcConfig CRC 字段描述
type CrcConfig struct {
	// ItemName 写方向的 CRC 字段名；为空时在数据末尾追加 CRC
	ItemName   string
	Strip      bool
	Disconnect bool
	BitOffset  int
	BitSize    int
	Order      bitfield.ByteOrder
	// Params 为 nil 时使用该位宽的默认参数
	Params *crc.Params
}

// Crc 校验已分好的帧；写方向计算并填入 CRC
type Crc struct {
	Base
	itemName   string
	strip      bool
	disconnect bool
	bitOffset  int
	bitSize    int
	order      bitfield.ByteOrder
	calc       *crc.Crc

	mu   sync.Mutex
	slot *crcSlot
}

// crcSlot WritePacket 为本次写入预留的 CRC 位置，WriteData 在外层长度等字段写定后计算并填入
type crcSlot struct {
	bitOffset int
	bitSize   int
	order     bitfield.ByteOrder
}

// NewCrc 创建 CRC 协议
func NewCrc(c CrcConfig) (*Crc, error) {
	if c.BitSize != 16 && c.BitSize != 32 && c.BitSize != 64 {
		return nil, fmt.Errorf("%w: crc bit size %d", ErrBadArgs, c.BitSize)
	}
	if c.BitOffset%8 != 0 {
		return nil, fmt.Errorf("%w: crc bit offset %d must be byte aligned", ErrBadArgs, c.BitOffset)
	}
	params, err := crc.Defaults(c.BitSize)
	if err != nil {
		return nil, err
	}
	if c.Params != nil {
		params = *c.Params
		params.Width = c.BitSize
	}
	calc, err := crc.New(params)
	if err != nil {
		return nil, err
	}
	return &Crc{
		Base:       Base{name: "crc"},
		itemName:   c.ItemName,
		strip:      c.Strip,
		disconnect: c.Disconnect,
		bitOffset:  c.BitOffset,
		bitSize:    c.BitSize,
		order:      c.Order,
		calc:       calc,
	}, nil
}

// Calculator 底层 CRC 计算器
func (c *Crc) Calculator() *crc.Crc { return c.calc }

// withoutField 拼接字段前后的字节
func withoutField(data []byte, lo, hi int) []byte {
	out := make([]byte, 0, len(data)-(hi-lo))
	out = append(out, data[:lo]...)
	return append(out, data[hi:]...)
}

// ReadData 校验 CRC；失败时记录日志，按策略继续交付或断开
func (c *Crc) ReadData(data []byte, extra Extra) (DataResult, error) {
	if len(data) == 0 {
		return c.passEmpty(data, extra), nil
	}

	lo, hi, err := bitfield.ByteRange(data, c.bitOffset, c.bitSize, c.order)
	if err != nil {
		c.logger().Error("frame too short for crc",
			zap.String("interface", c.ifaceName()),
			zap.Int("len", len(data)),
			zap.Error(err))
		c.countError()
		if c.disconnect {
			return Disconnect(), nil
		}
		return Frame(data, extra), nil
	}

	found, err := bitfield.ReadUint(data, c.bitOffset, c.bitSize, c.order)
	if err != nil {
		return DataResult{}, err
	}
	body := withoutField(data, lo, hi)
	if calculated := c.calc.Calc(body); calculated != found {
		c.logger().Error("invalid crc detected",
			zap.String("interface", c.ifaceName()),
			zap.String("calculated", fmt.Sprintf("0x%X", calculated)),
			zap.String("found", fmt.Sprintf("0x%X", found)))
		c.countError()
		if c.disconnect {
			return Disconnect(), nil
		}
	}

	if c.strip {
		return Frame(body, extra), nil
	}
	return Frame(data, extra), nil
}

func (c *Crc) countError() {
	if c.env != nil {
		c.env.Metrics.CRCError(c.env.Interface)
	}
}

// WritePacket 预留 CRC 位置：声明了 CRC 字段时定位该字段，否则在报文末尾补零占位，
// 使外层长度字段按含 CRC 的帧长填写
func (c *Crc) WritePacket(p *packet.Packet) (*packet.Packet, Status, error) {
	if c.itemName == "" {
		out := p.Clone()
		out.SetBuffer(append(out.Buffer(), make([]byte, c.bitSize/8)...))
		c.setSlot(&crcSlot{bitOffset: -c.bitSize, bitSize: c.bitSize, order: c.order})
		return out, StatusFrame, nil
	}
	def := p.Definition()
	if def == nil {
		return nil, StatusFrame, fmt.Errorf("%w: crc item %s on undefined packet %s %s", packet.ErrNotDefined, c.itemName, p.Target, p.Name)
	}
	it, ok := def.Item(c.itemName)
	if !ok {
		return nil, StatusFrame, fmt.Errorf("%w: crc item %s", packet.ErrUnknownItem, c.itemName)
	}
	if _, _, err := bitfield.ByteRange(p.Buffer(), it.BitOffset, it.BitSize, it.Order); err != nil {
		return nil, StatusFrame, fmt.Errorf("%w: crc item %s: %v", ErrBufferTooSmall, c.itemName, err)
	}
	c.setSlot(&crcSlot{bitOffset: it.BitOffset, bitSize: it.BitSize, order: it.Order})
	return p, StatusFrame, nil
}

func (c *Crc) setSlot(s *crcSlot) {
	c.mu.Lock()
	c.slot = s
	c.mu.Unlock()
}

// WriteData 在预留位置写入 CRC；未经 WritePacket 预留时在末尾追加
func (c *Crc) WriteData(data []byte, extra Extra) (DataResult, error) {
	c.mu.Lock()
	slot := c.slot
	c.slot = nil
	c.mu.Unlock()

	if slot == nil {
		if c.itemName != "" {
			return Frame(data, extra), nil
		}
		grown := make([]byte, len(data)+c.bitSize/8)
		copy(grown, data)
		data = grown
		slot = &crcSlot{bitOffset: -c.bitSize, bitSize: c.bitSize, order: c.order}
	}
	lo, hi, err := bitfield.ByteRange(data, slot.bitOffset, slot.bitSize, slot.order)
	if err != nil {
		return DataResult{}, fmt.Errorf("%w: crc field: %v", ErrBufferTooSmall, err)
	}
	sum := c.calc.Calc(withoutField(data, lo, hi))
	if err := bitfield.WriteUint(data, slot.bitOffset, slot.bitSize, slot.order, sum, bitfield.OverflowError); err != nil {
		return DataResult{}, err
	}
	return Frame(data, extra), nil
}
