package protocol

import (
	"fmt"

	"github.com/taoyao-code/groundlink/internal/bitfield"
	"github.com/taoyao-code/groundlink/internal/packet"
)

// LengthField 长度字段分帧。
// 帧长（字节，自同步字起算）=（字段原始值 + valueOffset）× bytesPerCount。
type LengthField struct {
	Burst
	bitOffset     int
	bitSize       int
	valueOffset   int
	bytesPerCount int
	order         bitfield.ByteOrder
	maxLength     int
	bytesNeeded   int
}

// LengthConfig 长度字段描述
type LengthConfig struct {
	BitOffset     int
	BitSize       int
	ValueOffset   int
	BytesPerCount int
	Order         bitfield.ByteOrder
	Discard       int
	Sync          []byte
	MaxLength     int // 0 不限制
	Fill          bool
}

// NewLengthField 创建长度字段协议
func NewLengthField(c LengthConfig) (*LengthField, error) {
	if c.BitOffset < 0 || c.BitSize <= 0 || c.BitSize > 64 {
		return nil, fmt.Errorf("%w: length field %d:%d", ErrBadArgs, c.BitOffset, c.BitSize)
	}
	if c.BytesPerCount <= 0 {
		return nil, fmt.Errorf("%w: length_bytes_per_count %d", ErrBadArgs, c.BytesPerCount)
	}
	if c.MaxLength < 0 {
		return nil, fmt.Errorf("%w: max_length %d", ErrBadArgs, c.MaxLength)
	}
	need, err := bitfield.BytesNeeded(c.BitOffset, c.BitSize, c.Order)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	l := &LengthField{
		bitOffset:     c.BitOffset,
		bitSize:       c.BitSize,
		valueOffset:   c.ValueOffset,
		bytesPerCount: c.BytesPerCount,
		order:         c.Order,
		maxLength:     c.MaxLength,
		bytesNeeded:   max(need, len(c.Sync)),
	}
	if err := l.init("length", c.Discard, c.Sync, c.Fill); err != nil {
		return nil, err
	}
	l.reduce = l.reduceLength
	return l, nil
}

// FrameLength 由原始字段值计算帧长
func (l *LengthField) FrameLength(raw uint64) int64 {
	return (int64(raw) + int64(l.valueOffset)) * int64(l.bytesPerCount)
}

// RawLength 由帧长反推字段原始值
func (l *LengthField) RawLength(frameLen int) (uint64, error) {
	if l.maxLength > 0 && frameLen > l.maxLength {
		return 0, fmt.Errorf("%w: calculated length %d larger than max_length %d", ErrMaxLength, frameLen, l.maxLength)
	}
	raw := frameLen/l.bytesPerCount - l.valueOffset
	if raw < 0 {
		return 0, fmt.Errorf("%w: frame length %d yields negative field value %d", ErrLengthField, frameLen, raw)
	}
	return uint64(raw), nil
}

func (l *LengthField) reduceLength() (DataResult, error) {
	if len(l.data) < l.bytesNeeded {
		return Stop(), nil
	}
	raw, err := bitfield.ReadUint(l.data, l.bitOffset, l.bitSize, l.order)
	if err != nil {
		return DataResult{}, err
	}
	length := l.FrameLength(raw)
	if l.maxLength > 0 && length > int64(l.maxLength) {
		return DataResult{}, fmt.Errorf("%w: length value received %d > %d", ErrMaxLength, length, l.maxLength)
	}
	if length*8 < int64(l.bitOffset+l.bitSize) {
		return DataResult{}, fmt.Errorf("%w: calculated packet length of %d bits < (offset:%d + size:%d)",
			ErrLengthField, length*8, l.bitOffset, l.bitSize)
	}
	if int64(len(l.data)) < length {
		return Stop(), nil
	}
	return Frame(l.take(int(length)), l.extra), nil
}

// WritePacket 长度字段在报文内时直接写入报文缓冲区，字段超出报文时补零扩展
func (l *LengthField) WritePacket(p *packet.Packet) (*packet.Packet, Status, error) {
	if l.fill && l.bitOffset >= l.discard*8 {
		offset := l.bitOffset - l.discard*8
		need, err := bitfield.BytesNeeded(offset, l.bitSize, l.order)
		if err != nil {
			return nil, StatusFrame, err
		}
		buf := p.Buffer()
		if len(buf) < need {
			buf = append(buf, make([]byte, need-len(buf))...)
			p.SetBuffer(buf)
		}
		raw, err := l.RawLength(len(buf) + l.discard)
		if err != nil {
			return nil, StatusFrame, err
		}
		if err := bitfield.WriteUint(buf, offset, l.bitSize, l.order, raw, bitfield.OverflowError); err != nil {
			return nil, StatusFrame, fmt.Errorf("write length field: %w", err)
		}
	}
	return l.Burst.WritePacket(p)
}

// WriteData 补回丢弃区后，长度字段在丢弃区内时写入数据流
func (l *LengthField) WriteData(data []byte, extra Extra) (DataResult, error) {
	res, err := l.Burst.WriteData(data, extra)
	if err != nil {
		return res, err
	}
	data = res.Data
	if l.maxLength > 0 && len(data) > l.maxLength {
		return DataResult{}, fmt.Errorf("%w: frame length %d larger than max_length %d", ErrMaxLength, len(data), l.maxLength)
	}
	if l.fill && l.bitOffset < l.discard*8 {
		if len(data) < l.bytesNeeded {
			return DataResult{}, fmt.Errorf("%w: %d bytes cannot hold length field", ErrBufferTooSmall, len(data))
		}
		raw, err := l.RawLength(len(data))
		if err != nil {
			return DataResult{}, err
		}
		if err := bitfield.WriteUint(data, l.bitOffset, l.bitSize, l.order, raw, bitfield.OverflowError); err != nil {
			return DataResult{}, fmt.Errorf("write length field: %w", err)
		}
	}
	return res, nil
}
