package bitfield

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ByteOrder 字段字节序
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "LITTLE_ENDIAN"
	}
	return "BIG_ENDIAN"
}

// ParseByteOrder 解析配置中的字节序，空字符串视为大端
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BIG_ENDIAN", "BIG":
		return BigEndian, nil
	case "LITTLE_ENDIAN", "LITTLE":
		return LittleEndian, nil
	}
	return BigEndian, fmt.Errorf("unknown endianness %q", s)
}

// Overflow 写入时数值越界的处理策略
type Overflow int

const (
	OverflowError Overflow = iota
	OverflowTruncate
	OverflowSaturate
)

var (
	ErrOutOfRange   = errors.New("bitfield: access out of range")
	ErrInvalidField = errors.New("bitfield: invalid field definition")
	ErrOverflow     = errors.New("bitfield: value overflow")
)

// Aligned 字段是否按字节对齐且长度为整字节
func Aligned(bitOffset, bitSize int) bool {
	return bitOffset%8 == 0 && bitSize%8 == 0
}

// normalize 负偏移相对于缓冲区末尾
func normalize(buf []byte, bitOffset int) int {
	if bitOffset < 0 {
		return len(buf)*8 + bitOffset
	}
	return bitOffset
}

// span 返回覆盖字段的字节区间 [lo, hi)。
// 非对齐的小端位域以 bitOffset 指向最高有效位所在字节。
func span(bitOffset, bitSize int, order ByteOrder) (lo, hi int, err error) {
	if order == BigEndian || Aligned(bitOffset, bitSize) {
		return bitOffset / 8, (bitOffset+bitSize-1)/8 + 1, nil
	}
	n := ((bitOffset%8)+bitSize-1)/8 + 1
	upper := bitOffset / 8
	lo = upper - n + 1
	if lo < 0 {
		return 0, 0, fmt.Errorf("%w: LITTLE_ENDIAN bitfield with bit_offset %d and bit_size %d", ErrInvalidField, bitOffset, bitSize)
	}
	return lo, upper + 1, nil
}

// BytesNeeded 返回读取该字段所需的最少缓冲区字节数（bitOffset 需非负）
func BytesNeeded(bitOffset, bitSize int, order ByteOrder) (int, error) {
	if bitOffset < 0 {
		return 0, fmt.Errorf("%w: negative bit offset %d", ErrInvalidField, bitOffset)
	}
	_, hi, err := span(bitOffset, bitSize, order)
	return hi, err
}

// ByteRange 返回字段在 buf 中的字节区间，负偏移按 buf 长度换算
func ByteRange(buf []byte, bitOffset, bitSize int, order ByteOrder) (lo, hi int, err error) {
	off := normalize(buf, bitOffset)
	if off < 0 {
		return 0, 0, fmt.Errorf("%w: bit offset %d on %d byte buffer", ErrOutOfRange, bitOffset, len(buf))
	}
	lo, hi, err = span(off, bitSize, order)
	if err != nil {
		return 0, 0, err
	}
	if hi > len(buf) {
		return 0, 0, fmt.Errorf("%w: field %d:%d needs %d bytes, buffer has %d", ErrOutOfRange, bitOffset, bitSize, hi, len(buf))
	}
	return lo, hi, nil
}

func checkIntSize(bitSize int) error {
	if bitSize <= 0 || bitSize > 64 {
		return fmt.Errorf("%w: integer bit size %d", ErrInvalidField, bitSize)
	}
	return nil
}

// ReadUint 读取无符号整数字段
func ReadUint(buf []byte, bitOffset, bitSize int, order ByteOrder) (uint64, error) {
	if err := checkIntSize(bitSize); err != nil {
		return 0, err
	}
	lo, hi, err := ByteRange(buf, bitOffset, bitSize, order)
	if err != nil {
		return 0, err
	}
	off := normalize(buf, bitOffset)

	if Aligned(off, bitSize) {
		var v uint64
		if order == BigEndian {
			for i := lo; i < hi; i++ {
				v = v<<8 | uint64(buf[i])
			}
		} else {
			for i := hi - 1; i >= lo; i-- {
				v = v<<8 | uint64(buf[i])
			}
		}
		return v, nil
	}

	tmp := make([]byte, hi-lo)
	copy(tmp, buf[lo:hi])
	if order == LittleEndian {
		reverse(tmp)
	}
	start := off % 8
	var v uint64
	for i := 0; i < bitSize; i++ {
		bit := start + i
		v = v<<1 | uint64(tmp[bit/8]>>(7-bit%8)&1)
	}
	return v, nil
}

// WriteUint 写入无符号整数字段
func WriteUint(buf []byte, bitOffset, bitSize int, order ByteOrder, value uint64, overflow Overflow) error {
	if err := checkIntSize(bitSize); err != nil {
		return err
	}
	if bitSize < 64 {
		max := uint64(1)<<bitSize - 1
		if value > max {
			switch overflow {
			case OverflowTruncate:
				value &= max
			case OverflowSaturate:
				value = max
			default:
				return fmt.Errorf("%w: value %d does not fit in %d bits", ErrOverflow, value, bitSize)
			}
		}
	}
	lo, hi, err := ByteRange(buf, bitOffset, bitSize, order)
	if err != nil {
		return err
	}
	off := normalize(buf, bitOffset)

	if Aligned(off, bitSize) {
		n := hi - lo
		for i := 0; i < n; i++ {
			b := byte(value >> (8 * i))
			if order == BigEndian {
				buf[hi-1-i] = b
			} else {
				buf[lo+i] = b
			}
		}
		return nil
	}

	tmp := make([]byte, hi-lo)
	copy(tmp, buf[lo:hi])
	if order == LittleEndian {
		reverse(tmp)
	}
	start := off % 8
	for i := 0; i < bitSize; i++ {
		bit := start + i
		mask := byte(1) << (7 - bit%8)
		if value>>(bitSize-1-i)&1 == 1 {
			tmp[bit/8] |= mask
		} else {
			tmp[bit/8] &^= mask
		}
	}
	if order == LittleEndian {
		reverse(tmp)
	}
	copy(buf[lo:hi], tmp)
	return nil
}

// ReadInt 读取有符号整数（补码）
func ReadInt(buf []byte, bitOffset, bitSize int, order ByteOrder) (int64, error) {
	u, err := ReadUint(buf, bitOffset, bitSize, order)
	if err != nil {
		return 0, err
	}
	if bitSize < 64 && u&(uint64(1)<<(bitSize-1)) != 0 {
		u |= ^uint64(0) << bitSize
	}
	return int64(u), nil
}

// WriteInt 写入有符号整数（补码）
func WriteInt(buf []byte, bitOffset, bitSize int, order ByteOrder, value int64, overflow Overflow) error {
	if err := checkIntSize(bitSize); err != nil {
		return err
	}
	if bitSize < 64 {
		min := -(int64(1) << (bitSize - 1))
		max := int64(1)<<(bitSize-1) - 1
		if value < min || value > max {
			switch overflow {
			case OverflowSaturate:
				if value < min {
					value = min
				} else {
					value = max
				}
			case OverflowTruncate:
			default:
				return fmt.Errorf("%w: value %d does not fit in %d signed bits", ErrOverflow, value, bitSize)
			}
		}
	}
	u := uint64(value)
	if bitSize < 64 {
		u &= uint64(1)<<bitSize - 1
	}
	return WriteUint(buf, bitOffset, bitSize, order, u, OverflowError)
}

// ReadFloat 读取 IEEE754 浮点（32/64 位，需字节对齐）
func ReadFloat(buf []byte, bitOffset, bitSize int, order ByteOrder) (float64, error) {
	if bitSize != 32 && bitSize != 64 {
		return 0, fmt.Errorf("%w: float bit size %d", ErrInvalidField, bitSize)
	}
	if normalize(buf, bitOffset)%8 != 0 {
		return 0, fmt.Errorf("%w: float must be byte aligned", ErrInvalidField)
	}
	u, err := ReadUint(buf, bitOffset, bitSize, order)
	if err != nil {
		return 0, err
	}
	if bitSize == 32 {
		return float64(math.Float32frombits(uint32(u))), nil
	}
	return math.Float64frombits(u), nil
}

// WriteFloat 写入 IEEE754 浮点
func WriteFloat(buf []byte, bitOffset, bitSize int, order ByteOrder, value float64) error {
	if bitSize != 32 && bitSize != 64 {
		return fmt.Errorf("%w: float bit size %d", ErrInvalidField, bitSize)
	}
	if normalize(buf, bitOffset)%8 != 0 {
		return fmt.Errorf("%w: float must be byte aligned", ErrInvalidField)
	}
	var u uint64
	if bitSize == 32 {
		u = uint64(math.Float32bits(float32(value)))
	} else {
		u = math.Float64bits(value)
	}
	return WriteUint(buf, bitOffset, bitSize, order, u, OverflowError)
}

// blockRange 计算 STRING/BLOCK 字段区间；bitSize<=0 表示延伸至 (末尾+bitSize)
func blockRange(buf []byte, bitOffset, bitSize int) (lo, hi int, err error) {
	off := normalize(buf, bitOffset)
	if off < 0 || off%8 != 0 {
		return 0, 0, fmt.Errorf("%w: block bit offset %d", ErrInvalidField, bitOffset)
	}
	lo = off / 8
	if bitSize <= 0 {
		hi = len(buf) + bitSize/8
	} else {
		if bitSize%8 != 0 {
			return 0, 0, fmt.Errorf("%w: block bit size %d", ErrInvalidField, bitSize)
		}
		hi = lo + bitSize/8
	}
	if lo > len(buf) || hi > len(buf) || hi < lo {
		return 0, 0, fmt.Errorf("%w: block %d:%d on %d byte buffer", ErrOutOfRange, bitOffset, bitSize, len(buf))
	}
	return lo, hi, nil
}

// ReadBytes 读取 BLOCK/STRING 字段的副本
func ReadBytes(buf []byte, bitOffset, bitSize int) ([]byte, error) {
	lo, hi, err := blockRange(buf, bitOffset, bitSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, hi-lo)
	copy(out, buf[lo:hi])
	return out, nil
}

// WriteBytes 写入 BLOCK/STRING 字段并返回（可能重新分配的）缓冲区。
// 定长字段不足补零，超长按 overflow 策略处理；变长字段（bitSize<=0）会替换区间并调整缓冲区长度。
func WriteBytes(buf []byte, bitOffset, bitSize int, value []byte, overflow Overflow) ([]byte, error) {
	lo, hi, err := blockRange(buf, bitOffset, bitSize)
	if err != nil {
		return buf, err
	}
	if bitSize > 0 {
		n := hi - lo
		if len(value) > n {
			if overflow == OverflowError {
				return buf, fmt.Errorf("%w: %d bytes into %d byte field", ErrOverflow, len(value), n)
			}
			value = value[:n]
		}
		copy(buf[lo:hi], value)
		for i := lo + len(value); i < hi; i++ {
			buf[i] = 0
		}
		return buf, nil
	}
	out := make([]byte, 0, lo+len(value)+len(buf)-hi)
	out = append(out, buf[:lo]...)
	out = append(out, value...)
	out = append(out, buf[hi:]...)
	return out, nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
