package crc

import (
	"errors"
	"fmt"

	rocksoft "github.com/snksoft/crc"
)

// Params CRC 参数（多项式以非反射形式给出）
type Params struct {
	Width   int
	Poly    uint64
	Seed    uint64
	XorOut  uint64
	Reflect bool
}

// 默认参数：CRC-16/CCITT-FALSE、CRC-32/IEEE、CRC-64/XZ
var (
	CRC16 = Params{Width: 16, Poly: 0x1021, Seed: 0xFFFF, XorOut: 0, Reflect: false}
	CRC32 = Params{Width: 32, Poly: 0x04C11DB7, Seed: 0xFFFFFFFF, XorOut: 0xFFFFFFFF, Reflect: true}
	CRC64 = Params{Width: 64, Poly: 0x42F0E1EBA9EA3693, Seed: 0xFFFFFFFFFFFFFFFF, XorOut: 0xFFFFFFFFFFFFFFFF, Reflect: true}
)

var ErrWidth = errors.New("crc: width must be 16, 32 or 64")

// Defaults 返回指定位宽的默认参数
func Defaults(width int) (Params, error) {
	switch width {
	case 16:
		return CRC16, nil
	case 32:
		return CRC32, nil
	case 64:
		return CRC64, nil
	}
	return Params{}, fmt.Errorf("%w: got %d", ErrWidth, width)
}

// Crc CRC 计算器，构造后只读，可并发使用
type Crc struct {
	p     Params
	mask  uint64
	table *rocksoft.Table
}

// New 根据参数构建查表；Reflect 同时作用于输入与输出
func New(p Params) (*Crc, error) {
	if p.Width != 16 && p.Width != 32 && p.Width != 64 {
		return nil, fmt.Errorf("%w: got %d", ErrWidth, p.Width)
	}
	mask := ^uint64(0) >> (64 - p.Width)
	return &Crc{
		p:    p,
		mask: mask,
		table: rocksoft.NewTable(&rocksoft.Parameters{
			Width:      uint(p.Width),
			Polynomial: p.Poly & mask,
			ReflectIn:  p.Reflect,
			ReflectOut: p.Reflect,
			Init:       p.Seed & mask,
			FinalXor:   p.XorOut & mask,
		}),
	}, nil
}

// MustDefault 默认参数构建，仅用于位宽已校验的场景
func MustDefault(width int) *Crc {
	p, err := Defaults(width)
	if err != nil {
		panic(err)
	}
	c, err := New(p)
	if err != nil {
		panic(err)
	}
	return c
}

// Width 位宽
func (c *Crc) Width() int { return c.p.Width }

// Params 返回构建参数
func (c *Crc) Params() Params { return c.p }

// Calc 计算 data 的 CRC
func (c *Crc) Calc(data []byte) uint64 {
	return c.table.CalculateCRC(data) & c.mask
}

// Verify 校验 data 的 CRC 是否等于 want
func (c *Crc) Verify(data []byte, want uint64) bool {
	return c.Calc(data) == want&c.mask
}
