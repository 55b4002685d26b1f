package packet

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownItem   = errors.New("unknown item")
	ErrUnknownPacket = errors.New("unknown packet")
	ErrNotDefined    = errors.New("packet not defined")
)

// Packet 帧：一段连续字节及其元数据。
// Target/Name 均非空时视为已识别；关联 Definition 后视为已定义。
type Packet struct {
	Target       string
	Name         string
	ReceivedTime time.Time
	Stored       bool
	Extra        map[string]any

	buf       []byte
	def       *Definition
	overrides map[string]any
}

// New 以 buf 为内容创建未识别的帧，buf 所有权转移给帧
func New(buf []byte) *Packet {
	return &Packet{buf: buf}
}

// Buffer 返回底层缓冲区（可原地修改）
func (p *Packet) Buffer() []byte { return p.buf }

// SetBuffer 替换缓冲区
func (p *Packet) SetBuffer(b []byte) { p.buf = b }

// Len 字节长度
func (p *Packet) Len() int { return len(p.buf) }

// Identified 是否已知目标与报文名
func (p *Packet) Identified() bool { return p.Target != "" && p.Name != "" }

// Defined 是否已关联字段布局
func (p *Packet) Defined() bool { return p.def != nil }

// Definition 字段布局
func (p *Packet) Definition() *Definition { return p.def }

// Define 关联字段布局并同步名称
func (p *Packet) Define(d *Definition) {
	p.def = d
	if d != nil {
		p.Target, p.Name = d.Target, d.Name
	}
}

// Clone 深拷贝
func (p *Packet) Clone() *Packet {
	c := *p
	c.buf = append([]byte(nil), p.buf...)
	if p.Extra != nil {
		c.Extra = make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	if p.overrides != nil {
		c.overrides = make(map[string]any, len(p.overrides))
		for k, v := range p.overrides {
			c.overrides[k] = v
		}
	}
	return &c
}

func (p *Packet) item(name string) (*Item, error) {
	if p.def == nil {
		return nil, fmt.Errorf("%w: read %s", ErrNotDefined, name)
	}
	it, ok := p.def.Item(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s %s", ErrUnknownItem, p.Target, p.Name, name)
	}
	return it, nil
}

// Read 读取字段值。CONVERTED 优先返回覆盖值，否则执行读转换
func (p *Packet) Read(name string, vt ValueType) (any, error) {
	it, err := p.item(name)
	if err != nil {
		return nil, err
	}
	if vt == Converted {
		if v, ok := p.overrides[name]; ok {
			return v, nil
		}
	}
	raw, err := it.read(p.buf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if vt == Converted {
		return it.convert(raw), nil
	}
	return raw, nil
}

// Write 写入字段原始值
func (p *Packet) Write(name string, value any) error {
	it, err := p.item(name)
	if err != nil {
		return err
	}
	buf, err := it.write(p.buf, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	p.buf = buf
	return nil
}

// SetConvertedOverride 设置转换值覆盖（绕过读转换）
func (p *Packet) SetConvertedOverride(name string, value any) error {
	if _, err := p.item(name); err != nil {
		return err
	}
	if p.overrides == nil {
		p.overrides = make(map[string]any)
	}
	p.overrides[name] = value
	return nil
}

// FillIDValues 将识别字段强制写为声明值
func (p *Packet) FillIDValues() error {
	if p.def == nil {
		return ErrNotDefined
	}
	for _, it := range p.def.IDItems() {
		buf, err := it.write(p.buf, it.IDValue)
		if err != nil {
			return fmt.Errorf("id item %s: %w", it.Name, err)
		}
		p.buf = buf
	}
	return nil
}
