package protocol

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/taoyao-code/groundlink/internal/bitfield"
	"github.com/taoyao-code/groundlink/internal/crc"
)

// builder 按位置参数构造协议，allowEmptyAt 为 allow_empty_data 参数的位置
type builder struct {
	build        func(a args) (Protocol, error)
	allowEmptyAt int
}

// 静态注册表：配置中的协议类型 → 构造函数
var registry = map[string]builder{
	"burst":         {buildBurst, 3},
	"fixed":         {buildFixed, 6},
	"length":        {buildLength, 9},
	"crc":           {buildCrc, 10},
	"preidentified": {buildPreidentified, 2},
	"template":      {buildTemplate, 12},
	"terminated":    {buildTerminated, 6},
	"override":      {buildOverride, 0},
	"ignore_packet": {buildIgnorePacket, 2},
}

// Types 已注册的协议类型
func Types() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build 按类型名与位置参数创建协议实例
func Build(typ string, positional []string) (Protocol, error) {
	key := strings.ToLower(strings.TrimSpace(typ))
	key = strings.TrimSuffix(key, "_protocol")
	b, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, typ)
	}
	a := args(positional)
	p, err := b.build(a)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	allow, err := a.optBool(b.allowEmptyAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	p.base().allowEmpty = allow
	return p, nil
}

func buildBurst(a args) (Protocol, error) {
	discard, err := a.integer(0, 0)
	if err != nil {
		return nil, err
	}
	sync, err := a.bytes(1)
	if err != nil {
		return nil, err
	}
	fill, err := a.boolean(2, false)
	if err != nil {
		return nil, err
	}
	return NewBurst(discard, sync, fill)
}

func buildFixed(a args) (Protocol, error) {
	if _, ok := a.raw(0); !ok {
		return nil, fmt.Errorf("%w: min_id_size is required", ErrBadArgs)
	}
	minID, err := a.integer(0, 0)
	if err != nil {
		return nil, err
	}
	discard, err := a.integer(1, 0)
	if err != nil {
		return nil, err
	}
	sync, err := a.bytes(2)
	if err != nil {
		return nil, err
	}
	telemetry, err := a.boolean(3, true)
	if err != nil {
		return nil, err
	}
	fill, err := a.boolean(4, false)
	if err != nil {
		return nil, err
	}
	raise, err := a.boolean(5, false)
	if err != nil {
		return nil, err
	}
	return NewFixed(minID, discard, sync, telemetry, fill, raise)
}

func buildLength(a args) (Protocol, error) {
	var c LengthConfig
	var err error
	if c.BitOffset, err = a.integer(0, 0); err != nil {
		return nil, err
	}
	if c.BitSize, err = a.integer(1, 16); err != nil {
		return nil, err
	}
	if c.ValueOffset, err = a.integer(2, 0); err != nil {
		return nil, err
	}
	if c.BytesPerCount, err = a.integer(3, 1); err != nil {
		return nil, err
	}
	if c.Order, err = bitfield.ParseByteOrder(a.str(4, "BIG_ENDIAN")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	if c.Discard, err = a.integer(5, 0); err != nil {
		return nil, err
	}
	if c.Sync, err = a.bytes(6); err != nil {
		return nil, err
	}
	if c.MaxLength, err = a.integer(7, 0); err != nil {
		return nil, err
	}
	if c.Fill, err = a.boolean(8, true); err != nil {
		return nil, err
	}
	return NewLengthField(c)
}

func buildCrc(a args) (Protocol, error) {
	c := CrcConfig{ItemName: strings.ToUpper(a.str(0, ""))}
	switch d := strings.ToUpper(a.str(1, "KEEP")); d {
	case "KEEP", "FALSE":
	case "STRIP", "TRUE":
		c.Strip = true
	default:
		return nil, fmt.Errorf("%w: crc disposition %q", ErrBadArgs, d)
	}
	switch s := strings.ToUpper(a.str(2, "ERROR")); s {
	case "ERROR":
	case "DISCONNECT":
		c.Disconnect = true
	default:
		return nil, fmt.Errorf("%w: crc strategy %q", ErrBadArgs, s)
	}
	var err error
	if c.BitOffset, err = a.integer(3, -32); err != nil {
		return nil, err
	}
	if c.BitSize, err = a.integer(4, 32); err != nil {
		return nil, err
	}
	if c.Order, err = bitfield.ParseByteOrder(a.str(5, "BIG_ENDIAN")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}

	_, hasPoly := a.raw(6)
	_, hasSeed := a.raw(7)
	_, hasXor := a.raw(8)
	_, hasReflect := a.raw(9)
	if hasPoly || hasSeed || hasXor || hasReflect {
		p, err := crc.Defaults(c.BitSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
		}
		if p.Poly, err = a.unsigned(6, p.Poly); err != nil {
			return nil, err
		}
		if p.Seed, err = a.unsigned(7, p.Seed); err != nil {
			return nil, err
		}
		if p.XorOut, err = a.unsigned(8, p.XorOut); err != nil {
			return nil, err
		}
		if p.Reflect, err = a.boolean(9, p.Reflect); err != nil {
			return nil, err
		}
		c.Params = &p
	}
	return NewCrc(c)
}

func buildPreidentified(a args) (Protocol, error) {
	sync, err := a.bytes(0)
	if err != nil {
		return nil, err
	}
	maxLength, err := a.integer(1, 0)
	if err != nil {
		return nil, err
	}
	return NewPreidentified(sync, maxLength)
}

func buildTerminated(a args) (Protocol, error) {
	writeTerm, err := a.bytes(0)
	if err != nil {
		return nil, err
	}
	readTerm, err := a.bytes(1)
	if err != nil {
		return nil, err
	}
	strip, err := a.boolean(2, true)
	if err != nil {
		return nil, err
	}
	discard, err := a.integer(3, 0)
	if err != nil {
		return nil, err
	}
	sync, err := a.bytes(4)
	if err != nil {
		return nil, err
	}
	fill, err := a.boolean(5, false)
	if err != nil {
		return nil, err
	}
	return NewTerminated(writeTerm, readTerm, strip, discard, sync, fill)
}

func buildTemplate(a args) (Protocol, error) {
	var c TemplateConfig
	var err error
	if c.WriteTerm, err = a.bytes(0); err != nil {
		return nil, err
	}
	if c.ReadTerm, err = a.bytes(1); err != nil {
		return nil, err
	}
	if c.InitialReadDelay, err = a.duration(2, 0); err != nil {
		return nil, err
	}
	if c.ConnectCompleteDelay, err = a.duration(3, 0); err != nil {
		return nil, err
	}
	if c.ResponseLines, err = a.integer(4, 1); err != nil {
		return nil, err
	}
	if c.RaiseOnTimeout, err = a.boolean(5, false); err != nil {
		return nil, err
	}
	if c.ResponseTimeout, err = a.duration(6, 5*time.Second); err != nil {
		return nil, err
	}
	if c.IgnoreLines, err = a.integer(7, 0); err != nil {
		return nil, err
	}
	if c.StripReadTerm, err = a.boolean(8, true); err != nil {
		return nil, err
	}
	if c.Discard, err = a.integer(9, 0); err != nil {
		return nil, err
	}
	if c.Sync, err = a.bytes(10); err != nil {
		return nil, err
	}
	if c.Fill, err = a.boolean(11, false); err != nil {
		return nil, err
	}
	return NewTemplate(c)
}

func buildOverride(args) (Protocol, error) {
	return NewOverride(), nil
}

func buildIgnorePacket(a args) (Protocol, error) {
	return NewIgnorePacket(a.str(0, ""), a.str(1, ""))
}
