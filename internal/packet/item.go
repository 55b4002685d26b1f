package packet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/taoyao-code/groundlink/internal/bitfield"
)

// DataType 字段数据类型
type DataType int

const (
	Uint DataType = iota
	Int
	Float
	String
	Block
)

func (d DataType) String() string {
	switch d {
	case Int:
		return "INT"
	case Float:
		return "FLOAT"
	case String:
		return "STRING"
	case Block:
		return "BLOCK"
	default:
		return "UINT"
	}
}

// ParseDataType 解析数据类型名称
func ParseDataType(s string) (DataType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UINT", "":
		return Uint, nil
	case "INT":
		return Int, nil
	case "FLOAT":
		return Float, nil
	case "STRING":
		return String, nil
	case "BLOCK":
		return Block, nil
	}
	return Uint, fmt.Errorf("unknown data type %q", s)
}

// ValueType 读写值的层级：原始值或转换后的值
type ValueType int

const (
	Raw ValueType = iota
	Converted
)

func (v ValueType) String() string {
	if v == Converted {
		return "CONVERTED"
	}
	return "RAW"
}

func (v ValueType) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *ValueType) UnmarshalText(b []byte) error {
	t, err := ParseValueType(string(b))
	if err != nil {
		return err
	}
	*v = t
	return nil
}

// ParseValueType 解析 RAW / CONVERTED
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RAW", "":
		return Raw, nil
	case "CONVERTED", "CONV":
		return Converted, nil
	}
	return Raw, fmt.Errorf("unknown value type %q", s)
}

// Polynomial 多项式读转换：c0 + c1*x + c2*x^2 ...
type Polynomial []float64

// Convert 对原始值执行多项式转换
func (p Polynomial) Convert(raw float64) float64 {
	var out float64
	for i, c := range p {
		out += c * math.Pow(raw, float64(i))
	}
	return out
}

// Item 报文中的一个位域字段
type Item struct {
	Name       string
	BitOffset  int
	BitSize    int
	DataType   DataType
	Order      bitfield.ByteOrder
	IDValue    any
	Conversion Polynomial
	Overflow   bitfield.Overflow
}

// IsID 是否为识别字段
func (it *Item) IsID() bool { return it.IDValue != nil }

// read 读取原始值
func (it *Item) read(buf []byte) (any, error) {
	switch it.DataType {
	case Int:
		return bitfield.ReadInt(buf, it.BitOffset, it.BitSize, it.Order)
	case Float:
		return bitfield.ReadFloat(buf, it.BitOffset, it.BitSize, it.Order)
	case String:
		b, err := bitfield.ReadBytes(buf, it.BitOffset, it.BitSize)
		if err != nil {
			return nil, err
		}
		if i := strings.IndexByte(string(b), 0); i >= 0 {
			b = b[:i]
		}
		return string(b), nil
	case Block:
		return bitfield.ReadBytes(buf, it.BitOffset, it.BitSize)
	default:
		return bitfield.ReadUint(buf, it.BitOffset, it.BitSize, it.Order)
	}
}

// write 写入原始值，返回可能被重新分配的缓冲区
func (it *Item) write(buf []byte, value any) ([]byte, error) {
	switch it.DataType {
	case Int:
		v, err := toInt(value)
		if err != nil {
			return buf, fmt.Errorf("item %s: %w", it.Name, err)
		}
		return buf, bitfield.WriteInt(buf, it.BitOffset, it.BitSize, it.Order, v, it.Overflow)
	case Float:
		v, err := toFloat(value)
		if err != nil {
			return buf, fmt.Errorf("item %s: %w", it.Name, err)
		}
		return buf, bitfield.WriteFloat(buf, it.BitOffset, it.BitSize, it.Order, v)
	case String, Block:
		var b []byte
		switch v := value.(type) {
		case []byte:
			b = v
		case string:
			b = []byte(v)
		default:
			b = []byte(fmt.Sprint(v))
		}
		return bitfield.WriteBytes(buf, it.BitOffset, it.BitSize, b, it.Overflow)
	default:
		v, err := toUint(value)
		if err != nil {
			return buf, fmt.Errorf("item %s: %w", it.Name, err)
		}
		return buf, bitfield.WriteUint(buf, it.BitOffset, it.BitSize, it.Order, v, it.Overflow)
	}
}

// convert 对原始值应用读转换
func (it *Item) convert(raw any) any {
	if len(it.Conversion) == 0 {
		return raw
	}
	f, err := toFloat(raw)
	if err != nil {
		return raw
	}
	return it.Conversion.Convert(f)
}

// idMatches 比较识别字段的值
func (it *Item) idMatches(v any) bool {
	return valueKey(v) == valueKey(it.IDValue)
}

// valueKey 归一化数值用于比较与哈希
func valueKey(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 64)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e18 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	if i, err := toInt(v); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if u, err := toUint(v); err == nil {
		return strconv.FormatUint(u, 10)
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to integer", x)
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func toUint(v any) (uint64, error) {
	switch x := v.(type) {
	case uint64:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if u, err := strconv.ParseUint(s, 0, 64); err == nil {
			return u, nil
		}
	}
	i, err := toInt(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("negative value %d for unsigned item", i)
	}
	return uint64(i), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case uint64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float", x)
		}
		return f, nil
	}
	i, err := toInt(v)
	if err != nil {
		return 0, err
	}
	return float64(i), nil
}
