package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// args 配置中的位置参数；空串、nil、none 视为缺省
type args []string

func (a args) raw(i int) (string, bool) {
	if i >= len(a) {
		return "", false
	}
	s := strings.TrimSpace(a[i])
	switch strings.ToLower(s) {
	case "", "nil", "none", "null":
		return "", false
	}
	return s, true
}

func (a args) str(i int, def string) string {
	if s, ok := a.raw(i); ok {
		return s
	}
	return def
}

func (a args) integer(i int, def int) (int, error) {
	s, ok := a.raw(i)
	if !ok {
		return def, nil
	}
	// cast 会截断小数，位宽与偏移必须是整数
	v, err := cast.ToIntE(s)
	if err != nil || strings.Contains(s, ".") {
		return 0, fmt.Errorf("%w: argument %d: %q is not an integer", ErrBadArgs, i+1, s)
	}
	return v, nil
}

func (a args) unsigned(i int, def uint64) (uint64, error) {
	s, ok := a.raw(i)
	if !ok {
		return def, nil
	}
	v, err := cast.ToUint64E(s)
	if err != nil || strings.Contains(s, ".") {
		return 0, fmt.Errorf("%w: argument %d: %q is not an unsigned integer", ErrBadArgs, i+1, s)
	}
	return v, nil
}

func (a args) boolean(i int, def bool) (bool, error) {
	s, ok := a.raw(i)
	if !ok {
		return def, nil
	}
	v, err := cast.ToBoolE(s)
	if err != nil {
		return false, fmt.Errorf("%w: argument %d: %q is not a boolean", ErrBadArgs, i+1, s)
	}
	return v, nil
}

// optBool 三态布尔，缺省为 nil
func (a args) optBool(i int) (*bool, error) {
	if _, ok := a.raw(i); !ok {
		return nil, nil
	}
	v, err := a.boolean(i, false)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// bytes 0x 前缀按十六进制解析，否则按字面字符串
func (a args) bytes(i int) ([]byte, error) {
	s, ok := a.raw(i)
	if !ok {
		return nil, nil
	}
	return parseBytes(s)
}

func parseBytes(s string) ([]byte, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		h := s[2:]
		if len(h)%2 == 1 {
			h = "0" + h
		}
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex string %q", ErrBadArgs, s)
		}
		return b, nil
	}
	return []byte(s), nil
}

// duration 纯数字按秒（可带小数），否则按 Go 时长格式
func (a args) duration(i int, def time.Duration) (time.Duration, error) {
	s, ok := a.raw(i)
	if !ok {
		return def, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: argument %d: %q is not a duration", ErrBadArgs, i+1, s)
	}
	return d, nil
}
