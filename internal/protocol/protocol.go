// Package protocol 帧协议链：把无结构字节流切分为帧，并在写方向恢复帧格式。
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/metrics"
	"github.com/taoyao-code/groundlink/internal/packet"
)

var (
	ErrMaxLength           = errors.New("length exceeds max_length")
	ErrBufferTooSmall      = errors.New("buffer too small")
	ErrLengthField         = errors.New("invalid length field")
	ErrTerminatorInPayload = errors.New("packet contains termination characters")
	ErrResponseTimeout     = errors.New("timeout waiting for response")
	ErrResponseCanceled    = errors.New("response wait canceled by disconnect")
	ErrUnexpectedResponse  = errors.New("unexpected response")
	ErrNoTemplate          = errors.New("command has no template")
	ErrDisconnectRequested = errors.New("protocol requested disconnect")
	ErrBadArgs             = errors.New("invalid protocol arguments")
	ErrUnknownProtocol     = errors.New("unknown protocol type")
)

// Status 每个阶段的处理结果标记
type Status int

const (
	// StatusFrame 数据（或报文）可交给下一阶段
	StatusFrame Status = iota
	// StatusStop 需要更多数据，本轮不产出帧
	StatusStop
	// StatusDisconnect 要求断开连接
	StatusDisconnect
)

func (s Status) String() string {
	switch s {
	case StatusStop:
		return "STOP"
	case StatusDisconnect:
		return "DISCONNECT"
	default:
		return "FRAME"
	}
}

// Extra 随数据流转的附加信息
type Extra = map[string]any

// DataResult 数据阶段结果
type DataResult struct {
	Data   []byte
	Extra  Extra
	Status Status
}

// Frame 产出数据
func Frame(data []byte, extra Extra) DataResult {
	return DataResult{Data: data, Extra: extra, Status: StatusFrame}
}

// Stop 需要更多数据
func Stop() DataResult { return DataResult{Status: StatusStop} }

// Disconnect 请求断开
func Disconnect() DataResult { return DataResult{Status: StatusDisconnect} }

// Direction 协议在链中的方向
type Direction int

const (
	DirRead Direction = iota + 1
	DirWrite
	DirReadWrite
)

func (d Direction) String() string {
	switch d {
	case DirRead:
		return "READ"
	case DirWrite:
		return "WRITE"
	default:
		return "READ_WRITE"
	}
}

// ParseDirection 解析 READ / WRITE / READ_WRITE
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READ":
		return DirRead, nil
	case "WRITE":
		return DirWrite, nil
	case "READ_WRITE", "", "PARAMS":
		return DirReadWrite, nil
	}
	return 0, fmt.Errorf("%w: direction %q", ErrBadArgs, s)
}

// Env 协议运行环境，由所属接口在挂载时提供
type Env struct {
	Interface  string
	Logger     *zap.Logger
	Packets    packet.Identifier
	TlmTargets []string
	CmdTargets []string
	Overrides  *OverrideTable
	Metrics    *metrics.FramingMetrics
}

// Protocol 双向、有状态的字节流变换器。
// 读方向：ReadData 逐段处理字节，PostRead 处理组装好的报文；
// 写方向：WritePacket → WriteData → （传输层写出）→ PostWrite。
type Protocol interface {
	Name() string
	Attach(env *Env) error
	OnConnect()
	OnDisconnect()
	ReadData(data []byte, extra Extra) (DataResult, error)
	PostRead(p *packet.Packet) (*packet.Packet, Status, error)
	WritePacket(p *packet.Packet) (*packet.Packet, Status, error)
	WriteData(data []byte, extra Extra) (DataResult, error)
	PostWrite(p *packet.Packet, data []byte, extra Extra) error

	base() *Base
}
