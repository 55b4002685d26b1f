// Package transport 接口的字节通道：建立连接、收发原始字节，不关心帧边界。
package transport

import (
	"context"
	"errors"
)

var (
	ErrNotConnected = errors.New("transport not connected")
	// ErrReadTimeout 读超时，连接仍然有效
	ErrReadTimeout = errors.New("transport read timeout")
	// ErrClosed 对端关闭或本端断开，连接已不可用
	ErrClosed    = errors.New("transport closed")
	ErrReadOnly  = errors.New("transport is read only")
	ErrWriteOnly = errors.New("transport is write only")
)

// Transport 一个接口的底层字节通道。
// Read 只由接口的读协程调用；Write 由接口串行化后调用；Disconnect 可在任意协程调用并唤醒阻塞的 Read。
type Transport interface {
	// Name 用于日志与状态展示，例如 "tcp_client 10.0.0.5:8080"
	Name() string
	Connect(ctx context.Context) error
	Connected() bool
	Disconnect() error
	// Read 阻塞读取一段字节；超时返回 ErrReadTimeout，连接失效返回包装了 ErrClosed 的错误
	Read() ([]byte, error)
	Write(data []byte) error
}

// IsFatal 读写错误是否意味着连接已失效
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrReadTimeout)
}
