package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Loopback 内存回环：写出的字节原样回到读端，也可由 Inject 注入下行数据。
// 用于无硬件时的联调与测试。
type Loopback struct {
	readTimeout time.Duration

	mu      sync.Mutex
	ch      chan []byte
	closed  chan struct{}
	written [][]byte
	echo    bool
}

// NewLoopback echo 为 true 时写入内容回送到读端
func NewLoopback(readTimeout time.Duration, echo bool) *Loopback {
	return &Loopback{readTimeout: readTimeout, echo: echo}
}

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) Connect(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ch = make(chan []byte, 256)
	l.closed = make(chan struct{})
	return nil
}

func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed == nil {
		return false
	}
	select {
	case <-l.closed:
		return false
	default:
		return true
	}
}

func (l *Loopback) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed != nil {
		select {
		case <-l.closed:
		default:
			close(l.closed)
		}
	}
	return nil
}

func (l *Loopback) state() (chan []byte, chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch, l.closed
}

func (l *Loopback) Read() ([]byte, error) {
	ch, closed := l.state()
	if ch == nil {
		return nil, ErrNotConnected
	}
	var timeout <-chan time.Time
	if l.readTimeout > 0 {
		t := time.NewTimer(l.readTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case b := <-ch:
		return b, nil
	case <-closed:
		return nil, fmt.Errorf("%w: loopback disconnected", ErrClosed)
	case <-timeout:
		return nil, ErrReadTimeout
	}
}

func (l *Loopback) Write(data []byte) error {
	if !l.Connected() {
		return ErrNotConnected
	}
	dup := append([]byte(nil), data...)
	l.mu.Lock()
	l.written = append(l.written, dup)
	l.mu.Unlock()
	if l.echo {
		return l.Inject(dup)
	}
	return nil
}

// Inject 注入一段下行字节
func (l *Loopback) Inject(data []byte) error {
	ch, closed := l.state()
	if ch == nil {
		return ErrNotConnected
	}
	select {
	case ch <- append([]byte(nil), data...):
		return nil
	case <-closed:
		return fmt.Errorf("%w: loopback disconnected", ErrClosed)
	}
}

// Written 返回已写出的全部数据（按写入顺序）
func (l *Loopback) Written() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.written))
	copy(out, l.written)
	return out
}
