package tcpserver

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var errConnClosed = errors.New("connection closed")

// ConnContext 单个客户端连接：读循环把字节汇入服务端，写循环消费写队列
type ConnContext struct {
	s      *Server
	c      net.Conn
	id     uint64
	writeC chan []byte
	closed atomic.Bool
	mu     sync.Mutex
}

func newConnContext(s *Server, c net.Conn) *ConnContext {
	depth := s.cfg.WriteQueueDepth
	if depth <= 0 {
		depth = 128
	}
	return &ConnContext{
		s:      s,
		c:      c,
		id:     s.nextConnID.Add(1),
		writeC: make(chan []byte, depth),
	}
}

// ID 返回连接ID（单进程唯一递增）
func (cc *ConnContext) ID() uint64 { return cc.id }

// RemoteAddr 返回远端地址
func (cc *ConnContext) RemoteAddr() net.Addr { return cc.c.RemoteAddr() }

// Write 异步写入，受写队列与写超时影响
func (cc *ConnContext) Write(b []byte) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.closed.Load() {
		return errConnClosed
	}
	// 复制一份，避免调用方复用底层切片
	dup := make([]byte, len(b))
	copy(dup, b)
	to := cc.s.cfg.WriteTimeout
	if to <= 0 {
		to = 5 * time.Second
	}
	t := time.NewTimer(to)
	defer t.Stop()
	select {
	case cc.writeC <- dup:
		return nil
	case <-t.C:
		return errors.New("write queue timeout")
	}
}

// Close 关闭连接与写队列
func (cc *ConnContext) Close() error {
	if !cc.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := cc.c.Close()
	cc.mu.Lock()
	close(cc.writeC)
	cc.mu.Unlock()
	return err
}

// run 启动读/写循环，阻塞直至连接结束
func (cc *ConnContext) run(stopC chan struct{}) {
	defer cc.Close()

	doneW := make(chan struct{})
	go func() {
		defer close(doneW)
		for msg := range cc.writeC {
			if cc.s.cfg.WriteTimeout > 0 {
				_ = cc.c.SetWriteDeadline(time.Now().Add(cc.s.cfg.WriteTimeout))
			}
			if _, err := cc.c.Write(msg); err != nil {
				_ = cc.c.Close()
			}
		}
	}()

	buf := make([]byte, cc.s.cfg.ReadBufferSize)
	for {
		n, err := cc.c.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			if !cc.s.deliver(b, stopC) {
				break
			}
		}
		if err != nil {
			break
		}
	}
	_ = cc.Close()
	<-doneW
}
