package tcpserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
	"github.com/taoyao-code/groundlink/internal/transport"
)

// Server 监听式传输：设备主动连入。
// 所有客户端的上行字节汇入同一读通道；写入广播给全部在线客户端。
type Server struct {
	cfg       cfgpkg.TransportConfig
	logger    *zap.Logger
	admission *Admission
	// 可选指标回调
	onAccept func()
	onReject func(reason string)

	mu         sync.Mutex
	ln         net.Listener
	conns      map[uint64]*ConnContext
	readC      chan []byte
	stopC      chan struct{}
	wg         sync.WaitGroup
	nextConnID atomic.Uint64
}

var _ transport.Transport = (*Server)(nil)

// New 创建 TCP 服务端传输
func New(cfg cfgpkg.TransportConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		admission: NewAdmission(cfg),
		conns:     make(map[uint64]*ConnContext),
	}
}

// SetAcceptCallback 每接受一个客户端调用一次
func (s *Server) SetAcceptCallback(fn func()) { s.onAccept = fn }

// SetRejectCallback 每拒绝一个客户端调用一次，参数为拒绝原因
func (s *Server) SetRejectCallback(fn func(reason string)) { s.onReject = fn }

func (s *Server) Name() string { return "tcp_server " + s.cfg.Addr }

// Addr 实际监听地址（监听 :0 时用于获取端口）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Connect 开始监听并接受连接（非阻塞，内部 goroutine）
func (s *Server) Connect(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.readC = make(chan []byte, 256)
	s.stopC = make(chan struct{})
	stopC := s.stopC
	s.mu.Unlock()

	s.logger.Info("tcp server listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop(ln, stopC)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener, stopC chan struct{}) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stopC:
				return
			default:
			}
			// 短暂错误等待后重试
			time.Sleep(50 * time.Millisecond)
			continue
		}

		release, err := s.admission.Admit(context.Background(), conn.RemoteAddr())
		if err != nil {
			s.logger.Warn("client rejected",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Error(err))
			if s.onReject != nil {
				s.onReject(Reason(err))
			}
			_ = conn.Close()
			continue
		}
		if s.onAccept != nil {
			s.onAccept()
		}

		cc := newConnContext(s, conn)
		s.mu.Lock()
		select {
		case <-stopC:
			s.mu.Unlock()
			release()
			_ = conn.Close()
			return
		default:
		}
		s.conns[cc.ID()] = cc
		s.mu.Unlock()
		s.logger.Info("client connected",
			zap.Uint64("conn_id", cc.ID()),
			zap.String("remote_addr", conn.RemoteAddr().String()))

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer release()
			cc.run(stopC)
			s.mu.Lock()
			delete(s.conns, cc.ID())
			s.mu.Unlock()
			s.logger.Info("client disconnected",
				zap.Uint64("conn_id", cc.ID()),
				zap.String("remote_addr", cc.RemoteAddr().String()))
		}()
	}
}

// deliver 把客户端上行字节送入读通道；停止后丢弃
func (s *Server) deliver(b []byte, stopC chan struct{}) bool {
	s.mu.Lock()
	readC := s.readC
	s.mu.Unlock()
	select {
	case readC <- b:
		return true
	case <-stopC:
		return false
	}
}

func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln != nil
}

// Clients 在线客户端数
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Disconnect 关闭监听与全部客户端，并等待连接协程退出
func (s *Server) Disconnect() error {
	s.mu.Lock()
	ln := s.ln
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.ln = nil
	close(s.stopC)
	conns := make([]*ConnContext, 0, len(s.conns))
	for _, cc := range s.conns {
		conns = append(conns, cc)
	}
	s.mu.Unlock()

	err := ln.Close()
	for _, cc := range conns {
		_ = cc.Close()
	}
	s.wg.Wait()
	return err
}

// Read 返回任一客户端的下一段上行字节
func (s *Server) Read() ([]byte, error) {
	s.mu.Lock()
	readC, stopC, up := s.readC, s.stopC, s.ln != nil
	s.mu.Unlock()
	if !up {
		return nil, transport.ErrNotConnected
	}

	var timeout <-chan time.Time
	if s.cfg.ReadTimeout > 0 {
		t := time.NewTimer(s.cfg.ReadTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case b := <-readC:
		return b, nil
	case <-stopC:
		return nil, fmt.Errorf("%w: server stopped", transport.ErrClosed)
	case <-timeout:
		return nil, transport.ErrReadTimeout
	}
}

// Write 广播给全部在线客户端；无客户端时丢弃
func (s *Server) Write(data []byte) error {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return transport.ErrNotConnected
	}
	conns := make([]*ConnContext, 0, len(s.conns))
	for _, cc := range s.conns {
		conns = append(conns, cc)
	}
	s.mu.Unlock()

	if len(conns) == 0 {
		s.logger.Debug("no clients connected, dropping write", zap.Int("len", len(data)))
		return nil
	}
	for _, cc := range conns {
		if err := cc.Write(data); err != nil {
			s.logger.Warn("write to client failed",
				zap.Uint64("conn_id", cc.ID()),
				zap.Error(err))
			_ = cc.Close()
		}
	}
	return nil
}

// Stats 客户端准入统计
func (s *Server) Stats() AdmissionStats {
	return s.admission.Stats()
}
