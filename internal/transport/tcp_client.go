package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
)

// TCPClient 主动连接设备端的 TCP 传输
type TCPClient struct {
	cfg    cfgpkg.TransportConfig
	logger *zap.Logger

	mu   sync.Mutex
	conn net.Conn
	buf  []byte
}

// NewTCPClient 创建 TCP 客户端传输
func NewTCPClient(cfg cfgpkg.TransportConfig, logger *zap.Logger) *TCPClient {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPClient{cfg: cfg, logger: logger, buf: make([]byte, cfg.ReadBufferSize)}
}

func (c *TCPClient) Name() string { return "tcp_client " + c.cfg.Addr }

// Connect 拨号，受 ctx 与 ConnectTimeout 约束
func (c *TCPClient) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	c.logger.Info("tcp client connected",
		zap.String("addr", c.cfg.Addr),
		zap.String("local_addr", conn.LocalAddr().String()))
	return nil
}

func (c *TCPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Disconnect 关闭连接；阻塞中的 Read 随之返回
func (c *TCPClient) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *TCPClient) current() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *TCPClient) Read() ([]byte, error) {
	conn := c.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if c.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	n, err := conn.Read(c.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return out, nil
	}
	return nil, classifyReadErr(err)
}

func (c *TCPClient) Write(data []byte) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrClosed, c.cfg.Addr, err)
	}
	return nil
}

// classifyReadErr 区分读超时与连接失效
func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrReadTimeout
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: remote closed connection", ErrClosed)
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}
