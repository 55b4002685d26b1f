package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
)

// File 回放传输：按块读取 ReadFile 模拟下行字节流，写入追加到 WriteFile。
// 读到文件末尾时返回 ErrClosed，接口随之断开。
type File struct {
	cfg    cfgpkg.TransportConfig
	logger *zap.Logger

	mu     sync.Mutex
	in     *os.File
	out    *os.File
	closed chan struct{}
	buf    []byte
}

// NewFile 创建文件回放传输
func NewFile(cfg cfgpkg.TransportConfig, logger *zap.Logger) *File {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{cfg: cfg, logger: logger, buf: make([]byte, cfg.ReadBufferSize)}
}

func (f *File) Name() string {
	if f.cfg.ReadFile != "" {
		return "file " + f.cfg.ReadFile
	}
	return "file " + f.cfg.WriteFile
}

func (f *File) Connect(_ context.Context) error {
	var in, out *os.File
	var err error
	if f.cfg.ReadFile != "" {
		if in, err = os.Open(f.cfg.ReadFile); err != nil {
			return fmt.Errorf("open read file: %w", err)
		}
	}
	if f.cfg.WriteFile != "" {
		if out, err = os.OpenFile(f.cfg.WriteFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
			if in != nil {
				_ = in.Close()
			}
			return fmt.Errorf("open write file: %w", err)
		}
	}
	f.mu.Lock()
	f.in, f.out = in, out
	f.closed = make(chan struct{})
	f.mu.Unlock()
	f.logger.Info("file transport opened",
		zap.String("read_file", f.cfg.ReadFile),
		zap.String("write_file", f.cfg.WriteFile))
	return nil
}

func (f *File) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.in != nil || f.out != nil
}

func (f *File) Disconnect() error {
	f.mu.Lock()
	in, out, closed := f.in, f.out, f.closed
	f.in, f.out = nil, nil
	f.mu.Unlock()
	if closed != nil {
		select {
		case <-closed:
		default:
			close(closed)
		}
	}
	var errs []error
	if in != nil {
		errs = append(errs, in.Close())
	}
	if out != nil {
		errs = append(errs, out.Close())
	}
	return errors.Join(errs...)
}

func (f *File) Read() ([]byte, error) {
	f.mu.Lock()
	in, closed := f.in, f.closed
	f.mu.Unlock()
	if in == nil {
		if f.cfg.ReadFile == "" && f.Connected() {
			return nil, ErrWriteOnly
		}
		return nil, ErrNotConnected
	}
	if f.cfg.Throttle > 0 {
		t := time.NewTimer(f.cfg.Throttle)
		select {
		case <-t.C:
		case <-closed:
			t.Stop()
			return nil, fmt.Errorf("%w: disconnected", ErrClosed)
		}
	}
	n, err := in.Read(f.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, f.buf[:n])
		return out, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: end of %s", ErrClosed, f.cfg.ReadFile)
	}
	return nil, fmt.Errorf("%w: %v", ErrClosed, err)
}

func (f *File) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		if f.in != nil {
			return ErrReadOnly
		}
		return ErrNotConnected
	}
	if _, err := f.out.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}
