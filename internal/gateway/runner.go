package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/packet"
	"github.com/taoyao-code/groundlink/internal/transport"
)

// PacketHandler 每收到一帧调用一次，运行在接口读协程内
type PacketHandler func(ctx context.Context, iface *Interface, p *packet.Packet)

// RunnerOptions 读循环与重连策略
type RunnerOptions struct {
	AutoConnect    bool
	AutoReconnect  bool
	ReconnectDelay time.Duration
	Breaker        *Breaker
	Handler        PacketHandler
	Logger         *zap.Logger
}

// Runner 驱动一个接口：按需连接、循环读帧、掉线后按策略重连
type Runner struct {
	iface   *Interface
	opts    RunnerOptions
	logger  *zap.Logger
	breaker *Breaker

	desired  atomic.Bool
	wake     chan struct{}
	attempts atomic.Int64
	lastErr  atomic.Value // string
	done     chan struct{}
	once     sync.Once
}

// NewRunner 创建接口驱动器
func NewRunner(iface *Interface, opts RunnerOptions) *Runner {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Breaker == nil {
		opts.Breaker = NewBreaker(0, 0)
	}
	// 未指定时沿用接口的日志器（已带 interface 字段）
	logger := iface.logger
	if opts.Logger != nil {
		logger = opts.Logger.With(zap.String("interface", iface.Name()))
	}
	r := &Runner{
		iface:   iface,
		opts:    opts,
		logger:  logger,
		breaker: opts.Breaker,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	r.desired.Store(opts.AutoConnect)
	r.breaker.SetStateChangeCallback(func(from, to State) {
		r.logger.Warn("reconnect breaker state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	})
	return r
}

// Interface 所驱动的接口
func (r *Runner) Interface() *Interface { return r.iface }

// Breaker 重连熔断器
func (r *Runner) Breaker() *Breaker { return r.breaker }

// Done 读循环退出后关闭
func (r *Runner) Done() <-chan struct{} { return r.done }

// LastError 最近一次连接或读错误
func (r *Runner) LastError() string {
	s, _ := r.lastErr.Load().(string)
	return s
}

// RequestConnect 请求连接；人工操作会重置熔断器
func (r *Runner) RequestConnect() {
	r.breaker.Reset()
	r.desired.Store(true)
	r.signal()
}

// RequestDisconnect 请求断开并停止自动重连
func (r *Runner) RequestDisconnect() {
	r.desired.Store(false)
	_ = r.iface.Disconnect()
	r.signal()
}

func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run 阻塞运行直到 ctx 取消
func (r *Runner) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })
	defer func() { _ = r.iface.Disconnect() }()

	r.logger.Info("interface runner started",
		zap.Bool("auto_connect", r.opts.AutoConnect),
		zap.Bool("auto_reconnect", r.opts.AutoReconnect),
		zap.Duration("reconnect_delay", r.opts.ReconnectDelay))

	for {
		if ctx.Err() != nil {
			r.logger.Info("interface runner stopped")
			return
		}
		if !r.desired.Load() {
			select {
			case <-ctx.Done():
			case <-r.wake:
			}
			continue
		}
		if !r.iface.Connected() {
			if err := r.connect(ctx); err != nil {
				r.sleep(ctx, max(r.opts.ReconnectDelay, r.breaker.RetryAfter()))
				continue
			}
		}
		r.readLoop(ctx)
		if ctx.Err() == nil && r.desired.Load() && !r.opts.AutoReconnect {
			r.logger.Warn("interface lost, auto reconnect disabled")
			r.desired.Store(false)
		}
	}
}

func (r *Runner) connect(ctx context.Context) error {
	if r.attempts.Add(1) > 1 {
		r.iface.metrics.Reconnect(r.iface.Name())
	}
	err := r.breaker.Call(func() error { return r.iface.Connect(ctx) })
	if err != nil {
		r.lastErr.Store(err.Error())
		if errors.Is(err, ErrBreakerOpen) {
			r.logger.Debug("connect skipped, breaker open",
				zap.Duration("retry_after", r.breaker.RetryAfter()))
		} else {
			r.logger.Warn("connect failed", zap.Error(err))
		}
		return err
	}
	return nil
}

func (r *Runner) readLoop(ctx context.Context) {
	// ctx 取消时关闭传输以唤醒阻塞的 Read
	stop := context.AfterFunc(ctx, func() { _ = r.iface.Disconnect() })
	defer stop()

	for r.iface.Connected() {
		p, err := r.iface.Read()
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				continue
			}
			if ctx.Err() == nil && r.desired.Load() {
				r.lastErr.Store(err.Error())
			}
			return
		}
		if r.opts.Handler != nil {
			r.opts.Handler(ctx, r.iface, p)
		}
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-r.wake:
	}
}
