package gateway

import (
	"errors"
	"sync"
	"time"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常重连
	StateOpen                  // 连续失败，暂停重连
	StateHalfOpen              // 暂停期结束，允许一次试探
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen 熔断期内拒绝连接尝试
var ErrBreakerOpen = errors.New("reconnect breaker is open")

// Breaker 接口重连熔断器：连续 threshold 次连接失败后暂停 timeout，
// 之后只放行一次试探，成功则恢复，失败则重新计时。
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastFailTime  time.Time
	lastStateTime time.Time
	tripCount     int64
	probing       bool

	threshold int
	timeout   time.Duration

	onStateChange func(from, to State)
}

// NewBreaker 创建重连熔断器
func NewBreaker(threshold int, timeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Breaker{
		state:         StateClosed,
		threshold:     threshold,
		timeout:       timeout,
		lastStateTime: time.Now(),
	}
}

// Call 执行一次连接尝试，受熔断器保护
func (b *Breaker) Call(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailTime) < b.timeout {
			return ErrBreakerOpen
		}
		b.transitionTo(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err == nil {
		b.failures = 0
		b.transitionTo(StateClosed)
		return
	}
	b.failures++
	b.lastFailTime = time.Now()
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		if b.state != StateOpen {
			b.tripCount++
		}
		b.transitionTo(StateOpen)
	}
}

// transitionTo 状态转换，调用方持有锁
func (b *Breaker) transitionTo(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	b.lastStateTime = time.Now()
	if b.onStateChange != nil {
		// 异步回调，避免阻塞
		go b.onStateChange(from, s)
	}
}

// RetryAfter 熔断期剩余时间；未熔断时为 0
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	return max(0, b.timeout-time.Since(b.lastFailTime))
}

// State 获取当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetStateChangeCallback 设置状态变化回调
func (b *Breaker) SetStateChangeCallback(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Reset 手动恢复（人工重连时调用）
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.failures = 0
	b.probing = false
}

// Stats 获取统计信息
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           b.state.String(),
		Failures:        b.failures,
		TripCount:       b.tripCount,
		LastStateChange: b.lastStateTime,
	}
}

// BreakerStats 熔断器统计信息
type BreakerStats struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	TripCount       int64     `json:"trip_count"`
	LastStateChange time.Time `json:"last_state_change"`
}
