package tcpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
)

// 准入拒绝原因，同时作为指标标签
const (
	RejectRate   = "rate"
	RejectHost   = "host"
	RejectClient = "clients"
)

var (
	ErrAcceptRate  = errors.New("accept rate exceeded")
	ErrHostLimit   = errors.New("clients per host exceeded")
	ErrClientLimit = errors.New("client limit exceeded")
)

// Admission 服务端接口的客户端准入。
// 接入先过令牌桶，再占用单主机配额，最后在 acquireTimeout 内等待在线名额。
type Admission struct {
	limiter    *rate.Limiter
	ratePerSec int
	burst      int
	slots      chan struct{}
	timeout    time.Duration
	maxClients int
	maxPerHost int // 0 不限制

	mu    sync.Mutex
	hosts map[string]int

	admitted      atomic.Int64
	rejectedRate  atomic.Int64
	rejectedHost  atomic.Int64
	rejectedSlots atomic.Int64
}

// NewAdmission 按传输配置创建准入控制
func NewAdmission(cfg cfgpkg.TransportConfig) *Admission {
	maxClients := cfg.MaxConnections
	if maxClients <= 0 {
		maxClients = 16
	}
	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ratePerSec := cfg.AcceptRate
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	burst := cfg.AcceptBurst
	if burst <= 0 {
		burst = ratePerSec * 2
	}
	return &Admission{
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), burst),
		ratePerSec: ratePerSec,
		burst:      burst,
		slots:      make(chan struct{}, maxClients),
		timeout:    timeout,
		maxClients: maxClients,
		maxPerHost: max(cfg.MaxClientsPerHost, 0),
		hosts:      make(map[string]int),
	}
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Admit 为新客户端申请准入；成功时返回的 release 在客户端断开后调用（可重复调用）
func (a *Admission) Admit(ctx context.Context, remote net.Addr) (func(), error) {
	if !a.limiter.Allow() {
		a.rejectedRate.Add(1)
		return nil, ErrAcceptRate
	}

	host := hostOf(remote)
	a.mu.Lock()
	if a.maxPerHost > 0 && a.hosts[host] >= a.maxPerHost {
		a.mu.Unlock()
		a.rejectedHost.Add(1)
		return nil, ErrHostLimit
	}
	a.hosts[host]++
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	select {
	case a.slots <- struct{}{}:
	case <-ctx.Done():
		a.releaseHost(host)
		a.rejectedSlots.Add(1)
		return nil, ErrClientLimit
	}

	a.admitted.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			<-a.slots
			a.releaseHost(host)
		})
	}, nil
}

func (a *Admission) releaseHost(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hosts[host] <= 1 {
		delete(a.hosts, host)
		return
	}
	a.hosts[host]--
}

// Reason 拒绝错误对应的指标标签
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrAcceptRate):
		return RejectRate
	case errors.Is(err, ErrHostLimit):
		return RejectHost
	default:
		return RejectClient
	}
}

// AdmissionStats 准入统计
type AdmissionStats struct {
	MaxClients    int            `json:"max_clients"`
	MaxPerHost    int            `json:"max_per_host,omitempty"`
	RatePerSecond int            `json:"rate_per_second"`
	Burst         int            `json:"burst"`
	Active        int            `json:"active"`
	Hosts         map[string]int `json:"hosts,omitempty"`
	Admitted      int64          `json:"admitted_total"`
	RejectedRate  int64          `json:"rejected_rate_total"`
	RejectedHost  int64          `json:"rejected_host_total"`
	RejectedSlots int64          `json:"rejected_clients_total"`
}

// Rejected 累计拒绝数
func (s AdmissionStats) Rejected() int64 {
	return s.RejectedRate + s.RejectedHost + s.RejectedSlots
}

// Stats 当前准入快照
func (a *Admission) Stats() AdmissionStats {
	a.mu.Lock()
	hosts := make(map[string]int, len(a.hosts))
	for h, n := range a.hosts {
		hosts[h] = n
	}
	a.mu.Unlock()
	return AdmissionStats{
		MaxClients:    a.maxClients,
		MaxPerHost:    a.maxPerHost,
		RatePerSecond: a.ratePerSec,
		Burst:         a.burst,
		Active:        len(a.slots),
		Hosts:         hosts,
		Admitted:      a.admitted.Load(),
		RejectedRate:  a.rejectedRate.Load(),
		RejectedHost:  a.rejectedHost.Load(),
		RejectedSlots: a.rejectedSlots.Load(),
	}
}
