package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/groundlink/internal/metrics"
	"github.com/taoyao-code/groundlink/internal/packet"
	"github.com/taoyao-code/groundlink/internal/transport"
)

// flakyTransport 前 failures 次连接失败，之后委托给回环
type flakyTransport struct {
	*transport.Loopback
	failures atomic.Int32
	dials    atomic.Int32
}

func (f *flakyTransport) Connect(ctx context.Context) error {
	f.dials.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection refused")
	}
	return f.Loopback.Connect(ctx)
}

type collector struct {
	mu    sync.Mutex
	names []string
}

func (c *collector) handle(_ context.Context, _ *Interface, p *packet.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, p.Name)
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func startRunner(t *testing.T, r *Runner) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.Done():
		case <-time.After(2 * time.Second):
			t.Error("runner did not stop")
		}
	})
	return cancel
}

func TestRunnerDeliversPackets(t *testing.T) {
	lb := transport.NewLoopback(50*time.Millisecond, false)
	iface, _ := newTestInterface(t, lb)
	var c collector
	r := NewRunner(iface, RunnerOptions{AutoConnect: true, Handler: c.handle})
	startRunner(t, r)

	eventually(t, iface.Connected)
	require.NoError(t, lb.Inject([]byte{0x01, 0x00, 0x02}))
	require.NoError(t, lb.Inject([]byte{0x02, 0x03}))
	eventually(t, func() bool { return len(c.got()) == 2 })
	assert.Equal(t, []string{"HEALTH", "ADCS"}, c.got())
}

func TestRunnerWaitsForConnectRequest(t *testing.T) {
	lb := transport.NewLoopback(50*time.Millisecond, false)
	iface, _ := newTestInterface(t, lb)
	r := NewRunner(iface, RunnerOptions{AutoConnect: false})
	startRunner(t, r)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, iface.Connected())

	r.RequestConnect()
	eventually(t, iface.Connected)

	r.RequestDisconnect()
	eventually(t, func() bool { return !iface.Connected() })
	time.Sleep(50 * time.Millisecond)
	assert.False(t, iface.Connected(), "manual disconnect stops auto reconnect")
}

func TestRunnerReconnects(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewFramingMetrics(reg)
	ft := &flakyTransport{Loopback: transport.NewLoopback(50*time.Millisecond, false)}
	ft.failures.Store(2)
	iface, err := NewInterface("INST_INT", ft, fixedChain(t), Options{Packets: gwTable(t), Metrics: m})
	require.NoError(t, err)
	r := NewRunner(iface, RunnerOptions{
		AutoConnect:    true,
		AutoReconnect:  true,
		ReconnectDelay: 10 * time.Millisecond,
	})
	startRunner(t, r)

	eventually(t, iface.Connected)
	assert.Equal(t, int32(3), ft.dials.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reconnects.WithLabelValues("INST_INT")))
	assert.Equal(t, "connection refused", r.LastError())

	// 链路中断后自动恢复
	require.NoError(t, ft.Loopback.Disconnect())
	eventually(t, func() bool { return ft.dials.Load() == 4 })
	eventually(t, iface.Connected)
}

func TestRunnerNoAutoReconnect(t *testing.T) {
	lb := transport.NewLoopback(50*time.Millisecond, false)
	iface, logs := newTestInterface(t, lb)
	r := NewRunner(iface, RunnerOptions{
		AutoConnect:    true,
		AutoReconnect:  false,
		ReconnectDelay: 10 * time.Millisecond,
	})
	startRunner(t, r)

	eventually(t, iface.Connected)
	require.NoError(t, lb.Disconnect())
	eventually(t, func() bool { return logs.FilterMessage("interface lost, auto reconnect disabled").Len() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.False(t, iface.Connected())

	// 未传 Logger 时沿用接口日志器
	entry := logs.FilterMessage("interface lost, auto reconnect disabled").All()[0]
	assert.Equal(t, "INST_INT", entry.ContextMap()["interface"])
}

func TestRunnerBreakerLimitsAttempts(t *testing.T) {
	ft := &flakyTransport{Loopback: transport.NewLoopback(50*time.Millisecond, false)}
	ft.failures.Store(100)
	iface, err := NewInterface("INST_INT", ft, fixedChain(t), Options{Packets: gwTable(t)})
	require.NoError(t, err)
	r := NewRunner(iface, RunnerOptions{
		AutoConnect:    true,
		AutoReconnect:  true,
		ReconnectDelay: time.Millisecond,
		Breaker:        NewBreaker(2, time.Hour),
	})
	startRunner(t, r)

	eventually(t, func() bool { return r.Breaker().State() == StateOpen })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), ft.dials.Load())

	// 人工连接重置熔断器
	ft.failures.Store(0)
	r.RequestConnect()
	eventually(t, iface.Connected)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	lb := transport.NewLoopback(0, false)
	iface, _ := newTestInterface(t, lb)
	r := NewRunner(iface, RunnerOptions{AutoConnect: true})
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	eventually(t, iface.Connected)

	cancel()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("runner blocked in read after cancel")
	}
	assert.False(t, iface.Connected())
}
