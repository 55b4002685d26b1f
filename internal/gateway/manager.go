package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/protocol"
	"github.com/taoyao-code/groundlink/internal/tcpserver"
)

var ErrUnknownInterface = errors.New("unknown interface")

// OverridePersister 强制值持久化（Redis 实现见 storage/redis.OverrideStore）
type OverridePersister interface {
	Save(ctx context.Context, iface string, o protocol.Override) error
	Delete(ctx context.Context, iface, target, pkt, item string) error
	Load(ctx context.Context, iface string) ([]protocol.Override, error)
}

// Manager 持有全部接口驱动器，提供按名称的控制入口
type Manager struct {
	logger    *zap.Logger
	persister OverridePersister

	mu      sync.RWMutex
	runners map[string]*Runner
	wg      sync.WaitGroup
}

// NewManager 创建接口管理器，persister 可为 nil
func NewManager(logger *zap.Logger, persister OverridePersister) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:    logger,
		persister: persister,
		runners:   make(map[string]*Runner),
	}
}

// Add 注册驱动器，名称重复时报错
func (m *Manager) Add(r *Runner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := r.Interface().Name()
	if _, ok := m.runners[name]; ok {
		return fmt.Errorf("duplicate interface %s", name)
	}
	m.runners[name] = r
	return nil
}

// Get 按名称查找驱动器
func (m *Manager) Get(name string) (*Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runners[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, name)
	}
	return r, nil
}

// Names 全部接口名（排序）
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.runners))
	for n := range m.runners {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Start 恢复持久化的强制值并启动全部读循环
func (m *Manager) Start(ctx context.Context) {
	for _, name := range m.Names() {
		r, _ := m.Get(name)
		m.restoreOverrides(ctx, r.Interface())
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			r.Run(ctx)
		}()
	}
	m.logger.Info("interfaces started", zap.Int("count", len(m.runners)))
}

// Wait 等待全部读循环退出
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) restoreOverrides(ctx context.Context, iface *Interface) {
	if m.persister == nil {
		return
	}
	list, err := m.persister.Load(ctx, iface.Name())
	if err != nil {
		m.logger.Warn("load persisted overrides failed",
			zap.String("interface", iface.Name()),
			zap.Error(err))
	}
	restored := 0
	for _, o := range list {
		if _, err := iface.Override(o); err != nil {
			m.logger.Warn("drop persisted override",
				zap.String("interface", iface.Name()),
				zap.String("item", o.Target+" "+o.Packet+" "+o.Item),
				zap.Error(err))
			continue
		}
		restored++
	}
	if restored > 0 {
		m.logger.Info("overrides restored",
			zap.String("interface", iface.Name()),
			zap.Int("count", restored))
	}
}

// Connect 请求接口连接
func (m *Manager) Connect(name string) error {
	r, err := m.Get(name)
	if err != nil {
		return err
	}
	r.RequestConnect()
	return nil
}

// Disconnect 请求接口断开并停止自动重连
func (m *Manager) Disconnect(name string) error {
	r, err := m.Get(name)
	if err != nil {
		return err
	}
	r.RequestDisconnect()
	return nil
}

// SetOverride 设置强制值并持久化
func (m *Manager) SetOverride(ctx context.Context, name string, o protocol.Override) (protocol.Override, error) {
	r, err := m.Get(name)
	if err != nil {
		return o, err
	}
	o, err = r.Interface().Override(o)
	if err != nil {
		return o, err
	}
	if m.persister != nil {
		if err := m.persister.Save(ctx, r.Interface().Name(), o); err != nil {
			return o, fmt.Errorf("persist override: %w", err)
		}
	}
	return o, nil
}

// ClearOverride 取消强制值；item 为空时取消该接口全部强制值
func (m *Manager) ClearOverride(ctx context.Context, name, target, pkt, item string) error {
	r, err := m.Get(name)
	if err != nil {
		return err
	}
	iface := r.Interface()
	if item == "" {
		iface.ClearOverrides()
	} else {
		iface.Normalize(target, pkt, item)
	}
	if m.persister != nil {
		if err := m.persister.Delete(ctx, iface.Name(),
			strings.ToUpper(target), strings.ToUpper(pkt), strings.ToUpper(item)); err != nil {
			return fmt.Errorf("persist override: %w", err)
		}
	}
	return nil
}

// InterfaceStatus 接口状态与驱动器信息
type InterfaceStatus struct {
	Status
	Breaker   BreakerStats `json:"breaker"`
	LastError string       `json:"last_error,omitempty"`

	// Clients 仅 tcp_server 传输
	Clients *tcpserver.AdmissionStats `json:"clients,omitempty"`
}

// Statuses 全部接口状态
func (m *Manager) Statuses() []InterfaceStatus {
	names := m.Names()
	out := make([]InterfaceStatus, 0, len(names))
	for _, n := range names {
		r, err := m.Get(n)
		if err != nil {
			continue
		}
		st := InterfaceStatus{
			Status:    r.Interface().Status(),
			Breaker:   r.Breaker().Stats(),
			LastError: r.LastError(),
		}
		if srv, ok := r.Interface().Transport().(*tcpserver.Server); ok {
			stats := srv.Stats()
			st.Clients = &stats
		}
		out = append(out, st)
	}
	return out
}

// Overrides 接口当前全部强制值
func (m *Manager) Overrides(name string) ([]protocol.Override, error) {
	r, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return r.Interface().Overrides(), nil
}

// WriteRaw 绕过协议链向接口写入原始字节
func (m *Manager) WriteRaw(name string, data []byte) error {
	r, err := m.Get(name)
	if err != nil {
		return err
	}
	return r.Interface().WriteRaw(data)
}
