package gateway

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/taoyao-code/groundlink/internal/packet"
	"github.com/taoyao-code/groundlink/internal/protocol"
	"github.com/taoyao-code/groundlink/internal/transport"
)

const gwSchema = `
targets:
  - name: INST
    telemetry:
      - name: HEALTH
        items:
          - {name: OP, bit_offset: 0, bit_size: 8, type: UINT, id: 1}
          - {name: TEMP, bit_offset: 8, bit_size: 16, type: UINT, conversion: [0, 0.5]}
      - name: ADCS
        items:
          - {name: OP, bit_offset: 0, bit_size: 8, type: UINT, id: 2}
          - {name: MODE, bit_offset: 8, bit_size: 8, type: UINT}
    commands:
      - name: NOOP
        items:
          - {name: OPCODE, bit_offset: 0, bit_size: 8, type: UINT, id: 9}
`

func gwTable(t *testing.T) *packet.Table {
	t.Helper()
	tbl := packet.NewTable()
	require.NoError(t, tbl.Load(strings.NewReader(gwSchema)))
	return tbl
}

// fixedChain fixed 读取 + override 后处理
func fixedChain(t *testing.T) *protocol.Chain {
	t.Helper()
	fixed, err := protocol.NewFixed(1, 0, nil, true, false, false)
	require.NoError(t, err)
	c := protocol.NewChain()
	c.Add(fixed, protocol.DirRead)
	c.Add(protocol.NewOverride(), protocol.DirRead)
	return c
}

func newTestInterface(t *testing.T, lb *transport.Loopback) (*Interface, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	iface, err := NewInterface("inst_int", lb, fixedChain(t), Options{
		Logger:     zap.New(core),
		Packets:    gwTable(t),
		TlmTargets: []string{"INST"},
		CmdTargets: []string{"INST"},
	})
	require.NoError(t, err)
	return iface, logs
}

// memPersister 内存版强制值持久化
type memPersister struct {
	mu   sync.Mutex
	data map[string]map[string]protocol.Override
}

func newMemPersister() *memPersister {
	return &memPersister{data: make(map[string]map[string]protocol.Override)}
}

func (m *memPersister) Save(_ context.Context, iface string, o protocol.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[iface] == nil {
		m.data[iface] = make(map[string]protocol.Override)
	}
	m.data[iface][o.Target+"__"+o.Packet+"__"+o.Item] = o
	return nil
}

func (m *memPersister) Delete(_ context.Context, iface, target, pkt, item string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item == "" {
		delete(m.data, iface)
		return nil
	}
	delete(m.data[iface], target+"__"+pkt+"__"+item)
	return nil
}

func (m *memPersister) Load(_ context.Context, iface string) ([]protocol.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.Override
	for _, o := range m.data[iface] {
		out = append(out, o)
	}
	return out, nil
}

func (m *memPersister) count(iface string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[iface])
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}
