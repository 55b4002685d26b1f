package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/taoyao-code/groundlink/internal/packet"
)

const protoSchema = `
targets:
  - name: INST
    telemetry:
      - name: HEALTH
        items:
          - {name: APID, bit_offset: 5, bit_size: 11, type: UINT, id: 1}
          - {name: TEMP, bit_offset: 16, bit_size: 16, type: INT, conversion: [0, 0.5]}
      - name: ADCS
        items:
          - {name: APID, bit_offset: 5, bit_size: 11, type: UINT, id: 2}
          - {name: MODE, bit_offset: 16, bit_size: 8, type: UINT}
      - name: VOLT_RSP
        items:
          - {name: APID, bit_offset: 5, bit_size: 11, type: UINT, id: 5}
          - {name: VOLTAGE, bit_offset: 16, bit_size: 16, type: UINT}
          - {name: CHANNEL, bit_offset: 32, bit_size: 8, type: UINT}
    commands:
      - name: COLLECT
        items:
          - {name: OPCODE, bit_offset: 0, bit_size: 8, type: UINT, id: 4}
          - {name: COUNT, bit_offset: 8, bit_size: 16, type: UINT}
      - name: SET_VOLT
        items:
          - {name: OPCODE, bit_offset: 0, bit_size: 8, type: UINT, id: 9}
          - {name: CMD_TEMPLATE, bit_offset: 8, bit_size: 512, type: STRING}
          - {name: RSP_TEMPLATE, bit_offset: 520, bit_size: 256, type: STRING}
          - {name: RSP_PACKET, bit_offset: 776, bit_size: 256, type: STRING}
          - {name: VOLTAGE, bit_offset: 1032, bit_size: 8, type: UINT}
          - {name: CHANNEL, bit_offset: 1040, bit_size: 8, type: UINT}
      - name: CRCCMD
        items:
          - {name: OPCODE, bit_offset: 0, bit_size: 8, type: UINT, id: 7}
          - {name: DATA, bit_offset: 8, bit_size: 24, type: UINT}
          - {name: CRC, bit_offset: 32, bit_size: 16, type: UINT}
`

var errDrained = errors.New("source drained")

func testTable(t *testing.T) *packet.Table {
	t.Helper()
	tbl := packet.NewTable()
	require.NoError(t, tbl.Load(strings.NewReader(protoSchema)))
	return tbl
}

func testEnv(t *testing.T) (*Env, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return &Env{
		Interface:  "TEST_INT",
		Logger:     zap.New(core),
		Packets:    testTable(t),
		TlmTargets: []string{"INST"},
		CmdTargets: []string{"INST"},
		Overrides:  NewOverrideTable(),
	}, logs
}

// newChain 按 (协议, 方向) 顺序组装并挂载
func newChain(t *testing.T, env *Env, ps ...any) *Chain {
	t.Helper()
	c := NewChain()
	for i := 0; i < len(ps); i += 2 {
		c.Add(ps[i].(Protocol), ps[i+1].(Direction))
	}
	require.NoError(t, c.Attach(env))
	c.OnConnect()
	return c
}

// feed 依次返回各段数据，耗尽后返回 errDrained
func feed(chunks ...[]byte) Source {
	i := 0
	return func() ([]byte, Extra, error) {
		if i >= len(chunks) {
			return nil, nil, errDrained
		}
		i++
		return chunks[i-1], nil, nil
	}
}

// readAll 读取直到数据源耗尽
func readAll(t *testing.T, c *Chain, chunks ...[]byte) []*packet.Packet {
	t.Helper()
	src := feed(chunks...)
	var out []*packet.Packet
	for {
		p, st, err := c.Read(src)
		if errors.Is(err, errDrained) {
			return out
		}
		require.NoError(t, err)
		require.Equal(t, StatusFrame, st)
		out = append(out, p)
	}
}

// writeBytes 写入报文并返回发往传输层的字节
func writeBytes(t *testing.T, c *Chain, p *packet.Packet) []byte {
	t.Helper()
	var out []byte
	sent, err := c.Write(p, func(data []byte, _ Extra) error {
		out = append([]byte(nil), data...)
		return nil
	})
	require.NoError(t, err)
	require.True(t, sent)
	return out
}

func buffers(ps []*packet.Packet) [][]byte {
	out := make([][]byte, len(ps))
	for i, p := range ps {
		out[i] = p.Buffer()
	}
	return out
}

func mustBurst(t *testing.T, discard int, sync []byte, fill bool) *Burst {
	t.Helper()
	b, err := NewBurst(discard, sync, fill)
	require.NoError(t, err)
	return b
}
