package protocol

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/groundlink/internal/metrics"
	"github.com/taoyao-code/groundlink/internal/packet"
)

var syncWord = []byte{0x1A, 0xCF, 0xFC, 0x1D}

func TestBurstDiscardLeadingBytes(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustBurst(t, 2, nil, false), DirReadWrite)

	frames := readAll(t, c, []byte{0x01, 0x02, 0x03, 0x04})
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x03, 0x04}, frames[0].Buffer())
}

func TestBurstShortReadUnderDiscardIsCounted(t *testing.T) {
	env, logs := testEnv(t)
	env.Metrics = metrics.NewFramingMetrics(prometheus.NewRegistry())
	c := newChain(t, env, mustBurst(t, 4, nil, false), DirRead)

	frames := readAll(t, c, []byte{0x01, 0x02, 0x03}, []byte{0x01, 0x02, 0x03, 0x04, 0x05})
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x05}, frames[0].Buffer())

	dropped := logs.FilterMessage("frame shorter than leading discard, dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(3), dropped[0].ContextMap()["count"])
	// 正常帧的前导丢弃属于协议约定，不计入
	assert.Equal(t, 3.0, testutil.ToFloat64(env.Metrics.BytesDiscarded.WithLabelValues("TEST_INT")))
}

func TestBurstEachReadIsAFrame(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustBurst(t, 0, nil, false), DirRead)

	frames := readAll(t, c, []byte{0x01}, []byte{0x02, 0x03}, []byte{}, []byte{0x04})
	assert.Equal(t, [][]byte{{0x01}, {0x02, 0x03}, {0x04}}, buffers(frames))
}

func TestBurstSyncSplitAcrossReads(t *testing.T) {
	stream := []byte{0x00, 0x1A, 0xCF, 0xFC, 0x1D, 0x01, 0x02}
	// 同步字被切分到多次读取中，最后一段带齐同步字尾部与数据
	for cut1 := 1; cut1 <= 4; cut1++ {
		for cut2 := cut1; cut2 <= 4; cut2++ {
			env, _ := testEnv(t)
			c := newChain(t, env, mustBurst(t, 0, syncWord, false), DirRead)
			frames := readAll(t, c, stream[:cut1], stream[cut1:cut2], stream[cut2:])
			require.Len(t, frames, 1, "cuts %d/%d", cut1, cut2)
			assert.Equal(t, stream[1:], frames[0].Buffer(), "cuts %d/%d", cut1, cut2)
		}
	}
}

func TestBurstFalsePartialSyncKeepsLaterMatch(t *testing.T) {
	env, logs := testEnv(t)
	c := newChain(t, env, mustBurst(t, 0, syncWord, false), DirRead)

	frames := readAll(t, c, []byte{0x1A, 0xCF, 0x1A, 0xCF, 0xFC, 0x1D, 0x05})
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x1A, 0xCF, 0xFC, 0x1D, 0x05}, frames[0].Buffer())
	assert.NotZero(t, logs.FilterMessage("sync pattern not found, discarding bytes").Len())
}

func TestBurstSyncWithDiscard(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustBurst(t, 4, syncWord, false), DirRead)

	frames := readAll(t, c, []byte{0xFF, 0xEE, 0x1A, 0xCF, 0xFC, 0x1D, 0x09, 0x08})
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x09, 0x08}, frames[0].Buffer())
}

func TestBurstFillSync(t *testing.T) {
	env, _ := testEnv(t)

	// 同步字属于报文：覆盖开头字节
	c := newChain(t, env, mustBurst(t, 0, []byte{0xAA, 0xBB}, true), DirReadWrite)
	out := writeBytes(t, c, packet.New([]byte{0x00, 0x00, 0x01}))
	assert.Equal(t, []byte{0xAA, 0xBB, 0x01}, out)

	// 同步字位于丢弃区：补回
	c = newChain(t, env, mustBurst(t, 2, []byte{0xAA, 0xBB}, true), DirReadWrite)
	out = writeBytes(t, c, packet.New([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0xAA, 0xBB, 0x01, 0x02}, out)
	frames := readAll(t, c, out)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x01, 0x02}, frames[0].Buffer())

	// 未开启 fill 时原样透传
	c = newChain(t, env, mustBurst(t, 0, []byte{0xAA, 0xBB}, false), DirReadWrite)
	out = writeBytes(t, c, packet.New([]byte{0x00, 0x00, 0x01}))
	assert.Equal(t, []byte{0x00, 0x00, 0x01}, out)
}

func TestBurstFillSyncBufferTooSmall(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustBurst(t, 0, syncWord, true), DirWrite)
	_, err := c.Write(packet.New([]byte{0x01}), func([]byte, Extra) error { return nil })
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestBurstResetOnConnect(t *testing.T) {
	env, _ := testEnv(t)
	b := mustBurst(t, 0, syncWord, false)
	c := newChain(t, env, b, DirRead)

	readAll(t, c, []byte{0x1A, 0xCF})
	assert.Equal(t, 2, b.Buffered())
	c.OnDisconnect()
	assert.Equal(t, 0, b.Buffered())
}
