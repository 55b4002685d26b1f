package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/groundlink/internal/packet"
)

// tagger 写方向在数据尾部追加自身标记，并记录调用顺序
type tagger struct {
	Base
	tag   byte
	calls *[]string
}

func newTagger(name string, tag byte, calls *[]string) *tagger {
	return &tagger{Base: Base{name: name}, tag: tag, calls: calls}
}

func (g *tagger) WritePacket(p *packet.Packet) (*packet.Packet, Status, error) {
	*g.calls = append(*g.calls, "packet:"+g.name)
	return p, StatusFrame, nil
}

func (g *tagger) WriteData(data []byte, extra Extra) (DataResult, error) {
	*g.calls = append(*g.calls, "data:"+g.name)
	return Frame(append(data, g.tag), extra), nil
}

func (g *tagger) PostWrite(*packet.Packet, []byte, Extra) error {
	*g.calls = append(*g.calls, "post:"+g.name)
	return nil
}

func TestChainDirections(t *testing.T) {
	var calls []string
	a := newTagger("A", 'a', &calls)
	b := newTagger("B", 'b', &calls)
	r := newTagger("R", 'r', &calls)

	c := NewChain()
	c.Add(r, DirRead)
	c.Add(a, DirReadWrite)
	c.Add(b, DirWrite)

	assert.Equal(t, []Protocol{r, a}, c.ReadProtocols())
	assert.Equal(t, []Protocol{b, a}, c.WriteProtocols())
	assert.False(t, r.lastRead)
	assert.True(t, a.lastRead)
	assert.False(t, b.lastRead)
}

func TestChainWriteOrderIsReversed(t *testing.T) {
	env, _ := testEnv(t)
	var calls []string
	c := newChain(t, env,
		newTagger("A", 'a', &calls), DirWrite,
		newTagger("B", 'b', &calls), DirWrite)

	wire := writeBytes(t, c, packet.New([]byte("x")))
	assert.Equal(t, []byte("xba"), wire)
	assert.Equal(t, []string{
		"packet:B", "packet:A",
		"data:B", "data:A",
		"post:B", "post:A",
	}, calls)
}

func TestChainWriteDoesNotAliasCallerBuffer(t *testing.T) {
	env, _ := testEnv(t)
	var calls []string
	c := newChain(t, env, newTagger("A", 'a', &calls), DirWrite)

	buf := make([]byte, 1, 8)
	buf[0] = 'x'
	p := packet.New(buf)
	writeBytes(t, c, p)
	assert.Equal(t, []byte("x"), p.Buffer())
}

func TestChainDeliversBufferedFrameWithoutSourceRead(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustLength(t, LengthConfig{BitOffset: 0, BitSize: 8}), DirRead)

	reads := 0
	src := func() ([]byte, Extra, error) {
		reads++
		if reads > 1 {
			return nil, nil, errDrained
		}
		return []byte{0x02, 0xAA, 0x03, 0xBB, 0xCC}, nil, nil
	}

	p, st, err := c.Read(src)
	require.NoError(t, err)
	require.Equal(t, StatusFrame, st)
	assert.Equal(t, []byte{0x02, 0xAA}, p.Buffer())

	p, st, err = c.Read(src)
	require.NoError(t, err)
	require.Equal(t, StatusFrame, st)
	assert.Equal(t, []byte{0x03, 0xBB, 0xCC}, p.Buffer())
	assert.Equal(t, 1, reads)
}

func TestChainSourceError(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustBurst(t, 0, nil, false), DirRead)

	boom := errors.New("boom")
	p, st, err := c.Read(func() ([]byte, Extra, error) { return nil, nil, boom })
	assert.Nil(t, p)
	assert.Equal(t, StatusStop, st)
	assert.ErrorIs(t, err, boom)
}

func TestChainAllowEmptyData(t *testing.T) {
	env, _ := testEnv(t)
	b := mustBurst(t, 0, nil, false)
	allow := true
	b.SetAllowEmptyData(&allow)
	c := newChain(t, env, b, DirRead)

	p, st, err := c.Read(func() ([]byte, Extra, error) {
		t.Fatal("source must not be read")
		return nil, nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFrame, st)
	assert.Empty(t, p.Buffer())
}

func TestChainNonLastProtocolPassesEmptyData(t *testing.T) {
	env, _ := testEnv(t)
	first := mustBurst(t, 0, nil, false)
	last := mustBurst(t, 0, nil, false)
	c := newChain(t, env, first, DirRead, last, DirRead)

	frames := readAll(t, c, []byte("abc"))
	assert.Equal(t, [][]byte{[]byte("abc")}, buffers(frames))
}

func TestChainExtraReachesPacket(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustBurst(t, 0, nil, false), DirRead)

	p, _, err := c.Read(func() ([]byte, Extra, error) {
		return []byte{1}, Extra{"vcid": 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Extra["vcid"])
}
