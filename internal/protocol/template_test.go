package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/groundlink/internal/packet"
)

func mustTemplate(t *testing.T, c TemplateConfig) *Template {
	t.Helper()
	if c.WriteTerm == nil {
		c.WriteTerm = []byte("\n")
	}
	if c.ReadTerm == nil {
		c.ReadTerm = []byte("\n")
	}
	if c.ResponseLines == 0 {
		c.ResponseLines = 1
	}
	c.StripReadTerm = true
	p, err := NewTemplate(c)
	require.NoError(t, err)
	return p
}

func setVolt(t *testing.T, env *Env, rspTemplate string) *packet.Packet {
	t.Helper()
	def, err := env.Packets.Definition("INST", "SET_VOLT", true)
	require.NoError(t, err)
	cmd := def.New()
	require.NoError(t, cmd.Write(ItemCmdTemplate, "SOUR:VOLT <VOLTAGE>, (@<CHANNEL>)"))
	require.NoError(t, cmd.Write("VOLTAGE", 11))
	require.NoError(t, cmd.Write("CHANNEL", 1))
	if rspTemplate != "" {
		require.NoError(t, cmd.Write(ItemRspTemplate, rspTemplate))
		require.NoError(t, cmd.Write(ItemRspPacket, "VOLT_RSP"))
	}
	return cmd
}

type writeOutcome struct {
	sent bool
	err  error
}

// asyncWrite 在后台写入，返回发出的字节与写入结果
func asyncWrite(c *Chain, p *packet.Packet) (<-chan []byte, <-chan writeOutcome) {
	wire := make(chan []byte, 1)
	done := make(chan writeOutcome, 1)
	go func() {
		sent, err := c.Write(p, func(data []byte, _ Extra) error {
			wire <- append([]byte(nil), data...)
			return nil
		})
		done <- writeOutcome{sent, err}
	}()
	return wire, done
}

func TestTemplateRenderWithoutResponse(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustTemplate(t, TemplateConfig{}), DirReadWrite)

	wire := writeBytes(t, c, setVolt(t, env, ""))
	assert.Equal(t, "SOUR:VOLT 11, (@1)\n", string(wire))
}

func TestTemplateRequestResponse(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustTemplate(t, TemplateConfig{ResponseTimeout: 2 * time.Second}), DirReadWrite)

	wire, done := asyncWrite(c, setVolt(t, env, "<VOLTAGE>"))
	assert.Equal(t, "SOUR:VOLT 11, (@1)\n", string(<-wire))

	frames := readAll(t, c, []byte("10\n"))
	require.Len(t, frames, 1)
	rsp := frames[0]
	assert.Equal(t, "INST", rsp.Target)
	assert.Equal(t, "VOLT_RSP", rsp.Name)
	v, err := rsp.Read("VOLTAGE", packet.Raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), v)
	id, err := rsp.Read("APID", packet.Raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)

	select {
	case out := <-done:
		assert.NoError(t, out.err)
		assert.True(t, out.sent)
	case <-time.After(time.Second):
		t.Fatal("writer still blocked after response")
	}
}

func TestTemplateMultipleValuesAndIgnoredLines(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustTemplate(t, TemplateConfig{
		ResponseTimeout: 2 * time.Second,
		IgnoreLines:     1,
		ResponseLines:   2,
	}), DirReadWrite)

	wire, done := asyncWrite(c, setVolt(t, env, "V=<VOLTAGE>;C=<CHANNEL>"))
	<-wire

	frames := readAll(t, c, []byte("echo\nV=12;\nC=3\n"))
	require.Len(t, frames, 1)
	v, _ := frames[0].Read("VOLTAGE", packet.Raw)
	ch, _ := frames[0].Read("CHANNEL", packet.Raw)
	assert.Equal(t, uint64(12), v)
	assert.Equal(t, uint64(3), ch)
	assert.NoError(t, (<-done).err)
}

func TestTemplateMismatchIsNotFatal(t *testing.T) {
	env, logs := testEnv(t)
	c := newChain(t, env, mustTemplate(t, TemplateConfig{ResponseTimeout: 2 * time.Second}), DirReadWrite)

	wire, done := asyncWrite(c, setVolt(t, env, "<VOLTAGE>,<CHANNEL>"))
	<-wire

	frames := readAll(t, c, []byte("10\n"))
	assert.Empty(t, frames)
	assert.Equal(t, 1, logs.FilterMessage("template response rejected").Len())
	assert.NoError(t, (<-done).err)
}

func TestTemplateTimeout(t *testing.T) {
	env, logs := testEnv(t)
	c := newChain(t, env, mustTemplate(t, TemplateConfig{ResponseTimeout: 30 * time.Millisecond}), DirReadWrite)

	sent, err := c.Write(setVolt(t, env, "<VOLTAGE>"), func([]byte, Extra) error { return nil })
	assert.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 1, logs.FilterMessage("timeout waiting for response").Len())

	c = newChain(t, env, mustTemplate(t, TemplateConfig{ResponseTimeout: 30 * time.Millisecond, RaiseOnTimeout: true}), DirReadWrite)
	_, err = c.Write(setVolt(t, env, "<VOLTAGE>"), func([]byte, Extra) error { return nil })
	assert.ErrorIs(t, err, ErrResponseTimeout)
}

func TestTemplateDisconnectReleasesWriter(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustTemplate(t, TemplateConfig{ResponseTimeout: 0}), DirReadWrite)

	wire, done := asyncWrite(c, setVolt(t, env, "<VOLTAGE>"))
	<-wire
	c.OnDisconnect()

	select {
	case out := <-done:
		assert.ErrorIs(t, out.err, ErrResponseCanceled)
	case <-time.After(time.Second):
		t.Fatal("writer not released by disconnect")
	}
}

func TestTemplateUnsolicitedLinesPassThrough(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustTemplate(t, TemplateConfig{}), DirRead)

	frames := readAll(t, c, []byte("ALARM\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("ALARM"), frames[0].Buffer())
}

func TestTemplateInitialReadDelay(t *testing.T) {
	env, logs := testEnv(t)
	c := newChain(t, env, mustTemplate(t, TemplateConfig{InitialReadDelay: 50 * time.Millisecond}), DirReadWrite)

	frames := readAll(t, c, []byte("WELCOME\n"))
	assert.Empty(t, frames)
	assert.Equal(t, 1, logs.FilterMessage("dropping data during initial read delay").Len())

	start := time.Now()
	wire := writeBytes(t, c, setVolt(t, env, ""))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, "SOUR:VOLT 11, (@1)\n", string(wire))

	frames = readAll(t, c, []byte("READY\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("READY"), frames[0].Buffer())
}

func TestTemplateRequiresCommandTemplate(t *testing.T) {
	env, _ := testEnv(t)
	c := newChain(t, env, mustTemplate(t, TemplateConfig{}), DirWrite)
	def, err := env.Packets.Definition("INST", "COLLECT", true)
	require.NoError(t, err)
	_, err = c.Write(def.New(), func([]byte, Extra) error { return nil })
	assert.ErrorIs(t, err, ErrNoTemplate)
}

func TestCompileResponse(t *testing.T) {
	names, re := compileResponse("SOUR:VOLT <VOLTAGE>, (@<CHANNEL>)")
	assert.Equal(t, []string{"VOLTAGE", "CHANNEL"}, names)
	m := re.FindStringSubmatch("SOUR:VOLT 11, (@1)")
	require.Len(t, m, 3)
	assert.Equal(t, "11", m[1])
	assert.Equal(t, "1", m[2])
}
