package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAllTypes(t *testing.T) {
	tests := []struct {
		typ  string
		args []string
		want Protocol
	}{
		{"burst", nil, &Burst{}},
		{"fixed", []string{"2"}, &Fixed{}},
		{"LENGTH_PROTOCOL", []string{"16", "16", "0", "1", "LITTLE_ENDIAN"}, &LengthField{}},
		{"crc", nil, &Crc{}},
		{"preidentified", []string{"0xDEAD", "1024"}, &Preidentified{}},
		{"template", []string{"0x0A", "0x0A"}, &Template{}},
		{"terminated", []string{"0x0D0A", "0x0D0A"}, &Terminated{}},
		{"override", nil, &OverridePostProcessor{}},
		{"ignore_packet", []string{"INST", "HEALTH"}, &IgnorePacket{}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			p, err := Build(tt.typ, tt.args)
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
			assert.Nil(t, p.base().allowEmpty)
		})
	}
	assert.Len(t, Types(), len(tests))
}

func TestBuildAllowEmptyData(t *testing.T) {
	p, err := Build("burst", []string{"0", "0x1ACF", "true", "false"})
	require.NoError(t, err)
	require.NotNil(t, p.base().allowEmpty)
	assert.False(t, *p.base().allowEmpty)
	assert.Equal(t, []byte{0x1A, 0xCF}, p.(*Burst).SyncPattern())

	p, err = Build("override", []string{"true"})
	require.NoError(t, err)
	assert.True(t, *p.base().allowEmpty)
}

func TestBuildTemplateArgs(t *testing.T) {
	p, err := Build("template", []string{"0x0A", "0x0D0A", "nil", "", "2", "true", "2.5", "1", "false"})
	require.NoError(t, err)
	tp := p.(*Template)
	assert.Equal(t, 2500*time.Millisecond, tp.responseTimeout)
	assert.Equal(t, 2, tp.responseLines)
	assert.Equal(t, 1, tp.ignoreLines)
	assert.True(t, tp.raiseOnTimeout)
	assert.Zero(t, tp.initialReadDelay)
	assert.Equal(t, []byte("\r\n"), tp.readTerm)
	assert.False(t, tp.strip)

	p, err = Build("template", []string{"0x0A", "0x0A"})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, p.(*Template).responseTimeout)
}

func TestBuildCrcParams(t *testing.T) {
	p, err := Build("crc", []string{"", "STRIP", "DISCONNECT", "-16", "16"})
	require.NoError(t, err)
	c := p.(*Crc)
	assert.Equal(t, uint64(0x29B1), c.Calculator().Calc([]byte("123456789")))

	p, err = Build("crc", []string{"", "", "", "-16", "16", "", "0x1021", "0"})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x31C3), p.(*Crc).Calculator().Calc([]byte("123456789")))

	_, err = Build("crc", []string{"", "MAYBE"})
	assert.ErrorIs(t, err, ErrBadArgs)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build("slip", nil)
	assert.ErrorIs(t, err, ErrUnknownProtocol)

	_, err = Build("fixed", nil)
	assert.ErrorIs(t, err, ErrBadArgs)

	_, err = Build("length", []string{"abc"})
	assert.ErrorIs(t, err, ErrBadArgs)

	_, err = Build("burst", []string{"0", "0xZZ"})
	assert.ErrorIs(t, err, ErrBadArgs)

	_, err = Build("burst", []string{"0", "", "", "sometimes"})
	assert.ErrorIs(t, err, ErrBadArgs)
}

func TestArgsParsing(t *testing.T) {
	a := args{"0x10", "none", "1.5", "250ms", "0xABC", "yes"}

	n, err := a.integer(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	n, err = a.integer(1, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	d, err := a.duration(2, 0)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = a.duration(3, 0)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	b, err := a.bytes(4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0xBC}, b)

	_, err = a.boolean(5, false)
	assert.ErrorIs(t, err, ErrBadArgs)

	b, err = a.bytes(9)
	require.NoError(t, err)
	assert.Nil(t, b)

	lit, err := parseBytes("OK")
	require.NoError(t, err)
	assert.Equal(t, []byte("OK"), lit)
}

func TestArgsNumericCoercion(t *testing.T) {
	a := args{"-16", "1.5", "0xFFFF", "-1", "TRUE", "0", "abc"}

	n, err := a.integer(0, 0)
	require.NoError(t, err)
	assert.Equal(t, -16, n)

	_, err = a.integer(1, 0)
	assert.ErrorIs(t, err, ErrBadArgs, "fractional value must not be truncated")

	u, err := a.unsigned(2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFFFF), u)

	_, err = a.unsigned(3, 0)
	assert.ErrorIs(t, err, ErrBadArgs)

	on, err := a.boolean(4, false)
	require.NoError(t, err)
	assert.True(t, on)

	off, err := a.optBool(5)
	require.NoError(t, err)
	require.NotNil(t, off)
	assert.False(t, *off)

	_, err = a.integer(6, 0)
	assert.ErrorIs(t, err, ErrBadArgs)

	def, err := a.boolean(7, true)
	require.NoError(t, err)
	assert.True(t, def)
}
