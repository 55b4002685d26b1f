package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/groundlink/internal/config"
)

func TestTCPClientReadWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	c := NewTCPClient(cfgpkg.TransportConfig{
		Addr:           ln.Addr().String(),
		ConnectTimeout: time.Second,
		ReadTimeout:    50 * time.Millisecond,
	}, nil)
	assert.False(t, c.Connected())
	_, err = c.Read()
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	peer := <-accepted
	defer peer.Close()

	_, err = c.Read()
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.False(t, IsFatal(err))

	_, err = peer.Write([]byte{0x1A, 0xCF})
	require.NoError(t, err)
	got, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1A, 0xCF}, got)

	require.NoError(t, c.Write([]byte("PING")))
	buf := make([]byte, 4)
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	_, err = peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("PING"), buf)

	require.NoError(t, peer.Close())
	var rerr error
	for i := 0; i < 20; i++ {
		if _, rerr = c.Read(); rerr != ErrReadTimeout {
			break
		}
	}
	assert.ErrorIs(t, rerr, ErrClosed)
	assert.True(t, IsFatal(rerr))

	require.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Write([]byte{1}), ErrNotConnected)
}

func TestTCPClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewTCPClient(cfgpkg.TransportConfig{Addr: addr, ConnectTimeout: 200 * time.Millisecond}, nil)
	assert.Error(t, c.Connect(context.Background()))
	assert.False(t, c.Connected())
}

func TestFileReplay(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "downlink.bin")
	out := filepath.Join(dir, "uplink.bin")
	require.NoError(t, os.WriteFile(in, []byte("abcdefg"), 0o644))

	f := NewFile(cfgpkg.TransportConfig{ReadFile: in, WriteFile: out, ReadBufferSize: 3}, nil)
	assert.Equal(t, "file "+in, f.Name())
	require.NoError(t, f.Connect(context.Background()))
	assert.True(t, f.Connected())

	var chunks [][]byte
	var err error
	for {
		var b []byte
		if b, err = f.Read(); err != nil {
			break
		}
		chunks = append(chunks, b)
	}
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, [][]byte{[]byte("abc"), []byte("def"), []byte("g")}, chunks)

	require.NoError(t, f.Write([]byte("CMD1")))
	require.NoError(t, f.Write([]byte("CMD2")))
	require.NoError(t, f.Disconnect())
	assert.False(t, f.Connected())

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "CMD1CMD2", string(written))
}

func TestFileReadOnly(t *testing.T) {
	in := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(in, []byte{1}, 0o644))
	f := NewFile(cfgpkg.TransportConfig{ReadFile: in}, nil)
	require.NoError(t, f.Connect(context.Background()))
	defer f.Disconnect()
	assert.ErrorIs(t, f.Write([]byte{1}), ErrReadOnly)
}

func TestFileThrottleInterruptedByDisconnect(t *testing.T) {
	in := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(in, []byte{1, 2, 3}, 0o644))
	f := NewFile(cfgpkg.TransportConfig{ReadFile: in, Throttle: time.Hour}, nil)
	require.NoError(t, f.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := f.Read()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.Disconnect())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("read not released by disconnect")
	}
}

func TestLoopback(t *testing.T) {
	l := NewLoopback(30*time.Millisecond, true)
	assert.ErrorIs(t, l.Write([]byte{1}), ErrNotConnected)
	require.NoError(t, l.Connect(context.Background()))

	_, err := l.Read()
	assert.ErrorIs(t, err, ErrReadTimeout)

	require.NoError(t, l.Write([]byte("echo")))
	got, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("echo"), got)
	assert.Equal(t, [][]byte{[]byte("echo")}, l.Written())

	require.NoError(t, l.Inject([]byte("tlm")))
	got, err = l.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("tlm"), got)

	require.NoError(t, l.Disconnect())
	assert.False(t, l.Connected())
	_, err = l.Read()
	assert.ErrorIs(t, err, ErrClosed)
}
