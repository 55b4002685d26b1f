package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadInterfaces(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
interfaces:
  - name: inst_int
    transport:
      type: TCP_CLIENT
      addr: 127.0.0.1:8081
      readTimeout: 2s
    protocols:
      - type: length
        direction: READ_WRITE
        args: ["32", "16", "7", "1", "BIG_ENDIAN", "0", "0x1ACFFC1D"]
    tlmTargets: [inst]
    autoConnect: true
  - name: server
    transport:
      type: tcp_server
      addr: ":0"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "groundlink", cfg.App.Name)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Database.Enabled)
	assert.True(t, cfg.Database.ArchivePackets)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	require.Len(t, cfg.Interfaces, 2)

	ic := cfg.Interfaces[0]
	assert.Equal(t, "INST_INT", ic.Name)
	assert.Equal(t, "tcp_client", ic.Transport.Type)
	assert.Equal(t, 2*time.Second, ic.Transport.ReadTimeout)
	assert.Equal(t, 5*time.Second, ic.Transport.ConnectTimeout)
	assert.Equal(t, []string{"INST"}, ic.TlmTargets)
	assert.Equal(t, "0x1ACFFC1D", ic.Protocols[0].Args[6])
	assert.True(t, ic.AutoConnect)
	assert.Equal(t, 5, ic.BreakerThreshold)
	assert.Equal(t, time.Minute, ic.BreakerTimeout)

	srv := cfg.Interfaces[1].Transport
	assert.Equal(t, 16, srv.MaxConnections)
	assert.Equal(t, 10, srv.AcceptRate)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: \":9090\"\n")
	t.Setenv("GROUNDLINK_HTTP_ADDR", ":7070")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"duplicate name": `
interfaces:
  - {name: a, transport: {type: loopback}}
  - {name: A, transport: {type: loopback}}
`,
		"missing addr": `
interfaces:
  - {name: a, transport: {type: tcp_client}}
`,
		"file without paths": `
interfaces:
  - {name: a, transport: {type: file}}
`,
		"unknown transport": `
interfaces:
  - {name: a, transport: {type: serial}}
`,
		"protocol without type": `
interfaces:
  - name: a
    transport: {type: loopback}
    protocols:
      - {direction: READ}
`,
		"missing name": `
interfaces:
  - {transport: {type: loopback}}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
