package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_overrides_up.sql":    {Data: []byte("CREATE TABLE b ();")},
		"0001_packet_log_up.sql":   {Data: []byte("CREATE TABLE a ();")},
		"0001_packet_log_down.sql": {Data: []byte("DROP TABLE a;")},
		"README.md":                {Data: []byte("notes")},
		"draft_up.sql":             {Data: []byte("-- no version")},
		"sub/0010_later_up.sql":    {Data: []byte("SELECT 1;")},
	}

	got, err := Runner{FS: fsys}.Discover()
	require.NoError(t, err)
	assert.Equal(t, []Migration{
		{Version: 1, Path: "0001_packet_log_up.sql"},
		{Version: 2, Path: "0002_overrides_up.sql"},
		{Version: 10, Path: "sub/0010_later_up.sql"},
	}, got)
}

func TestDiscoverDuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a_up.sql": {Data: []byte("SELECT 1;")},
		"0001_b_up.sql": {Data: []byte("SELECT 2;")},
	}
	_, err := Runner{FS: fsys}.Discover()
	assert.ErrorContains(t, err, "migration version 1")
}

func TestDiscoverNoSource(t *testing.T) {
	_, err := Runner{}.Discover()
	assert.Error(t, err)
}

func TestDiscoverDir(t *testing.T) {
	got, err := Runner{Dir: t.TempDir()}.Discover()
	require.NoError(t, err)
	assert.Empty(t, got)
}
