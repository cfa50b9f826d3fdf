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
	path := filepath.Join(t.TempDir(), "marp.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[node]
listen = "127.0.0.1:6000"
timeout = "750ms"
recurse_depth = 3

[p2p]
enabled = true
bootstrap = ["/ip4/10.0.0.1/tcp/5381/p2p/12D3KooWExample"]

[cache]
max_ttl = "10m"

[authority]
trusted = ["02abcdef"]

[log]
level = "debug"
format = "json"

[[peers]]
address = "10.0.0.2:5380"

[[peers]]
address = "  "
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6000", cfg.Node.Listen)
	assert.Equal(t, 750*time.Millisecond, cfg.Node.Timeout.Duration)
	assert.Equal(t, uint8(3), cfg.Node.RecurseDepth)
	assert.True(t, cfg.P2P.Enabled)
	assert.Len(t, cfg.P2P.Bootstrap, 1)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MaxTTL.Duration)
	assert.Equal(t, []string{"02abcdef"}, cfg.Authority.Trusted)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"10.0.0.2:5380"}, cfg.PeerAddresses())

	// untouched sections keep defaults
	assert.Equal(t, 64, cfg.Node.Workers)
	assert.Equal(t, 4096, cfg.Cache.Size)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Listen)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad listen", body: "[node]\nlisten = \"nope\"\n"},
		{name: "bad duration", body: "[node]\ntimeout = \"soon\"\n"},
		{name: "zero workers", body: "[node]\nworkers = 0\n"},
		{name: "deep recursion", body: "[node]\nrecurse_depth = 99\n"},
		{name: "bad log level", body: "[log]\nlevel = \"loud\"\n"},
		{name: "not toml", body: "[node\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestDatabasePath(t *testing.T) {
	cfg := Default()
	cfg.Node.DataDir = "/var/lib/marp"
	assert.Equal(t, "/var/lib/marp/marp.db", cfg.DatabasePath())
}
