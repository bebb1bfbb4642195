package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"navi/internal/hierarchy"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:8787", cfg.Server.Addr())
	require.Equal(t, hierarchy.DefaultMaxDepth, cfg.Hierarchy.MaxDepth)
	require.Equal(t, BackendMemory, cfg.Store.Backend)
	require.Equal(t, 30*time.Second, cfg.Store.CacheTTL)
	require.True(t, cfg.Metrics.Enabled)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "navi-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 0.0.0.0
  port: 9000
store:
  backend: file
  dir: /tmp/navi-sessions
  cache: true
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	require.Equal(t, BackendFile, cfg.Store.Backend)
	require.Equal(t, "/tmp/navi-sessions", cfg.Store.Dir)
	require.True(t, cfg.Store.Cache)
	require.Equal(t, "debug", cfg.LogLevel)
	// Untouched keys keep their defaults.
	require.Equal(t, hierarchy.DefaultMaxDepth, cfg.Hierarchy.MaxDepth)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:    ServerConfig{Host: "127.0.0.1", Port: 8787},
			Hierarchy: HierarchyConfig{MaxDepth: 5},
			Store:     StoreConfig{Backend: BackendMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "zero depth", mutate: func(c *Config) { c.Hierarchy.MaxDepth = 0 }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "redis" }, wantErr: true},
		{name: "tracing without endpoint", mutate: func(c *Config) { c.Tracing.Enabled = true }, wantErr: true},
		{name: "tracing with endpoint", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Endpoint = "localhost:4318"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLoadPresetsBuiltin(t *testing.T) {
	ps, err := LoadPresets("")
	require.NoError(t, err)
	require.Equal(t, []string{"implementer", "researcher", "reviewer"}, ps.Names())

	p, ok := ps.Get("researcher")
	require.True(t, ok)
	require.Equal(t, "researcher", p.Role)

	_, ok = ps.Get("astronaut")
	require.False(t, ok)
}

func TestLoadPresetsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
presets:
  - name: researcher
    role: deep research specialist
    model: gpt-5
  - name: tester
    description: Writes and runs tests
`), 0o644))

	ps, err := LoadPresets(path)
	require.NoError(t, err)

	// File entry replaces the built-in of the same name.
	p, ok := ps.Get("researcher")
	require.True(t, ok)
	require.Equal(t, "deep research specialist", p.Role)
	require.Equal(t, "gpt-5", p.Model)

	// Role falls back to the name when omitted.
	p, ok = ps.Get("tester")
	require.True(t, ok)
	require.Equal(t, "tester", p.Role)

	require.Equal(t, []string{"implementer", "researcher", "reviewer", "tester"}, ps.Names())
}

func TestLoadPresetsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets:\n  - role: anonymous\n"), 0o644))
	_, err := LoadPresets(path)
	require.Error(t, err)
}
