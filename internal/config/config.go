// Package config loads the service configuration from file, environment, and
// defaults, in that order of increasing precedence for the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"navi/internal/hierarchy"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Hierarchy HierarchyConfig `mapstructure:"hierarchy"`
	Store     StoreConfig     `mapstructure:"store"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Presets   PresetsConfig   `mapstructure:"presets"`
	LogLevel  string          `mapstructure:"log_level"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HierarchyConfig configures the coordination core.
type HierarchyConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend  string        `mapstructure:"backend"`
	Dir      string        `mapstructure:"dir"`
	Cache    bool          `mapstructure:"cache"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// PresetsConfig points at the role preset file.
type PresetsConfig struct {
	Path string `mapstructure:"path"`
}

const envPrefix = "NAVI"

// Load reads configuration from the given file (empty means search
// navi-config.{yaml,...} in $HOME/.navi and the working directory), then
// applies NAVI_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("navi-config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.navi")
	v.AddConfigPath(".")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env carry the load.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("hierarchy.max_depth", hierarchy.DefaultMaxDepth)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.dir", "~/.navi/sessions")
	v.SetDefault("store.cache", false)
	v.SetDefault("store.cache_ttl", 30*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("presets.path", "")
	v.SetDefault("log_level", "info")
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Hierarchy.MaxDepth <= 0 {
		return fmt.Errorf("hierarchy max_depth must be positive, got %d", c.Hierarchy.MaxDepth)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendFile:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing enabled without endpoint")
	}
	return nil
}
