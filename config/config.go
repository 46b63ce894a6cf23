package config

import (
	"os"
	"sync"
)

// Config represents the core jmeter-web-runner configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	JMeter     JMeterConfig     `mapstructure:"jmeter"`
	Executions ExecutionsConfig `mapstructure:"executions"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`            // Listen port (default: 8080)
	LogJSON        bool     `mapstructure:"log_json"`        // JSON log output instead of console
	AllowedOrigins []string `mapstructure:"allowed_origins"` // WebSocket origin allowlist (empty = same-origin only)
}

// StorageConfig configures on-disk storage for test plans and reports
type StorageConfig struct {
	Dir          string `mapstructure:"dir"`           // Root data directory (default: ./data)
	DatabasePath string `mapstructure:"database_path"` // SQLite metadata DB (default: <dir>/jwr.db)
}

// JMeterConfig configures the external JMeter installation
type JMeterConfig struct {
	Path string `mapstructure:"path"` // Path to the jmeter binary; empty = not configured
}

// ExecutionsConfig configures the execution orchestrator
type ExecutionsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"` // Concurrency ceiling for running test plans (default: 2)
}

// DefaultMaxConcurrent is the execution ceiling used when the configured
// value is missing or invalid.
const DefaultMaxConcurrent = 2

// JMeterPath returns the configured path to the jmeter binary,
// or "" when no path has been configured.
func (c *Config) JMeterPath() string {
	return c.JMeter.Path
}

// MaxConcurrentExecutions returns the execution concurrency ceiling,
// falling back to DefaultMaxConcurrent for non-positive values.
func (c *Config) MaxConcurrentExecutions() int {
	if c.Executions.MaxConcurrent <= 0 {
		return DefaultMaxConcurrent
	}
	return c.Executions.MaxConcurrent
}

// DatabasePath returns the SQLite metadata path, derived from the data
// directory when not set explicitly.
func (c *Config) DatabasePath() string {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath
	}
	return c.Storage.Dir + string(os.PathSeparator) + "jwr.db"
}

// Live is a concurrency-safe holder for the active configuration.
// The config watcher replaces the snapshot on reload; readers (the
// runner resolving the jmeter path per execution) always observe a
// consistent Config value.
type Live struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewLive wraps an initial configuration snapshot
func NewLive(cfg *Config) *Live {
	return &Live{cfg: cfg}
}

// Get returns the current configuration snapshot
func (l *Live) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Replace swaps in a new configuration snapshot
func (l *Live) Replace(cfg *Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// JMeterPath returns the jmeter path from the current snapshot
func (l *Live) JMeterPath() string {
	return l.Get().JMeterPath()
}
