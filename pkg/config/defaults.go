package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills in zero-valued fields with sensible defaults and
// upper-cases the log level; other explicit values are left untouched.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyCacheDefaults(&cfg.Cache)
	applyConnectionDefaults(&cfg.Connection)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.CapacityBytes == 0 {
		cfg.CapacityBytes = 64 * 1024 * 1024
	}
	if cfg.MinTimeoutMs == 0 {
		cfg.MinTimeoutMs = 2
	}
	if cfg.MaxTimeoutMs == 0 {
		cfg.MaxTimeoutMs = 20
	}
}

func applyConnectionDefaults(cfg *ConnectionConfig) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.StatTTL == 0 {
		cfg.StatTTL = time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":9400"
	}
}

// GetDefaultConfig returns a Config with every default applied, useful for
// tests and for generating a sample config file.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Mounts: []MountConfig{
			{Server: "127.0.0.1", Export: "/export"},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
