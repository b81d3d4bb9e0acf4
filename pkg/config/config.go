// Package config loads and validates the VFS cache shim's configuration:
// which export(s) it talks to, how big the block cache is, and the bounds
// on its adaptive wait timeout. Precedence: env > file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete cache shim configuration.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Mounts     []MountConfig    `mapstructure:"mounts" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// CacheConfig sizes the block cache and bounds the adaptive wait timeout.
type CacheConfig struct {
	// CapacityBytes is the total block cache size; rounded down to a whole
	// number of 128KiB blocks.
	CapacityBytes int64 `mapstructure:"capacity_bytes" validate:"gt=0"`

	// MinTimeoutMs / MaxTimeoutMs bound the adaptive wait-for-block timeout.
	MinTimeoutMs int `mapstructure:"min_timeout_ms" validate:"gt=0"`
	MaxTimeoutMs int `mapstructure:"max_timeout_ms" validate:"gtfield=MinTimeoutMs"`
}

// ConnectionConfig controls the NFS connection pool and its stat cache.
type ConnectionConfig struct {
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
	StatTTL     time.Duration `mapstructure:"stat_ttl" validate:"gt=0"`
}

// MetricsConfig controls whether Prometheus metrics are exposed.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// MountConfig declares a known (server, export) pair and the path hints
// under it, so the VFS read path can skip nfs:// URL parsing for anything
// the host already told it about.
type MountConfig struct {
	Server string      `mapstructure:"server" validate:"required"`
	Export string      `mapstructure:"export" validate:"required,startswith=/"`
	Hints  []HintConfig `mapstructure:"hints" validate:"dive"`
}

// HintConfig pre-registers one path -> relative-path resolution under a
// MountConfig's (server, export).
type HintConfig struct {
	FullPath     string `mapstructure:"full_path" validate:"required"`
	RelativePath string `mapstructure:"relative_path" validate:"required"`
}

// Load reads configuration from file, environment, and defaults, applying
// ApplyDefaults and Validate before returning.
//
// Precedence (highest to lowest): environment variables (NFSVFS_*), the
// config file, then defaults. Environment variables are bound only through
// AutomaticEnv, so one takes effect only for a key that the config file
// also sets; a key absent from the file is not read from the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NFSVFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("config: read file: %w", err)
	}
	return nil
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nfsvfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nfsvfs")
}

// GetDefaultConfigPath returns the default configuration file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
