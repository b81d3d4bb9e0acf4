package config

import "testing"

func TestGetDefaultConfigPassesValidation(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate cleanly: %v", err)
	}
}

func TestApplyDefaultsNormalizesLogLevel(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("expected normalized level DEBUG, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsEmptyMounts(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Mounts = nil
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for empty mounts")
	}
}

func TestValidateRejectsDuplicateMounts(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Mounts = []MountConfig{
		{Server: "host", Export: "/export"},
		{Server: "host", Export: "/export"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for duplicate server/export pair")
	}
}

func TestValidateRejectsInvertedTimeoutBounds(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Cache.MinTimeoutMs = 20
	cfg.Cache.MaxTimeoutMs = 2
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for inverted timeout bounds")
	}
}

func TestValidateRejectsExportWithoutLeadingSlash(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Mounts = []MountConfig{{Server: "host", Export: "export"}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for export missing leading slash")
	}
}
