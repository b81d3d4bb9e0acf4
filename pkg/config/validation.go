package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate runs struct-tag validation plus the custom rules below.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules covers cross-field rules too awkward for struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Mounts) == 0 {
		return fmt.Errorf("mounts: at least one mount must be configured")
	}

	seen := make(map[string]bool)
	for i, m := range cfg.Mounts {
		key := m.Server + ":" + m.Export
		if seen[key] {
			return fmt.Errorf("mounts[%d]: duplicate server/export pair %q", i, key)
		}
		seen[key] = true

		hintPaths := make(map[string]bool)
		for j, h := range m.Hints {
			if hintPaths[h.FullPath] {
				return fmt.Errorf("mounts[%d].hints[%d]: duplicate full_path %q", i, j, h.FullPath)
			}
			hintPaths[h.FullPath] = true
		}
	}

	if cfg.Cache.MaxTimeoutMs <= cfg.Cache.MinTimeoutMs {
		return fmt.Errorf("cache: max_timeout_ms must be greater than min_timeout_ms")
	}

	return nil
}

func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
