package config

import (
	"errors"
	"fmt"
)

// Config describes a dispatcher assembled from a config file.
type Config struct {
	// Metrics enables per-action-type dispatch statistics.
	Metrics bool `toml:"metrics"`

	// Audit enables the audit logging middleware.
	Audit bool `toml:"audit"`

	// Tracing enables the OpenTelemetry tracing middleware.
	Tracing bool `toml:"tracing"`

	// Scripts lists Lua interceptor files, installed in order after the
	// audit and tracing middleware.
	Scripts []string `toml:"scripts"`

	// MaxDepth limits dispatch nesting. Zero means no limit.
	MaxDepth int `toml:"max_depth"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Metrics:  false,
		Audit:    false,
		Tracing:  false,
		MaxDepth: 0,
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return errors.New("max_depth cannot be negative")
	}
	for i, s := range c.Scripts {
		if s == "" {
			return fmt.Errorf("scripts[%d] is empty", i)
		}
	}
	return nil
}
