package config

import (
	"strings"
	"time"

	"github.com/marmos91/pageserver/pkg/adapter/page"
)

// Default values applied by ApplyDefaults.
const (
	DefaultPort            = 8000
	DefaultDocRoot         = "./pages"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultPagesType       = "builtin"
	DefaultMetricsPort     = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - server.debug forces the DEBUG log level
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLoggingDefaults(&cfg.Logging, cfg.Server.Debug)
	applyPagesDefaults(&cfg.Pages)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig, debug bool) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if debug {
		cfg.Level = "DEBUG"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets listener and lifecycle defaults.
func applyServerDefaults(cfg *page.PageConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DocRoot == "" {
		cfg.DocRoot = DefaultDocRoot
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	// MetricsLogInterval defaults to 0 (periodic logging disabled)
}

// applyPagesDefaults sets page catalog defaults.
func applyPagesDefaults(cfg *PagesConfig) {
	if cfg.Type == "" {
		cfg.Type = DefaultPagesType
	}
	if cfg.Directory == nil {
		cfg.Directory = make(map[string]any)
	}
}

// applyMetricsDefaults sets metrics defaults. Metrics stay disabled unless
// explicitly enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Registering viper defaults
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
