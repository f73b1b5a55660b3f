package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/pageserver/pkg/adapter/page"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the complete pageserver configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PAGESERVER_*)
//  3. Configuration file (YAML, TOML or JSON)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server holds the listener and document root settings.
	// Uses the page.PageConfig type directly to avoid duplication.
	Server page.PageConfig `mapstructure:"server" yaml:"server"`

	// Pages selects where the root and error page bodies come from
	Pages PagesConfig `mapstructure:"pages" yaml:"pages"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// PagesConfig specifies the page catalog.
//
// The Type field determines which source is used. Only the corresponding
// type-specific section is read.
type PagesConfig struct {
	// Type specifies the catalog source
	// Valid values: builtin, directory
	Type string `mapstructure:"type" validate:"required,oneof=builtin directory" yaml:"type"`

	// Directory contains directory-specific configuration
	// Only used when Type = "directory"
	Directory map[string]any `mapstructure:"directory" yaml:"directory,omitempty"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the /metrics HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics server
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`
}

// LowPortThreshold is the highest port that triggers a startup warning.
const LowPortThreshold = 1000

// Warnings returns non-fatal configuration problems worth logging.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Server.Port <= LowPortThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"port %d is <= %d; it may need elevated privileges or collide with another service",
			c.Server.Port, LowPortThreshold))
	}
	return warnings
}

// Load loads configuration from flags, environment, file and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//   - flags: Command-line flags registered with BindFlags (nil for none)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with defaults, environment variables and
// config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Defaults are registered so that AutomaticEnv sees every key at
	// Unmarshal time. Example: PAGESERVER_SERVER_PORT=9000
	setViperDefaults(v)

	v.SetEnvPrefix("PAGESERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/pageserver/config.{yaml,toml,json}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
	}
}

// setViperDefaults registers every scalar config key with its default value.
func setViperDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.docroot", d.Server.DocRoot)
	v.SetDefault("server.debug", d.Server.Debug)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.metrics_log_interval", d.Server.MetricsLogInterval)

	v.SetDefault("pages.type", d.Pages.Type)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// Flag names registered by BindFlags, mapped to their config keys.
var flagKeys = map[string]string{
	"port":             "server.port",
	"docroot":          "server.docroot",
	"debug":            "server.debug",
	"shutdown-timeout": "server.shutdown_timeout",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"log-output":       "logging.output",
	"metrics":          "metrics.enabled",
	"metrics-port":     "metrics.port",
}

// BindFlags registers the configuration override flags on flags.
//
// Flag defaults are zero values: only flags set explicitly on the command
// line override lower precedence sources.
func BindFlags(flags *pflag.FlagSet) {
	flags.Int("port", 0, "TCP port to listen on")
	flags.String("docroot", "", "Directory to serve pages from")
	flags.Bool("debug", false, "Force DEBUG level logging")
	flags.Duration("shutdown-timeout", 0, "Graceful shutdown timeout")
	flags.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.String("log-output", "", "Log output (stdout, stderr, or a file path)")
	flags.Bool("metrics", false, "Enable the Prometheus metrics server")
	flags.Int("metrics-port", 0, "Port of the Prometheus metrics server")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pageserver")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "pageserver")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
