package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# pageserver configuration file
#
# Every key can be overridden with an environment variable built from the
# PAGESERVER_ prefix and the upper-cased key path, for example
# PAGESERVER_SERVER_PORT=9000. Command-line flags take precedence over both.
#
# pages.type: builtin serves the compiled-in pages. Set it to directory and
# add a pages.directory.path to load root/forbidden/not_found pages from disk.

`

// InitConfig writes a sample configuration file to the default location.
//
// Returns the path of the written file. Fails if the file already exists
// unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := generateSampleConfig()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateSampleConfig renders the default configuration as YAML.
//
// Durations are written in their string form ("30s") so the file reads
// naturally and round-trips through viper's duration decoding.
func generateSampleConfig() ([]byte, error) {
	cfg := GetDefaultConfig()

	sample := map[string]any{
		"logging": cfg.Logging,
		"server": map[string]any{
			"port":                 cfg.Server.Port,
			"docroot":              cfg.Server.DocRoot,
			"debug":                cfg.Server.Debug,
			"shutdown_timeout":     cfg.Server.ShutdownTimeout.String(),
			"metrics_log_interval": cfg.Server.MetricsLogInterval.String(),
		},
		"pages": map[string]any{
			"type": cfg.Pages.Type,
		},
		"metrics": cfg.Metrics,
	}

	body, err := yaml.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample config: %w", err)
	}

	return append([]byte(configHeader), body...), nil
}
