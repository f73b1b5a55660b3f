package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a default config whose docroot exists.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := GetDefaultConfig()
	cfg.Server.DocRoot = t.TempDir()
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("DefaultsWithExistingDocRoot", func(t *testing.T) {
		assert.NoError(t, Validate(validConfig(t)))
	})

	tests := []struct {
		name    string
		mutate  func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{
			name:    "PortZero",
			mutate:  func(t *testing.T, cfg *Config) { cfg.Server.Port = 0 },
			wantErr: "Port",
		},
		{
			name:    "PortTooHigh",
			mutate:  func(t *testing.T, cfg *Config) { cfg.Server.Port = 65536 },
			wantErr: "Port",
		},
		{
			name:    "EmptyDocRoot",
			mutate:  func(t *testing.T, cfg *Config) { cfg.Server.DocRoot = "" },
			wantErr: "DocRoot",
		},
		{
			name:    "ZeroShutdownTimeout",
			mutate:  func(t *testing.T, cfg *Config) { cfg.Server.ShutdownTimeout = 0 },
			wantErr: "ShutdownTimeout",
		},
		{
			name:    "UnknownLogLevel",
			mutate:  func(t *testing.T, cfg *Config) { cfg.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "UnknownLogFormat",
			mutate:  func(t *testing.T, cfg *Config) { cfg.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "UnknownPagesType",
			mutate:  func(t *testing.T, cfg *Config) { cfg.Pages.Type = "s3" },
			wantErr: "Type",
		},
		{
			name: "MissingDocRoot",
			mutate: func(t *testing.T, cfg *Config) {
				cfg.Server.DocRoot = filepath.Join(t.TempDir(), "missing")
			},
			wantErr: "server.docroot",
		},
		{
			name: "DocRootIsFile",
			mutate: func(t *testing.T, cfg *Config) {
				path := filepath.Join(t.TempDir(), "file.txt")
				require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
				cfg.Server.DocRoot = path
			},
			wantErr: "not a directory",
		},
		{
			name: "MetricsPortCollision",
			mutate: func(t *testing.T, cfg *Config) {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Port = cfg.Server.Port
			},
			wantErr: "metrics.port",
		},
		{
			name: "DirectoryPagesWithoutPath",
			mutate: func(t *testing.T, cfg *Config) {
				cfg.Pages.Type = "directory"
			},
			wantErr: "pages.directory.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(t, cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("DisabledMetricsMayShareDefaultPort", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Metrics.Port = cfg.Server.Port
		assert.NoError(t, Validate(cfg))
	})
}
