package config

import (
	"github.com/marmos91/pageserver/internal/logger"
	"github.com/marmos91/pageserver/pkg/metrics"
	promMetrics "github.com/marmos91/pageserver/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// PageMetrics is the collector for the page adapter (never nil, uses noop if disabled)
	PageMetrics metrics.PageMetrics
}

// InitializeMetrics creates the metrics components described by cfg.
//
// If metrics are enabled:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed page metrics
//
// If metrics are disabled, the server is nil and the collector is a no-op.
func InitializeMetrics(cfg *Config, log *logger.Logger) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			PageMetrics: metrics.NewNoopPageMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	}, log)

	return &MetricsResult{
		Server:      server,
		PageMetrics: promMetrics.NewPageMetrics(),
	}
}
