package metrics

import "time"

// PageMetrics provides observability for the page adapter.
//
// Implementations collect per-route response counts, bytes sent, handling
// latency and connection lifecycle. The interface is optional: when the
// adapter is given nil it uses NewNoopPageMetrics.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	adapter := page.New(config, resolver, catalog, log, prometheus.NewPageMetrics())
//
//	// Without metrics (no-op)
//	adapter := page.New(config, resolver, catalog, log, nil)
type PageMetrics interface {
	// RecordResponse records a finished connection with the route it took,
	// the status code sent (0 when no response was sent), the number of
	// bytes written and the time spent from first read to close.
	RecordResponse(route string, status int, bytes int, duration time.Duration)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordAcceptError increments the accept failure counter.
	RecordAcceptError()

	// RecordConnectionForceClosed counts connections closed by a shutdown timeout.
	RecordConnectionForceClosed()
}

type noopPageMetrics struct{}

// NewNoopPageMetrics returns a PageMetrics that discards everything.
func NewNoopPageMetrics() PageMetrics {
	return noopPageMetrics{}
}

func (noopPageMetrics) RecordResponse(route string, status int, bytes int, duration time.Duration) {}
func (noopPageMetrics) SetActiveConnections(count int32)                                         {}
func (noopPageMetrics) RecordConnectionAccepted()                                                {}
func (noopPageMetrics) RecordConnectionClosed()                                                  {}
func (noopPageMetrics) RecordAcceptError()                                                       {}
func (noopPageMetrics) RecordConnectionForceClosed()                                             {}
