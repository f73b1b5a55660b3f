package adapter

import (
	"context"
)

// Adapter represents a protocol-specific server adapter that can be managed
// by PageServer.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration and
//     its read-only dependencies (resolver, page catalog, logger)
//  2. Startup: Serve() binds, starts the protocol server and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Wait for active connections to complete (with timeout)
	//   - Clean up resources
	//
	// If Serve returns an error before context cancellation, PageServer treats
	// it as fatal and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown of the protocol server.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Respect the context timeout for shutdown operations
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter is listening on.
	//
	// Returns the configured port until Serve() has bound the listener, and
	// the bound port afterwards (which differs when 0 was configured).
	Port() int
}
