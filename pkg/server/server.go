package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/pageserver/internal/logger"
	"github.com/marmos91/pageserver/pkg/adapter"
)

// ErrAlreadyServing is returned when Serve() is called more than once.
var ErrAlreadyServing = errors.New("server: Serve() has already been called")

// DefaultStopTimeout bounds the Stop() calls issued to adapters on shutdown.
const DefaultStopTimeout = 30 * time.Second

// PageServer manages the lifecycle of the protocol adapters serving pages.
//
// Lifecycle:
//  1. Creation: New() with a logger
//  2. Registration: AddAdapter() for each listener
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation triggers graceful shutdown of all adapters
//
// Thread safety:
// PageServer is safe for concurrent use. AddAdapter() must not be called after
// Serve() has started.
//
// Example usage:
//
//	srv := server.New(log, 30*time.Second)
//	if err := srv.AddAdapter(page.New(cfg, resolver, catalog, log, m)); err != nil {
//	    return err
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    return err
//	}
type PageServer struct {
	log *logger.Logger

	// stopTimeout bounds the Stop() calls issued on shutdown
	stopTimeout time.Duration

	// adapters contains all registered protocol adapters
	adapters []adapter.Adapter

	// mu protects the adapters slice and serving flag
	mu      sync.RWMutex
	serving bool
}

// New creates a PageServer. A nil logger discards output and a non-positive
// stopTimeout selects DefaultStopTimeout.
func New(log *logger.Logger, stopTimeout time.Duration) *PageServer {
	if log == nil {
		log = logger.Discard()
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &PageServer{
		log:         log,
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers a protocol adapter with the server.
//
// Returns an error if another adapter is already registered on the same
// non-zero port, or if Serve() has already been called.
//
// Panics if a is nil.
func (s *PageServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serving {
		return fmt.Errorf("cannot add %s adapter after Serve() has been called", a.Protocol())
	}

	port := a.Port()
	if port != 0 {
		for _, existing := range s.adapters {
			if existing.Port() == port {
				return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
			}
		}
	}

	s.adapters = append(s.adapters, a)
	s.log.Debug("Registered %s adapter on port %d", a.Protocol(), port)

	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled, an adapter fails, or every adapter has returned.
//
// Shutdown behavior:
// When the context is cancelled or an adapter fails, every adapter receives
// a Stop() call in reverse registration order, and Serve() waits for all of
// them to return.
//
// Returns:
//   - ctx.Err() if shutdown was triggered by context cancellation
//   - the first adapter error, wrapped with its protocol name
//   - nil if every adapter returned cleanly on its own
//   - ErrAlreadyServing on a second call
func (s *PageServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.serving = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	s.log.Info("Starting server with %d adapter(s)", len(adapters))

	// Buffered so failing adapters never block on send
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			s.log.Debug("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(ctx); err != nil {
				if ctx.Err() == nil {
					s.log.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
					return
				}
				s.log.Warn("%s adapter stopped with error: %v", protocol, err)
				return
			}
			s.log.Info("%s adapter stopped", protocol)
		}(adp)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	var shutdownErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		s.log.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)

	case <-finished:
		// Adapters may all have returned on cancellation before this select ran.
		select {
		case adapterErr := <-errChan:
			shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
		default:
			if ctx.Err() != nil {
				s.stopAllAdapters(adapters)
				shutdownErr = ctx.Err()
			}
		}
	}

	<-finished
	s.log.Info("Server stopped")

	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters signals every adapter to stop, in reverse registration
// order. Errors are logged and do not prevent stopping the rest.
func (s *PageServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	s.log.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			s.log.Debug("%s adapter stop signal sent", protocol)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
func (s *PageServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
