package page

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/pageserver/internal/docroot"
	"github.com/marmos91/pageserver/internal/logger"
	"github.com/marmos91/pageserver/pkg/adapter"
	"github.com/marmos91/pageserver/pkg/metrics"
	"github.com/marmos91/pageserver/pkg/pages"
)

var _ adapter.Adapter = (*PageAdapter)(nil)

// PageAdapter implements the adapter.Adapter interface for the page protocol,
// a one-line subset of HTTP/1.0.
//
// Architecture:
// PageAdapter owns the TCP listener and the accept loop. Each accepted
// connection is handed to a PageConnection running in its own goroutine, so
// request processing never blocks accepting. The goroutine handle is
// discarded on purpose: concurrency is unbounded and there is no connection
// cap or backpressure. Handlers share only read-only state (config,
// resolver, catalog) plus the internally synchronized counters below.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. Wait for active connections to complete (up to ShutdownTimeout)
//  4. Force-close any remaining connections after timeout
//
// Handlers are never cancelled; a stalled peer keeps its handler alive until
// the shutdown timeout force-closes the socket.
type PageAdapter struct {
	// config holds the server configuration (port, timeouts)
	config PageConfig

	// resolver maps targets to files under the document root
	resolver *docroot.Resolver

	// catalog holds the static response bodies
	catalog *pages.Catalog

	log     *logger.Logger
	metrics metrics.PageMetrics

	// mu guards listener and orders activeConns.Add against close(shutdown)
	mu       sync.Mutex
	listener net.Listener

	// boundPort is the port reported by the listener once bound
	boundPort atomic.Int32

	// ready is closed once the listener is bound
	ready     chan struct{}
	readyOnce sync.Once

	// activeConns tracks all currently active connections for graceful shutdown
	activeConns sync.WaitGroup

	// shutdownOnce ensures shutdown is only initiated once
	shutdownOnce sync.Once

	// shutdown signals that graceful shutdown has been initiated
	shutdown chan struct{}

	// connCount tracks the current number of active connections
	connCount atomic.Int32

	// activeConnections maps each live net.Conn to struct{} for forced closure
	activeConnections sync.Map
}

// PageConfig holds configuration parameters for the page server.
//
// Port, DocRoot and Debug are the three values the server core consumes.
// The remaining fields control lifecycle around it.
type PageConfig struct {
	// Port is the TCP port to listen on. Port 0 lets the OS pick one, which
	// is only useful in tests; configuration files must use 1-65535.
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// DocRoot is the directory under which all servable files reside.
	DocRoot string `mapstructure:"docroot" validate:"required" yaml:"docroot"`

	// Debug forces DEBUG level logging.
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// ShutdownTimeout is the maximum duration to wait for active connections
	// to complete during graceful shutdown. After this timeout, remaining
	// connections are forcibly closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	// MetricsLogInterval is the interval at which the active connection
	// count is logged. 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *PageConfig) applyDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// validate checks the values the adapter itself depends on.
func (c *PageConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.MetricsLogInterval < 0 {
		return fmt.Errorf("invalid MetricsLogInterval %v: must be >= 0", c.MetricsLogInterval)
	}
	return nil
}

// BindError is returned when the listener cannot be created, either because
// the port is out of range or because binding failed (port in use).
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Listen binds and listens on the given TCP port on all interfaces.
//
// Returns *BindError if the port is out of range or already in use.
func Listen(port int) (net.Listener, error) {
	if port < 0 || port > 65535 {
		return nil, &BindError{Port: port, Err: fmt.Errorf("port out of range")}
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, &BindError{Port: port, Err: err}
	}
	return listener, nil
}

// New creates a new PageAdapter with the specified configuration.
//
// The adapter is created in a stopped state. Call Serve() to start
// accepting connections.
//
// Parameters:
//   - config: Server configuration (port, timeouts)
//   - resolver: Document root resolver (required)
//   - catalog: Static response bodies (required)
//   - log: Logger (nil discards)
//   - pageMetrics: Optional metrics collector (nil for no metrics)
//
// Panics if config validation fails or a required dependency is nil.
func New(config PageConfig, resolver *docroot.Resolver, catalog *pages.Catalog, log *logger.Logger, pageMetrics metrics.PageMetrics) *PageAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid page config: %v", err))
	}
	if resolver == nil {
		panic("page adapter: resolver cannot be nil")
	}
	if catalog == nil {
		panic("page adapter: catalog cannot be nil")
	}

	if log == nil {
		log = logger.Discard()
	}
	if pageMetrics == nil {
		pageMetrics = metrics.NewNoopPageMetrics()
	}

	return &PageAdapter{
		config:   config,
		resolver: resolver,
		catalog:  catalog,
		log:      log,
		metrics:  pageMetrics,
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
	}
}

// Serve binds the listener and runs the accept loop until the context is
// cancelled, Stop() is called, or the listener fails.
//
// Accept errors are logged and the loop continues after a short backoff.
// If the listener socket itself becomes unusable without a shutdown having
// been requested, Serve returns an error.
//
// Returns:
//   - *BindError if the listener cannot be created
//   - nil on graceful shutdown
//   - error if the listener fails or shutdown had to force-close connections
func (s *PageAdapter) Serve(ctx context.Context) error {
	listener, err := Listen(s.config.Port)
	if err != nil {
		return err
	}

	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	s.listener = listener
	s.mu.Unlock()

	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.boundPort.Store(int32(addr.Port))
	}
	s.readyOnce.Do(func() { close(s.ready) })

	s.log.Info("Listening on port %d", s.Port())
	s.log.Info("Serving %s", s.resolver.Root())

	go func() {
		select {
		case <-ctx.Done():
			s.log.Info("Shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	var backoff time.Duration
	for {
		tcpConn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				s.initiateShutdown()
				return fmt.Errorf("page listener closed unexpectedly: %w", err)
			}

			s.metrics.RecordAcceptError()
			backoff = nextBackoff(backoff)
			s.log.Warn("Error accepting connection: %v; retrying in %v", err, backoff)

			select {
			case <-time.After(backoff):
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
			continue
		}
		backoff = 0

		if !s.track() {
			_ = tcpConn.Close()
			return s.gracefulShutdown()
		}
		current := s.connCount.Add(1)
		s.activeConnections.Store(tcpConn, struct{}{})

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)
		s.log.Debug("Connection accepted from %s (active: %d)", tcpConn.RemoteAddr(), current)

		conn := NewPageConnection(s, tcpConn)
		go func(tcp net.Conn) {
			defer func() {
				s.activeConnections.Delete(tcp)
				s.activeConns.Done()
				remaining := s.connCount.Add(-1)

				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(remaining)
			}()

			conn.Serve()
		}(tcpConn)
	}
}

// nextBackoff doubles the accept retry delay from 5ms up to one second.
func nextBackoff(current time.Duration) time.Duration {
	const (
		minBackoff = 5 * time.Millisecond
		maxBackoff = time.Second
	)

	if current == 0 {
		return minBackoff
	}
	current *= 2
	if current > maxBackoff {
		current = maxBackoff
	}
	return current
}

// initiateShutdown closes the shutdown channel and the listener.
// Safe to call multiple times and from multiple goroutines.
func (s *PageAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		s.log.Debug("Shutdown initiated")

		s.mu.Lock()
		defer s.mu.Unlock()
		close(s.shutdown)
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				s.log.Debug("Error closing listener: %v", err)
			}
		}
	})
}

// track registers a new connection with activeConns unless shutdown has
// begun. Add and close(shutdown) both run under mu, so no Add can race the
// Wait in drained.
func (s *PageAdapter) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
		s.activeConns.Add(1)
		return true
	}
}

// gracefulShutdown waits for active connections to complete or for
// ShutdownTimeout to expire, then force-closes whatever is left.
//
// Returns:
//   - nil if all connections completed gracefully
//   - error if shutdown timeout exceeded (connections were force-closed)
func (s *PageAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	s.log.Info("Graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	select {
	case <-s.drained():
		s.log.Info("Graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		s.log.Warn("Shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()
		return fmt.Errorf("page shutdown timeout: %d connections force-closed", remaining)
	}
}

// drained returns a channel closed once every active connection is done.
func (s *PageAdapter) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

// forceCloseConnections closes all active TCP connections. Blocked reads and
// writes in their handlers fail immediately, and each handler then runs its
// normal close path.
func (s *PageAdapter) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(key, _ any) bool {
		conn := key.(net.Conn)
		if err := conn.Close(); err != nil {
			s.log.Debug("Error force-closing connection to %s: %v", conn.RemoteAddr(), err)
		} else {
			closed++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closed > 0 {
		s.log.Info("Force-closed %d connection(s)", closed)
	}
}

// Stop initiates graceful shutdown of the page server.
//
// Stop is safe to call multiple times and concurrently with Serve(). It
// waits for active connections until ctx is done; a nil ctx waits up to
// the configured ShutdownTimeout instead.
func (s *PageAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	select {
	case <-s.drained():
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		s.log.Warn("Shutdown context cancelled: %d connection(s) still active: %v",
			remaining, ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs the active connection count until ctx is done.
func (s *PageAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.log.Info("Page metrics: active_connections=%d", s.connCount.Load())
		}
	}
}

// Ready returns a channel that is closed once the listener is bound.
func (s *PageAdapter) Ready() <-chan struct{} {
	return s.ready
}

// ActiveConnections returns the current number of active connections.
func (s *PageAdapter) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the bound TCP port once listening, the configured port before.
func (s *PageAdapter) Port() int {
	if p := s.boundPort.Load(); p != 0 {
		return int(p)
	}
	return s.config.Port
}

// Protocol returns "HTTP/1.0" as the protocol identifier.
func (s *PageAdapter) Protocol() string {
	return "HTTP/1.0"
}
