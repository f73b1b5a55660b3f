package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/pageserver/internal/docroot"
	"github.com/marmos91/pageserver/internal/logger"
	"github.com/marmos91/pageserver/pkg/adapter/page"
	"github.com/marmos91/pageserver/pkg/config"
	"github.com/marmos91/pageserver/pkg/metrics"
	"github.com/marmos91/pageserver/pkg/pages"
	"github.com/marmos91/pageserver/pkg/server"
)

// TestServerConfig holds configuration for the test server.
// This is distinct from pkg/config.Config (application-level settings).
type TestServerConfig struct {
	// Pages is the pages section handed to config.CreateCatalog.
	// Zero value selects the builtin catalog.
	Pages config.PagesConfig

	// Metrics enables Prometheus collection and the /metrics server.
	// The collectors register on the process-global registry, so at most
	// one server per test binary may enable it.
	Metrics bool

	LogLevel       string
	StartupTimeout time.Duration
}

// TestServer runs a complete pageserver stack on loopback: PageServer, the
// page adapter on an ephemeral port, and optionally the metrics server.
type TestServer struct {
	t       testing.TB
	config  TestServerConfig
	DocRoot string

	adapter       *page.PageAdapter
	catalog       *pages.Catalog
	metricsServer *metrics.Server
	metricsPort   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	// serveErr receives the result of PageServer.Serve
	serveErr chan error
}

// NewTestServer creates a test server with a fresh, empty document root.
func NewTestServer(t testing.TB, cfg TestServerConfig) *TestServer {
	t.Helper()

	if cfg.LogLevel == "" {
		cfg.LogLevel = "ERROR" // Keep tests quiet by default
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 5 * time.Second
	}
	if cfg.Pages.Type == "" {
		cfg.Pages.Type = "builtin"
	}

	root := filepath.Join(t.TempDir(), "docroot")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("Failed to create document root: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TestServer{
		t:        t,
		config:   cfg,
		DocRoot:  root,
		ctx:      ctx,
		cancel:   cancel,
		serveErr: make(chan error, 1),
	}
}

// Start starts the server and waits until the listener is bound.
func (ts *TestServer) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return fmt.Errorf("server already started")
	}

	ts.t.Helper()

	log := logger.New(os.Stderr, logger.ParseLevel(ts.config.LogLevel), logger.FormatText)

	resolver, err := docroot.NewResolver(ts.DocRoot)
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	catalog, err := config.CreateCatalog(&ts.config.Pages)
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}
	ts.catalog = catalog

	cfg := config.GetDefaultConfig()
	cfg.Server.Port = 0
	cfg.Server.DocRoot = ts.DocRoot
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Metrics.Enabled = ts.config.Metrics
	if ts.config.Metrics {
		cfg.Metrics.Port = findFreePort(ts.t)
		ts.metricsPort = cfg.Metrics.Port
	}

	metricsResult := config.InitializeMetrics(cfg, log)
	ts.metricsServer = metricsResult.Server

	ts.adapter = page.New(cfg.Server, resolver, catalog, log, metricsResult.PageMetrics)

	srv := server.New(log, cfg.Server.ShutdownTimeout)
	if err := srv.AddAdapter(ts.adapter); err != nil {
		return err
	}

	if ts.metricsServer != nil {
		ts.wg.Add(1)
		go func() {
			defer ts.wg.Done()
			if err := ts.metricsServer.Start(ts.ctx); err != nil {
				ts.t.Logf("Metrics server error: %v", err)
			}
		}()
	}

	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		err := srv.Serve(ts.ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		ts.serveErr <- err
	}()

	select {
	case <-ts.adapter.Ready():
	case err := <-ts.serveErr:
		ts.cancel()
		ts.wg.Wait()
		return fmt.Errorf("server exited during startup: %w", err)
	case <-time.After(ts.config.StartupTimeout):
		ts.cancel()
		ts.wg.Wait()
		return fmt.Errorf("server failed to start within %v", ts.config.StartupTimeout)
	}

	if ts.metricsServer != nil {
		if err := waitForPort(ts.metricsPort, ts.config.StartupTimeout); err != nil {
			ts.cancel()
			ts.wg.Wait()
			return err
		}
	}

	ts.started = true
	ts.t.Logf("Server started on port %d", ts.adapter.Port())
	return nil
}

// Stop stops the server and waits for it to shut down.
func (ts *TestServer) Stop() error {
	ts.mu.Lock()
	if !ts.started {
		ts.mu.Unlock()
		return nil
	}
	ts.started = false
	ts.mu.Unlock()

	ts.cancel()

	done := make(chan struct{})
	go func() {
		ts.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server stop timeout")
	}

	return <-ts.serveErr
}

// Addr returns the host:port of the page listener.
func (ts *TestServer) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", ts.adapter.Port())
}

// MetricsURL returns the URL of the /metrics endpoint.
func (ts *TestServer) MetricsURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", ts.metricsPort)
}

// Catalog returns the page catalog the server answers with.
func (ts *TestServer) Catalog() *pages.Catalog {
	return ts.catalog
}

// ActiveConnections returns the number of handlers in flight.
func (ts *TestServer) ActiveConnections() int32 {
	return ts.adapter.ActiveConnections()
}

// WriteFile creates a file under the document root.
func (ts *TestServer) WriteFile(name string, data []byte) string {
	ts.t.Helper()

	path := filepath.Join(ts.DocRoot, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		ts.t.Fatalf("Failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		ts.t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// Send writes raw on a fresh connection and returns every byte the server
// sends before closing it.
func (ts *TestServer) Send(raw []byte) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", ts.Addr(), time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, err
	}
	return io.ReadAll(conn)
}

// Get sends "GET <target> HTTP/1.0" and returns the response.
func (ts *TestServer) Get(target string) ([]byte, error) {
	return ts.Send([]byte("GET " + target + " HTTP/1.0\r\n\r\n"))
}

// waitForPort waits until something accepts connections on port.
func waitForPort(port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for port %d", port)
}

// findFreePort finds an available port
func findFreePort(t testing.TB) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}
