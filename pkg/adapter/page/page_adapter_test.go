package page

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/pageserver/internal/docroot"
	"github.com/marmos91/pageserver/internal/logger"
	proto "github.com/marmos91/pageserver/internal/protocol/page"
	"github.com/marmos91/pageserver/pkg/pages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// recordingMetrics captures RecordResponse calls.
type recordingMetrics struct {
	mu        sync.Mutex
	responses []string
	accepted  int
	closed    int
}

func (m *recordingMetrics) RecordResponse(route string, status int, bytes int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, route+":"+strconv.Itoa(status))
}

func (m *recordingMetrics) SetActiveConnections(count int32) {}

func (m *recordingMetrics) RecordConnectionAccepted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted++
}

func (m *recordingMetrics) RecordConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *recordingMetrics) RecordAcceptError()           {}
func (m *recordingMetrics) RecordConnectionForceClosed() {}

func (m *recordingMetrics) snapshot() ([]string, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.responses...), m.accepted, m.closed
}

type testServer struct {
	adapter *PageAdapter
	root    string
	catalog *pages.Catalog
	metrics *recordingMetrics
	cancel  context.CancelFunc
	done    chan error
}

// newDocRoot creates a document root holding index.html = "<p>hi</p>".
func newDocRoot(t *testing.T) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "pages")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<p>hi</p>"), 0644))
	return root
}

func startServer(t *testing.T, root string, config PageConfig) *testServer {
	t.Helper()

	resolver, err := docroot.NewResolver(root)
	require.NoError(t, err)

	catalog := pages.Builtin()
	m := &recordingMetrics{}
	adapter := New(config, resolver, catalog, logger.Discard(), m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- adapter.Serve(ctx)
	}()

	select {
	case <-adapter.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("Serve returned before listening: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("listener did not become ready")
	}

	ts := &testServer{
		adapter: adapter,
		root:    root,
		catalog: catalog,
		metrics: m,
		cancel:  cancel,
		done:    done,
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

func (ts *testServer) addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(ts.adapter.Port()))
}

func (ts *testServer) dial(t *testing.T) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", ts.addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// request sends raw bytes and returns everything the server writes before
// closing the connection.
func (ts *testServer) request(t *testing.T, raw []byte) string {
	t.Helper()

	conn := ts.dial(t)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err := conn.Write(raw)
	require.NoError(t, err)

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(data)
}

func (ts *testServer) get(t *testing.T, target string) string {
	t.Helper()
	return ts.request(t, []byte("GET "+target+" HTTP/1.0\r\n\r\n"))
}

func defaultConfig() PageConfig {
	return PageConfig{
		Port:            0,
		ShutdownTimeout: 2 * time.Second,
	}
}

func forbiddenResponse(c *pages.Catalog) string {
	return proto.StatusForbidden + proto.HTMLContentType + string(c.Forbidden)
}

func notFoundResponse(c *pages.Catalog) string {
	return proto.StatusNotFound + proto.HTMLContentType + string(c.NotFound)
}

// ============================================================================
// Routing Tests
// ============================================================================

func TestScenario(t *testing.T) {
	ts := startServer(t, newDocRoot(t), defaultConfig())

	t.Run("ServesFile", func(t *testing.T) {
		assert.Equal(t, "HTTP/1.0 200 OK\n\n<p>hi</p>", ts.get(t, "/index.html"))
	})

	t.Run("ForbidsTraversal", func(t *testing.T) {
		assert.Equal(t, forbiddenResponse(ts.catalog), ts.get(t, "/../etc/passwd"))
	})

	t.Run("ReportsMissing", func(t *testing.T) {
		assert.Equal(t, notFoundResponse(ts.catalog), ts.get(t, "/missing.html"))
	})
}

func TestRootRoute(t *testing.T) {
	root := newDocRoot(t)
	// A file literally named like the root page must not change the answer.
	require.NoError(t, os.WriteFile(filepath.Join(root, "cat.txt"), []byte("not a cat"), 0644))
	ts := startServer(t, root, defaultConfig())

	assert.Equal(t, proto.StatusOK+"\n     ^ ^\n   =(   )=\n", ts.get(t, "/"))
}

func TestUnimplementedRoute(t *testing.T) {
	ts := startServer(t, newDocRoot(t), defaultConfig())

	tests := []struct {
		name string
		raw  string
	}{
		{"Post", "POST / HTTP/1.0\r\n\r\n"},
		{"Put", "PUT /index.html HTTP/1.0\r\n\r\n"},
		{"MethodOnly", "GET\r\n"},
		{"Garbage", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ts.request(t, []byte(tt.raw))
			want := proto.StatusNotImplemented + "\nI don't handle this request: " + tt.raw + "\n"
			assert.Equal(t, want, got)
			assert.True(t, strings.HasPrefix(got, "HTTP/1.0 401 "))
		})
	}
}

func TestForbiddenRoute(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "docroot")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "docroot-evil"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "docroot-evil", "x.html"), []byte("evil"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "secret.txt"), []byte("secret"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(base, "secret.txt"), filepath.Join(root, "secret.html")))

	ts := startServer(t, root, defaultConfig())
	want := forbiddenResponse(ts.catalog)

	for _, target := range []string{"/../secret.txt", "/~root/.ssh", "/secret.html", "-evil/x.html"} {
		t.Run(target, func(t *testing.T) {
			assert.Equal(t, want, ts.get(t, target))
		})
	}
}

func TestDanglingSymlinkRoute(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "docroot")
	secret := filepath.Join(base, "secret")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.Symlink(filepath.Join(secret, "later.txt"), filepath.Join(root, "out.html")))
	require.NoError(t, os.Symlink("gone.html", filepath.Join(root, "in.html")))

	ts := startServer(t, root, defaultConfig())

	t.Run("Inward", func(t *testing.T) {
		assert.Equal(t, notFoundResponse(ts.catalog), ts.get(t, "/in.html"))
	})

	t.Run("Outward", func(t *testing.T) {
		assert.Equal(t, forbiddenResponse(ts.catalog), ts.get(t, "/out.html"))
	})

	t.Run("OutwardTargetCreated", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(secret, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(secret, "later.txt"), []byte("SECRET"), 0644))

		got := ts.get(t, "/out.html")
		assert.Equal(t, forbiddenResponse(ts.catalog), got)
		assert.NotContains(t, got, "SECRET")
	})
}

func TestFileRoundTrip(t *testing.T) {
	root := newDocRoot(t)
	ts := startServer(t, root, defaultConfig())

	// Large enough that the kernel needs several writes to flush it.
	large := strings.Repeat("<li>line with ünïcödé ✓</li>\n", 40000)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "deep", "er"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "deep", "er", "big.html"), []byte(large), 0644))

	got := ts.get(t, "/deep/er/big.html")
	require.True(t, strings.HasPrefix(got, proto.StatusOK))
	assert.Equal(t, large, strings.TrimPrefix(got, proto.StatusOK))
}

// ============================================================================
// Aborted Connection Tests
// ============================================================================

func TestClosedWithoutResponse(t *testing.T) {
	root := newDocRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "binary.bin"), []byte{0x00, 0xff, 0xfe, 0x80}, 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0755))
	ts := startServer(t, root, defaultConfig())

	t.Run("InvalidUTF8Request", func(t *testing.T) {
		assert.Empty(t, ts.request(t, []byte{'G', 'E', 'T', ' ', '/', 0xff, '\r', '\n'}))
	})

	t.Run("NonTextFile", func(t *testing.T) {
		assert.Empty(t, ts.get(t, "/binary.bin"))
	})

	t.Run("Directory", func(t *testing.T) {
		assert.Empty(t, ts.get(t, "/dir"))
	})

	t.Run("ServerStillHealthy", func(t *testing.T) {
		assert.Equal(t, "HTTP/1.0 200 OK\n\n<p>hi</p>", ts.get(t, "/index.html"))
	})
}

func TestMetricsPerRoute(t *testing.T) {
	ts := startServer(t, newDocRoot(t), defaultConfig())

	ts.get(t, "/")
	ts.get(t, "/index.html")
	ts.get(t, "/missing.html")
	ts.get(t, "/../x")
	ts.request(t, []byte("POST / HTTP/1.0\r\n\r\n"))
	ts.request(t, []byte{0xff})

	// The recording happens after the close the client observed.
	require.Eventually(t, func() bool {
		responses, _, closed := ts.metrics.snapshot()
		return len(responses) == 6 && closed == 6
	}, 2*time.Second, 10*time.Millisecond)

	responses, accepted, _ := ts.metrics.snapshot()
	assert.Equal(t, 6, accepted)
	assert.ElementsMatch(t, []string{
		"root:200", "file:200", "not_found:404", "forbidden:403", "unimplemented:401", "aborted:0",
	}, responses)
}

// ============================================================================
// Concurrency & Lifecycle Tests
// ============================================================================

func TestStalledPeerDoesNotBlockOthers(t *testing.T) {
	ts := startServer(t, newDocRoot(t), defaultConfig())

	// This peer connects and never sends anything: its handler blocks in read.
	ts.dial(t)

	require.Eventually(t, func() bool {
		return ts.adapter.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "HTTP/1.0 200 OK\n\n<p>hi</p>", ts.get(t, "/index.html"))
	assert.Eventually(t, func() bool {
		return ts.adapter.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentRequests(t *testing.T) {
	ts := startServer(t, newDocRoot(t), defaultConfig())

	const clients = 32
	var wg sync.WaitGroup
	results := make(chan string, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", ts.addr())
			if err != nil {
				results <- err.Error()
				return
			}
			defer conn.Close()
			_, _ = conn.Write([]byte("GET /index.html HTTP/1.0\r\n\r\n"))
			data, _ := io.ReadAll(conn)
			results <- string(data)
		}()
	}
	wg.Wait()
	close(results)

	for got := range results {
		assert.Equal(t, "HTTP/1.0 200 OK\n\n<p>hi</p>", got)
	}
}

func TestBindError(t *testing.T) {
	t.Run("PortInUse", func(t *testing.T) {
		occupied, err := net.Listen("tcp", ":0")
		require.NoError(t, err)
		defer occupied.Close()
		port := occupied.Addr().(*net.TCPAddr).Port

		resolver, err := docroot.NewResolver(newDocRoot(t))
		require.NoError(t, err)
		adapter := New(PageConfig{Port: port}, resolver, pages.Builtin(), nil, nil)

		err = adapter.Serve(context.Background())
		var bindErr *BindError
		require.ErrorAs(t, err, &bindErr)
		assert.Equal(t, port, bindErr.Port)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		for _, port := range []int{-1, 65536} {
			_, err := Listen(port)
			var bindErr *BindError
			assert.ErrorAs(t, err, &bindErr)
		}
	})
}

func TestGracefulShutdown(t *testing.T) {
	ts := startServer(t, newDocRoot(t), defaultConfig())
	assert.Equal(t, "HTTP/1.0 200 OK\n\n<p>hi</p>", ts.get(t, "/index.html"))

	ts.cancel()
	select {
	case err := <-ts.done:
		assert.NoError(t, err)
		ts.done <- err // let the cleanup observe completion
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err := net.Dial("tcp", ts.addr())
	assert.Error(t, err)
}

func TestForcedConnectionClosure(t *testing.T) {
	config := defaultConfig()
	config.ShutdownTimeout = 300 * time.Millisecond
	ts := startServer(t, newDocRoot(t), config)

	stalled := ts.dial(t)
	require.Eventually(t, func() bool {
		return ts.adapter.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_, _ = stalled.Read(make([]byte, 1))
		close(closed)
	}()

	ts.cancel()

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("stalled connection was not force-closed")
	}

	select {
	case err := <-ts.done:
		assert.Error(t, err)
		ts.done <- err
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStopBeforeServe(t *testing.T) {
	resolver, err := docroot.NewResolver(newDocRoot(t))
	require.NoError(t, err)
	adapter := New(defaultConfig(), resolver, pages.Builtin(), nil, nil)

	require.NoError(t, adapter.Stop(context.Background()))
	assert.NoError(t, adapter.Serve(context.Background()))
}

func TestStopIdempotent(t *testing.T) {
	ts := startServer(t, newDocRoot(t), defaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, ts.adapter.Stop(ctx))
	assert.NoError(t, ts.adapter.Stop(ctx))
}

func TestTrackAfterShutdown(t *testing.T) {
	resolver, err := docroot.NewResolver(newDocRoot(t))
	require.NoError(t, err)
	adapter := New(defaultConfig(), resolver, pages.Builtin(), logger.Discard(), nil)

	require.True(t, adapter.track())
	adapter.activeConns.Done()

	adapter.initiateShutdown()
	assert.False(t, adapter.track())

	select {
	case <-adapter.drained():
	case <-time.After(time.Second):
		t.Fatal("drained did not close after shutdown")
	}
}

func TestStopDuringConnectionBurst(t *testing.T) {
	ts := startServer(t, newDocRoot(t), defaultConfig())
	addr := ts.addr()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				conn, err := net.DialTimeout("tcp", addr, time.Second)
				if err != nil {
					continue
				}
				_ = conn.SetDeadline(time.Now().Add(time.Second))
				_, _ = conn.Write([]byte("GET /index.html HTTP/1.0\r\n\r\n"))
				_, _ = io.ReadAll(conn)
				_ = conn.Close()
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, ts.adapter.Stop(ctx))

	close(stop)
	wg.Wait()

	assert.Equal(t, int32(0), ts.adapter.ActiveConnections())
}

func TestNewValidation(t *testing.T) {
	resolver, err := docroot.NewResolver(newDocRoot(t))
	require.NoError(t, err)

	assert.Panics(t, func() { New(PageConfig{Port: 70000}, resolver, pages.Builtin(), nil, nil) })
	assert.Panics(t, func() { New(defaultConfig(), nil, pages.Builtin(), nil, nil) })
	assert.Panics(t, func() { New(defaultConfig(), resolver, nil, nil, nil) })

	adapter := New(PageConfig{Port: 8123}, resolver, pages.Builtin(), nil, nil)
	assert.Equal(t, 8123, adapter.Port())
	assert.Equal(t, "HTTP/1.0", adapter.Protocol())
	assert.Equal(t, 30*time.Second, adapter.config.ShutdownTimeout)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, nextBackoff(0))
	assert.Equal(t, 10*time.Millisecond, nextBackoff(5*time.Millisecond))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond))
	assert.Equal(t, time.Second, nextBackoff(time.Second))
}
