package e2e

import (
	"testing"

	"github.com/marmos91/pageserver/test/e2e/framework"
	"github.com/stretchr/testify/require"
)

// startServer starts a full stack server and stops it when the test ends.
func startServer(t testing.TB, cfg framework.TestServerConfig) *framework.TestServer {
	t.Helper()

	ts := framework.NewTestServer(t, cfg)
	require.NoError(t, ts.Start())
	t.Cleanup(func() {
		if err := ts.Stop(); err != nil {
			t.Errorf("server stop: %v", err)
		}
	})
	return ts
}

// get fetches target and fails the test on transport errors.
func get(t testing.TB, ts *framework.TestServer, target string) string {
	t.Helper()

	data, err := ts.Get(target)
	require.NoError(t, err)
	return string(data)
}
