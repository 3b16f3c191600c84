package main

import (
	"bufio"
	"context"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordkernel/internal/cache"
	"github.com/dreamware/coordkernel/internal/coord"
	"github.com/dreamware/coordkernel/internal/coordhttp"
	"github.com/dreamware/coordkernel/internal/lockmgr"
	"github.com/dreamware/coordkernel/internal/sessionmgr"
	"github.com/dreamware/coordkernel/internal/store"
	"github.com/dreamware/coordkernel/internal/waitmgr"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	entries := store.NewMemoryEntryStore()
	sessions := store.NewMemorySessionStore()
	waiters := waitmgr.NewManager(waitmgr.WithTimeout(50 * time.Millisecond))

	sm := sessionmgr.NewManager(entries, sessions, waiters, sessionmgr.Config{LeaseLength: time.Hour})
	_, err := sm.Start(context.Background(), []byte("node-a"), []byte("addr-"+t.Name()))
	require.NoError(t, err)
	t.Cleanup(sm.Stop)

	locks := lockmgr.NewManager(entries, waiters, sm)
	cch, err := cache.New(64)
	require.NoError(t, err)

	mgr := coord.NewManager(entries, locks, waiters, sm, cch, time.Hour)
	srv := httptest.NewServer(coordhttp.NewServer(mgr).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// captureOutput runs fn with a pipe-backed *os.File as stdout/stderr and
// returns everything written to it.
func captureOutput(t *testing.T, fn func(stdout, stderr *os.File) int) (string, int) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	code := fn(w, w)
	require.NoError(t, w.Close())

	var out []byte
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out = append(out, scanner.Bytes()...)
		out = append(out, '\n')
	}
	return string(out), code
}

func TestRunCreateAndGet(t *testing.T) {
	srv := newTestServer(t)

	out, code := captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "create", "a", "hello"}, stdout, stderr)
	})
	require.Equal(t, 0, code)
	require.Contains(t, out, "path:      /a")
	require.Contains(t, out, "value:     hello")

	out, code = captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "get", "a"}, stdout, stderr)
	})
	require.Equal(t, 0, code)
	require.Contains(t, out, "value:     hello")
}

func TestRunGetMissing(t *testing.T) {
	srv := newTestServer(t)

	out, code := captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "get", "missing"}, stdout, stderr)
	})
	require.Equal(t, 0, code)
	require.Contains(t, out, "(not found)")
}

func TestRunSetAndDelete(t *testing.T) {
	srv := newTestServer(t)

	_, code := captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "create", "v"}, stdout, stderr)
	})
	require.Equal(t, 0, code)

	out, code := captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "set", "v", "new-value", "1"}, stdout, stderr)
	})
	require.Equal(t, 0, code)
	require.Contains(t, out, "version: 2")

	out, code = captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "delete", "v", "2"}, stdout, stderr)
	})
	require.Equal(t, 0, code)
	require.Contains(t, out, "deleted, prior version: 2")
}

func TestRunSetVersionMismatchReturnsError(t *testing.T) {
	srv := newTestServer(t)

	_, code := captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "create", "v2"}, stdout, stderr)
	})
	require.Equal(t, 0, code)

	out, code := captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "set", "v2", "x", "99"}, stdout, stderr)
	})
	require.Equal(t, 1, code)
	require.Contains(t, out, "coordctl:")
}

func TestRunSession(t *testing.T) {
	srv := newTestServer(t)

	out, code := captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "session"}, stdout, stderr)
	})
	require.Equal(t, 0, code)
	require.NotEmpty(t, out)
}

func TestRunUnknownCommand(t *testing.T) {
	srv := newTestServer(t)

	_, code := captureOutput(t, func(stdout, stderr *os.File) int {
		return run([]string{"-server", srv.URL, "bogus"}, stdout, stderr)
	})
	require.Equal(t, 2, code)
}

func TestRunNoArgs(t *testing.T) {
	_, code := captureOutput(t, func(stdout, stderr *os.File) int {
		return run(nil, stdout, stderr)
	})
	require.Equal(t, 2, code)
}
