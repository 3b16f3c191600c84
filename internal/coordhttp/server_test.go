package coordhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordkernel/internal/cache"
	"github.com/dreamware/coordkernel/internal/coord"
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
	srv := httptest.NewServer(NewServer(mgr).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestServerCreateAndGet(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	created, err := c.Create(ctx, "a", []byte("v1"), false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), created.Value)

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("v1"), got.Value)
}

func TestServerGetMissingReturnsNilEntry(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)

	got, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestServerCreateDuplicateMapsToConflict(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.Create(ctx, "dup", nil, false)
	require.NoError(t, err)

	_, err = c.Create(ctx, "dup", nil, false)
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusConflict, remote.StatusCode)
	assert.Equal(t, "entry_already_exists", remote.Code)
}

func TestServerSetValueBumpsVersion(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.Create(ctx, "v", []byte("v1"), false)
	require.NoError(t, err)

	version, err := c.SetValue(ctx, "v", []byte("v2"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestServerSetValueVersionMismatchMapsToPreconditionFailed(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.Create(ctx, "v2", nil, false)
	require.NoError(t, err)

	_, err = c.SetValue(ctx, "v2", []byte("v"), 99)
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusPreconditionFailed, remote.StatusCode)
}

func TestServerDeleteRecursive(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.Create(ctx, "p/b", nil, false)
	require.NoError(t, err)

	_, err = c.Delete(ctx, "p", 0, true)
	require.NoError(t, err)

	got, err := c.Get(ctx, "p")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestServerGetSession(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)

	sid, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sid)
}

func TestServerHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerRejectsMalformedPath(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + entriesPrefix + "bad-Zescape")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "malformed_path", errResp.Code)
}
