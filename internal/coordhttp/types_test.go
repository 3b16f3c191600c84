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

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
)

func TestEntryViewRoundTrip(t *testing.T) {
	p, err := path.FromEscaped("/a/b")
	require.NoError(t, err)

	view := EntryView{
		Path:          p.Escaped(),
		Value:         []byte("hello"),
		Version:       3,
		CreationTime:  time.Unix(1000, 0).UTC(),
		LastWriteTime: time.Unix(2000, 0).UTC(),
		Ephemeral:     true,
		Children:      []string{"c1", "c2"},
	}

	data, err := json.Marshal(view)
	require.NoError(t, err)

	var decoded EntryView
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, view.Path, decoded.Path)
	assert.Equal(t, view.Value, decoded.Value)
	assert.Equal(t, view.Version, decoded.Version)
	assert.True(t, view.CreationTime.Equal(decoded.CreationTime))
	assert.Equal(t, view.Ephemeral, decoded.Ephemeral)
	assert.Equal(t, view.Children, decoded.Children)
}

func TestNewEntryViewNilEntry(t *testing.T) {
	view := newEntryView(nil)
	assert.Equal(t, EntryView{}, view)
}

func TestNewEntryViewProjectsStoredEntry(t *testing.T) {
	p, err := path.FromEscaped("/x")
	require.NoError(t, err)
	sid, err := session.NewWithAddress([]byte("node"), []byte("addr-1"))
	require.NoError(t, err)

	stored := entry.Create(p, sid, false, []byte("v"), time.Unix(500, 0))
	view := newEntryView(stored)

	assert.Equal(t, p.Escaped(), view.Path)
	assert.Equal(t, []byte("v"), view.Value)
	assert.Equal(t, int64(1), view.Version)
	assert.False(t, view.Ephemeral)
}

func TestEntryResponseNullEntry(t *testing.T) {
	data, err := json.Marshal(EntryResponse{Entry: nil})
	require.NoError(t, err)
	assert.JSONEq(t, `{"entry":null}`, string(data))
}

func TestDeleteRequestDefaultsOmitted(t *testing.T) {
	data, err := json.Marshal(DeleteRequest{ExpectedVersion: 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"expected_version":7}`, string(data))
}

func TestPostJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %s", ct)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"version":5}`))
	}))
	defer srv.Close()

	var resp VersionResponse
	err := PostJSON(context.Background(), srv.URL, SetValueRequest{Value: []byte("v")}, &resp)
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp.Version)
}

func TestPostJSONMapsErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Code: "version_mismatch", Message: "nope"})
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), srv.URL, SetValueRequest{}, nil)
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "version_mismatch", remote.Code)
	assert.Equal(t, http.StatusPreconditionFailed, remote.StatusCode)
}

func TestGetJSONUnreachableServer(t *testing.T) {
	var out SessionResponse
	err := GetJSON(context.Background(), "http://127.0.0.1:1", &out)
	assert.Error(t, err)
}
