package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
	"github.com/dreamware/coordkernel/internal/sessionrec"
)

func mustSession(t *testing.T) session.ID {
	t.Helper()
	id, err := session.NewWithAddress([]byte("node-a"), []byte("phys"))
	require.NoError(t, err)
	return id
}

func TestMemoryEntryStoreInsertAndCAS(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntryStore()
	sid := mustSession(t)
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, sid, false, []byte("v1"), time.Now())

	// Insert: comparand nil, key absent.
	before, err := s.Update(ctx, "/x", e, nil)
	require.NoError(t, err)
	assert.Nil(t, before)

	got, err := s.Get(ctx, "/x")
	require.NoError(t, err)
	assert.True(t, got.Equal(e))

	// CAS with stale comparand fails silently, returns current value.
	stale := e
	e2, err := e.SetValue([]byte("v2"), sid, time.Now())
	require.NoError(t, err)

	before, err = s.Update(ctx, "/x", e2, nil)
	require.NoError(t, err)
	assert.True(t, before.Equal(stale), "update against wrong comparand must not land")

	got, err = s.Get(ctx, "/x")
	require.NoError(t, err)
	assert.True(t, got.Equal(e), "value must be unchanged after failed CAS")

	// CAS with correct comparand lands.
	before, err = s.Update(ctx, "/x", e2, e)
	require.NoError(t, err)
	assert.True(t, before.Equal(e))

	got, err = s.Get(ctx, "/x")
	require.NoError(t, err)
	assert.True(t, got.Equal(e2))
}

func TestMemoryEntryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntryStore()
	sid := mustSession(t)
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, sid, false, nil, time.Now())

	_, err := s.Update(ctx, "/x", e, nil)
	require.NoError(t, err)

	_, err = s.Update(ctx, "/x", nil, e)
	require.NoError(t, err)

	got, err := s.Get(ctx, "/x")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryEntryStoreRejectsDoubleNil(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntryStore()
	_, err := s.Update(ctx, "/x", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemorySessionStoreListReturnsAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()

	for _, key := range []string{"b", "a", "c"} {
		sid := mustSession(t)
		rec := sessionrec.Begin(sid, time.Now().Add(time.Minute))
		_, err := s.Update(ctx, key, rec, nil)
		require.NoError(t, err)
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestMemoryEntryStoreCloneIsolatesCaller(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntryStore()
	sid := mustSession(t)
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, sid, false, []byte("v1"), time.Now())

	_, err := s.Update(ctx, "/x", e, nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, "/x")
	require.NoError(t, err)
	got.Value[0] = 'X'

	got2, err := s.Get(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got2.Value, "mutating a returned clone must not affect the store")
}
