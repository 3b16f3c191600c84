package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/sessionrec"
)

func TestBadgerEntryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerEntryStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	sid := mustSession(t)
	p, _ := path.FromEscaped("/x-Yy")
	e := entry.Create(p, sid, true, []byte("v1"), time.Now())
	e, err = e.AddChild("c", sid)
	require.NoError(t, err)

	before, err := s.Update(ctx, "/x-Yy", e, nil)
	require.NoError(t, err)
	assert.Nil(t, before)

	got, err := s.Get(ctx, "/x-Yy")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Path.Equal(p))
	assert.Equal(t, []byte("v1"), got.Value)
	assert.Equal(t, []string{"c"}, got.Children)
	assert.True(t, got.Ephemeral)
	require.NotNil(t, got.WriteLock)
	assert.True(t, got.WriteLock.Equal(sid))
}

func TestBadgerEntryStoreCASRejectsStaleComparand(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerEntryStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	sid := mustSession(t)
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, sid, false, nil, time.Now())
	_, err = s.Update(ctx, "/x", e, nil)
	require.NoError(t, err)

	e2, err := e.SetValue([]byte("v2"), sid, time.Now())
	require.NoError(t, err)

	_, err = s.Update(ctx, "/x", e2, nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, "/x")
	require.NoError(t, err)
	assert.Nil(t, got.Value, "CAS with wrong comparand must not land")
}

func TestBadgerEntryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerEntryStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	sid := mustSession(t)
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, sid, false, nil, time.Now())
	_, err = s.Update(ctx, "/x", e, nil)
	require.NoError(t, err)

	_, err = s.Update(ctx, "/x", nil, e)
	require.NoError(t, err)

	got, err := s.Get(ctx, "/x")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBadgerSessionStoreListAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerSessionStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	sid := mustSession(t)
	p, _ := path.FromEscaped("/ephemeral")
	rec := sessionrec.Begin(sid, time.Now().Add(time.Minute))
	rec, err = rec.AddEntry(p)
	require.NoError(t, err)

	_, err = s.Update(ctx, sid.Compact(), rec, nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, sid.Compact())
	require.NoError(t, err)
	require.Len(t, got.OwnedEntries, 1)
	assert.True(t, got.OwnedEntries[0].Equal(p))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
