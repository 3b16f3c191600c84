package sessionmgr

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
	"github.com/dreamware/coordkernel/internal/store"
	"github.com/dreamware/coordkernel/internal/waitmgr"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, store.EntryStore, store.SessionStore) {
	t.Helper()
	es := store.NewMemoryEntryStore()
	ss := store.NewMemorySessionStore()
	wm := waitmgr.NewManager(waitmgr.WithTimeout(50 * time.Millisecond))
	m := NewManager(es, ss, wm, cfg)
	return m, es, ss
}

func TestStartIssuesAndPersistsSession(t *testing.T) {
	m, _, ss := newTestManager(t, Config{LeaseLength: time.Hour})
	sid, err := m.Start(context.Background(), []byte("node-a"), []byte("10.0.0.1:7000"))
	require.NoError(t, err)
	defer m.Stop()

	rec, err := ss.Get(context.Background(), sid.Compact())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, sessionrec.Alive, rec.State)
}

func TestRenewOnceExtendsLease(t *testing.T) {
	m, _, ss := newTestManager(t, Config{LeaseLength: time.Hour})
	sid, err := m.Start(context.Background(), []byte("node-a"), []byte("addr"))
	require.NoError(t, err)
	defer m.Stop()

	before, err := ss.Get(context.Background(), sid.Compact())
	require.NoError(t, err)

	require.NoError(t, m.renewOnce(context.Background()))

	after, err := ss.Get(context.Background(), sid.Compact())
	require.NoError(t, err)
	assert.True(t, after.LeaseEnd.After(before.LeaseEnd))
}

func TestScanNowEndsExpiredSession(t *testing.T) {
	m, _, ss := newTestManager(t, Config{LeaseLength: time.Minute, LeaseGrace: time.Millisecond})
	sid, err := session.NewWithAddress([]byte("node-a"), []byte("dead"))
	require.NoError(t, err)
	rec := sessionrec.Begin(sid, time.Now().Add(-time.Hour))
	_, err = ss.Update(context.Background(), sid.Compact(), rec, nil)
	require.NoError(t, err)

	m.ScanNow(context.Background())

	got, err := ss.Get(context.Background(), sid.Compact())
	require.NoError(t, err)
	assert.Equal(t, sessionrec.Ended, got.State)
}

func TestEphemeralCascadeDeletesSubtreeAndDetachesChild(t *testing.T) {
	m, es, ss := newTestManager(t, Config{LeaseLength: time.Minute, LeaseGrace: time.Millisecond})

	owner, err := session.NewWithAddress([]byte("node-a"), []byte("owner"))
	require.NoError(t, err)

	root, _ := path.FromEscaped("/")
	ephemeral, _ := path.FromEscaped("/e")
	child, _ := path.FromEscaped("/e/c")

	rootEntry := entry.Create(root, owner, false, nil, time.Now())
	rootEntry, err = rootEntry.AddChild("e", owner)
	require.NoError(t, err)
	rootEntry, err = rootEntry.ReleaseWriteLock(owner)
	require.NoError(t, err)
	_, err = es.Update(context.Background(), root.Escaped(), rootEntry, nil)
	require.NoError(t, err)

	eEntry := entry.Create(ephemeral, owner, true, []byte("v"), time.Now())
	eEntry, err = eEntry.AddChild("c", owner)
	require.NoError(t, err)
	_, err = es.Update(context.Background(), ephemeral.Escaped(), eEntry, nil)
	require.NoError(t, err)

	cEntry := entry.Create(child, owner, true, nil, time.Now())
	_, err = es.Update(context.Background(), child.Escaped(), cEntry, nil)
	require.NoError(t, err)

	rec := sessionrec.Begin(owner, time.Now().Add(-time.Hour))
	rec, err = rec.AddEntry(ephemeral)
	require.NoError(t, err)
	_, err = ss.Update(context.Background(), owner.Compact(), rec, nil)
	require.NoError(t, err)

	m.ScanNow(context.Background())

	gotE, err := es.Get(context.Background(), ephemeral.Escaped())
	require.NoError(t, err)
	assert.Nil(t, gotE, "ephemeral entry must be gone")

	gotC, err := es.Get(context.Background(), child.Escaped())
	require.NoError(t, err)
	assert.Nil(t, gotC, "child of ephemeral entry must be gone")

	gotRoot, err := es.Get(context.Background(), root.Escaped())
	require.NoError(t, err)
	assert.NotContains(t, gotRoot.Children, "e")

	gotSession, err := ss.Get(context.Background(), owner.Compact())
	require.NoError(t, err)
	assert.Equal(t, sessionrec.Ended, gotSession.State)
	assert.Empty(t, gotSession.OwnedEntries)
}

func TestIsSessionEndedReportsTrueForMissingRecord(t *testing.T) {
	m, _, _ := newTestManager(t, Config{LeaseLength: time.Minute})
	other, err := session.NewWithAddress([]byte("node-a"), []byte("ghost"))
	require.NoError(t, err)

	ended, err := m.IsSessionEnded(context.Background(), other)
	require.NoError(t, err)
	assert.True(t, ended)
}
