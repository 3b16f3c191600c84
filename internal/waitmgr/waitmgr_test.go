package waitmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
	"github.com/dreamware/coordkernel/internal/store"
)

func mustSession(t *testing.T, addr string) session.ID {
	t.Helper()
	id, err := session.NewWithAddress([]byte("node-a"), []byte(addr))
	require.NoError(t, err)
	return id
}

func TestWaitForWriteLockReleaseReturnsImmediatelyWhenSatisfied(t *testing.T) {
	m := NewManager(WithTimeout(time.Minute))
	a := mustSession(t, "a")
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, a, false, nil, time.Now())

	got, err := m.WaitForWriteLockRelease(context.Background(), nil, p, e, a, true)
	require.NoError(t, err)
	assert.Same(t, e, got)
}

func TestWaitForWriteLockReleaseWakesOnNotify(t *testing.T) {
	m := NewManager(WithTimeout(time.Minute))
	es := store.NewMemoryEntryStore()
	a, b := mustSession(t, "a"), mustSession(t, "b")
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, a, false, nil, time.Now())
	_, err := es.Update(context.Background(), p.Escaped(), e, nil)
	require.NoError(t, err)

	done := make(chan *entry.StoredEntry, 1)
	errs := make(chan error, 1)
	go func() {
		got, err := m.WaitForWriteLockRelease(context.Background(), es, p, e, b, false)
		errs <- err
		done <- got
	}()

	// Give the waiter time to register before releasing.
	time.Sleep(20 * time.Millisecond)
	released, err := e.ReleaseWriteLock(a)
	require.NoError(t, err)
	_, err = es.Update(context.Background(), p.Escaped(), released, e)
	require.NoError(t, err)
	m.NotifyWriteLockRelease(p, a)

	require.NoError(t, <-errs)
	got := <-done
	assert.Nil(t, got.WriteLock)
}

func TestWaitForWriteLockReleaseCancellation(t *testing.T) {
	m := NewManager(WithTimeout(time.Minute))
	es := store.NewMemoryEntryStore()
	a, b := mustSession(t, "a"), mustSession(t, "b")
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, a, false, nil, time.Now())
	_, err := es.Update(context.Background(), p.Escaped(), e, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := m.WaitForWriteLockRelease(ctx, es, p, e, b, false)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errs, ErrCancelled)
}

func TestHasPendingWriterReflectsRegistration(t *testing.T) {
	m := NewManager(WithTimeout(time.Minute))
	es := store.NewMemoryEntryStore()
	a, b := mustSession(t, "a"), mustSession(t, "b")
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, a, false, nil, time.Now())
	_, err := es.Update(context.Background(), p.Escaped(), e, nil)
	require.NoError(t, err)

	assert.False(t, m.HasPendingWriter(p))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.WaitForWriteLockRelease(context.Background(), es, p, e, b, false)
	}()

	require.Eventually(t, func() bool { return m.HasPendingWriter(p) }, time.Second, time.Millisecond)

	released, err := e.ReleaseWriteLock(a)
	require.NoError(t, err)
	_, err = es.Update(context.Background(), p.Escaped(), released, e)
	require.NoError(t, err)
	m.NotifyWriteLockRelease(p, a)
	<-done

	assert.False(t, m.HasPendingWriter(p))
}

func TestWaitForReadLocksReleaseIgnoresSelf(t *testing.T) {
	m := NewManager(WithTimeout(time.Minute))
	a := mustSession(t, "a")
	p, _ := path.FromEscaped("/x")
	e := entry.Create(p, a, false, nil, time.Now())
	e, err := e.ReleaseWriteLock(a)
	require.NoError(t, err)
	e, err = e.AcquireReadLock(a)
	require.NoError(t, err)

	got, err := m.WaitForReadLocksRelease(context.Background(), nil, p, e, a)
	require.NoError(t, err)
	assert.Same(t, e, got)
}
