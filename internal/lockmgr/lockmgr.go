package lockmgr

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
	"github.com/dreamware/coordkernel/internal/store"
)

// ErrWouldBlock signals that a lock cannot be granted against the
// entry snapshot the caller holds. It is not a failure: the caller is
// expected to wait for a release notification (internal/waitmgr) and
// retry with a fresh snapshot.
var ErrWouldBlock = errors.New("lockmgr: would block")

// Notifier is the subset of internal/waitmgr's API the lock manager
// depends on: firing local wakeups after a successful release CAS
// (§4.8, point 1).
type Notifier interface {
	NotifyWriteLockRelease(p path.Path, releaser session.ID)
	NotifyReadLockRelease(p path.Path, releaser session.ID)
}

// WaiterInspector answers whether a write waiter is already registered
// for a path, used to implement writer preference (§4.6): new read
// locks are refused while a writer is queued, unless the requester is
// already the write-lock holder.
type WaiterInspector interface {
	HasPendingWriter(p path.Path) bool
}

// LivenessChecker reports whether a session is known-ended, so the
// lock manager can reclaim a lock abandoned by a dead holder instead
// of blocking a live requester behind it (§4.6).
type LivenessChecker interface {
	IsSessionEnded(ctx context.Context, sid session.ID) (bool, error)
}

// Manager grants and releases per-entry read/write locks by attempting
// CAS transitions against an EntryStore (§4.6, C7).
type Manager struct {
	store     store.EntryStore
	notifier  Notifier
	waiters   WaiterInspector
	liveness  LivenessChecker
	log       *zap.Logger
	maxRetry  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the manager's logger (default: a no-op logger,
// matching the teacher's pattern of optional injected collaborators).
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMaxRetries bounds how many times a single Acquire/Release call
// retries a CAS race before giving up and returning the store error.
// Zero means unbounded (default 64).
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetry = n }
}

// NewManager constructs a lock manager over es, notifying wa on
// release and consulting lc to reclaim locks held by dead sessions.
func NewManager(es store.EntryStore, wa interface {
	Notifier
	WaiterInspector
}, lc LivenessChecker, opts ...Option) *Manager {
	m := &Manager{
		store:    es,
		notifier: wa,
		waiters:  wa,
		liveness: lc,
		log:      zap.NewNop(),
		maxRetry: 64,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) key(p path.Path) string { return p.Escaped() }

// reclaimDeadWriter strips a write lock held by a session whose
// liveness check reports ended, treating it as already released
// (§4.6: "the lock is considered released"). Returns the entry to
// evaluate against next — either e unchanged, or the freshly CAS'd
// value with the dead lock stripped.
func (m *Manager) reclaimDeadWriter(ctx context.Context, e *entry.StoredEntry) (*entry.StoredEntry, error) {
	if e == nil || e.WriteLock == nil {
		return e, nil
	}
	ended, err := m.liveness.IsSessionEnded(ctx, *e.WriteLock)
	if err != nil || !ended {
		return e, err
	}
	holder := *e.WriteLock
	released, err := e.ReleaseWriteLock(holder)
	if err != nil {
		return e, nil // lost race with another reclaimer; caller reloads
	}
	before, err := m.store.Update(ctx, m.key(e.Path), released, e)
	if err != nil {
		return nil, err
	}
	if before.Equal(e) {
		m.notifier.NotifyWriteLockRelease(e.Path, holder)
		m.log.Debug("reclaimed write lock from ended session", zap.String("path", e.Path.String()))
		return released, nil
	}
	return before, nil
}

// reclaimDeadReaders strips read locks held by ended sessions, for the
// same reason as reclaimDeadWriter.
func (m *Manager) reclaimDeadReaders(ctx context.Context, e *entry.StoredEntry) (*entry.StoredEntry, error) {
	for _, holder := range append([]session.ID(nil), e.ReadLocks...) {
		ended, err := m.liveness.IsSessionEnded(ctx, holder)
		if err != nil {
			return e, err
		}
		if !ended {
			continue
		}
		released, err := e.ReleaseReadLock(holder)
		if err != nil {
			continue
		}
		before, err := m.store.Update(ctx, m.key(e.Path), released, e)
		if err != nil {
			return nil, err
		}
		if before.Equal(e) {
			m.notifier.NotifyReadLockRelease(e.Path, holder)
			e = released
		} else {
			e = before
		}
	}
	return e, nil
}

func (m *Manager) load(ctx context.Context, p path.Path) (*entry.StoredEntry, error) {
	return m.store.Get(ctx, m.key(p))
}

// AcquireRead attempts to grant sid a shared lock on the entry at p.
// On success it returns the updated entry. If the lock cannot be
// granted against the current snapshot, it returns ErrWouldBlock; the
// caller should wait for a release notification and retry.
func (m *Manager) AcquireRead(ctx context.Context, p path.Path, sid session.ID) (*entry.StoredEntry, error) {
	for attempt := 0; m.maxRetry == 0 || attempt < m.maxRetry; attempt++ {
		e, err := m.load(ctx, p)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, entry.ErrInvalidEntryTransition
		}
		if e, err = m.reclaimDeadWriter(ctx, e); err != nil {
			return nil, err
		}
		if e.WriteLock != nil && !e.WriteLock.Equal(sid) {
			return nil, ErrWouldBlock
		}
		if e.WriteLock == nil && m.waiters.HasPendingWriter(p) {
			return nil, ErrWouldBlock
		}
		next, err := e.AcquireReadLock(sid)
		if err != nil {
			return nil, ErrWouldBlock
		}
		before, err := m.store.Update(ctx, m.key(p), next, e)
		if err != nil {
			return nil, err
		}
		if before.Equal(e) {
			return next, nil
		}
		// Comparand mismatch: a concurrent writer raced ahead, restart.
	}
	return nil, errors.New("lockmgr: exceeded retry budget acquiring read lock")
}

// ReleaseRead releases sid's shared lock on the entry at p, notifying
// any waiters on success.
func (m *Manager) ReleaseRead(ctx context.Context, p path.Path, sid session.ID) (*entry.StoredEntry, error) {
	for attempt := 0; m.maxRetry == 0 || attempt < m.maxRetry; attempt++ {
		e, err := m.load(ctx, p)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, entry.ErrInvalidEntryTransition
		}
		next, err := e.ReleaseReadLock(sid)
		if err != nil {
			return nil, err
		}
		before, err := m.store.Update(ctx, m.key(p), next, e)
		if err != nil {
			return nil, err
		}
		if before.Equal(e) {
			m.notifier.NotifyReadLockRelease(p, sid)
			return next, nil
		}
	}
	return nil, errors.New("lockmgr: exceeded retry budget releasing read lock")
}

// AcquireWrite attempts to grant sid the exclusive lock on the entry
// at p, reentrantly succeeding as a no-op if sid already holds it
// (L4, §8). Returns ErrWouldBlock if another live session holds the
// write lock or any read lock.
func (m *Manager) AcquireWrite(ctx context.Context, p path.Path, sid session.ID) (*entry.StoredEntry, error) {
	for attempt := 0; m.maxRetry == 0 || attempt < m.maxRetry; attempt++ {
		e, err := m.load(ctx, p)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, entry.ErrInvalidEntryTransition
		}
		if e, err = m.reclaimDeadWriter(ctx, e); err != nil {
			return nil, err
		}
		if e, err = m.reclaimDeadReaders(ctx, e); err != nil {
			return nil, err
		}
		next, err := e.AcquireWriteLock(sid)
		if err != nil {
			return nil, ErrWouldBlock
		}
		if next.StorageVersion == e.StorageVersion {
			// Reentrant no-op (already the holder); nothing to CAS.
			return next, nil
		}
		before, err := m.store.Update(ctx, m.key(p), next, e)
		if err != nil {
			return nil, err
		}
		if before.Equal(e) {
			return next, nil
		}
	}
	return nil, errors.New("lockmgr: exceeded retry budget acquiring write lock")
}

// ReleaseWrite releases sid's exclusive lock on the entry at p. Per
// the downgrade semantics in internal/entry, an explicit read lock
// held by sid survives the release.
func (m *Manager) ReleaseWrite(ctx context.Context, p path.Path, sid session.ID) (*entry.StoredEntry, error) {
	for attempt := 0; m.maxRetry == 0 || attempt < m.maxRetry; attempt++ {
		e, err := m.load(ctx, p)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, entry.ErrInvalidEntryTransition
		}
		next, err := e.ReleaseWriteLock(sid)
		if err != nil {
			return nil, err
		}
		before, err := m.store.Update(ctx, m.key(p), next, e)
		if err != nil {
			return nil, err
		}
		if before.Equal(e) {
			m.notifier.NotifyWriteLockRelease(p, sid)
			return next, nil
		}
	}
	return nil, errors.New("lockmgr: exceeded retry budget releasing write lock")
}
