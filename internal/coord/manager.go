package coord

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/coordkernel/internal/cache"
	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/lockmgr"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
	"github.com/dreamware/coordkernel/internal/sessionmgr"
	"github.com/dreamware/coordkernel/internal/store"
	"github.com/dreamware/coordkernel/internal/waitmgr"
)

const (
	initialStoreBackoff = 20 * time.Millisecond
	maxStoreBackoff      = 2 * time.Second
	retryBudget           = 8
)

// Manager is the top-level coordination kernel API (§4.10, C10). It
// composes a session manager, a lock manager, a wait manager, and a
// client cache over a single external store.
type Manager struct {
	entries    store.EntryStore
	locks      *lockmgr.Manager
	waiters    *waitmgr.Manager
	sessionMgr *sessionmgr.Manager
	cache      *cache.Cache
	log        *zap.Logger

	// leaseLength bounds how long a StorageUnavailable retry loop may
	// run before the operation gives up and reports SessionTerminated
	// (§7). Only that operation reports it; the manager does not record
	// the failure, and later operations run normally.
	leaseLength time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the manager's logger (default: no-op).
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager composes an already-started sessionMgr with the lock,
// wait, and cache layers built over the same entries store. Callers
// (typically cmd/coordnode) are responsible for wiring locks and
// waiters against entries and sessionMgr before constructing a
// Manager, since those layers' constructors take this manager's
// collaborators as arguments rather than the reverse.
func NewManager(entries store.EntryStore, locks *lockmgr.Manager, waiters *waitmgr.Manager, sessionMgr *sessionmgr.Manager, cch *cache.Cache, leaseLength time.Duration, opts ...Option) *Manager {
	m := &Manager{
		entries:     entries,
		locks:       locks,
		waiters:     waiters,
		sessionMgr:  sessionMgr,
		cache:       cch,
		leaseLength: leaseLength,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetSession returns the session id this manager's own process holds.
func (m *Manager) GetSession() session.ID {
	return m.sessionMgr.Self()
}

func (m *Manager) checkTerminated() error {
	if err := m.sessionMgr.Terminated(); err != nil {
		return ErrSessionTerminated
	}
	return nil
}

// mapStoreErr translates a lower-layer error into the public taxonomy.
// StorageUnavailable is handled upstream by the retry wrappers below
// and should never reach here; anything else passes through
// unchanged, since entry.ErrInvalidEntryTransition and the store's own
// sentinels already carry the right meaning for a caller using
// errors.Is.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, waitmgr.ErrCancelled) {
		return ErrCancelled
	}
	return err
}

// getEntryWithRetry wraps EntryStore.Get with the exponential backoff
// §7 prescribes for StorageUnavailable, bounded by leaseLength; once
// the deadline passes this call reports SessionTerminated. The session
// itself is left as it is, so later calls are not affected.
func (m *Manager) getEntryWithRetry(ctx context.Context, key string) (*entry.StoredEntry, error) {
	deadline := time.Now().Add(m.leaseLength)
	backoff := initialStoreBackoff
	for {
		e, err := m.entries.Get(ctx, key)
		if err == nil || !errors.Is(err, store.ErrStorageUnavailable) {
			return e, mapStoreErr(err)
		}
		if time.Now().After(deadline) {
			return nil, ErrSessionTerminated
		}
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxStoreBackoff {
			backoff = maxStoreBackoff
		}
	}
}

func (m *Manager) updateEntryWithRetry(ctx context.Context, key string, newVal, comparand *entry.StoredEntry) (*entry.StoredEntry, error) {
	deadline := time.Now().Add(m.leaseLength)
	backoff := initialStoreBackoff
	for {
		before, err := m.entries.Update(ctx, key, newVal, comparand)
		if err == nil || !errors.Is(err, store.ErrStorageUnavailable) {
			return before, mapStoreErr(err)
		}
		if time.Now().After(deadline) {
			return nil, ErrSessionTerminated
		}
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxStoreBackoff {
			backoff = maxStoreBackoff
		}
	}
}

// acquireWrite grants self the write lock on p, suspending on
// internal/waitmgr between retries when the lock manager reports
// ErrWouldBlock. Returns entry.ErrInvalidEntryTransition unchanged if
// p is absent, so callers can map that to whatever EntryNotFound-style
// error fits their operation.
//
// ErrWouldBlock means either a live writer or live readers hold the
// entry (lockmgr.AcquireWrite doesn't say which), so a fresh snapshot
// is loaded to tell the two apart: blocked-by-writer suspends on
// WaitForWriteLockRelease, blocked-by-readers suspends on
// WaitForReadLocksRelease. Picking the wrong one would either wait on
// a condition that's already true (busy-spinning until ctx is
// cancelled) or never wake for the condition actually blocking us.
func (m *Manager) acquireWrite(ctx context.Context, p path.Path, self session.ID) (*entry.StoredEntry, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		default:
		}
		e, err := m.locks.AcquireWrite(ctx, p, self)
		if err == nil {
			m.cache.PutLocked(p, e, cache.LockExclusive)
			return e, nil
		}
		if !errors.Is(err, lockmgr.ErrWouldBlock) {
			return nil, mapStoreErr(err)
		}
		fresh, gerr := m.entries.Get(ctx, p.Escaped())
		if gerr != nil {
			return nil, mapStoreErr(gerr)
		}
		var werr error
		if fresh != nil && fresh.WriteLock == nil {
			fresh, werr = m.waiters.WaitForReadLocksRelease(ctx, m.entries, p, fresh, self)
		} else {
			fresh, werr = m.waiters.WaitForWriteLockRelease(ctx, m.entries, p, fresh, self, true)
		}
		if werr != nil {
			return nil, mapStoreErr(werr)
		}
	}
}

// releaseWriteBestEffort releases self's write lock on p, logging
// rather than failing the caller's operation on error: by the time a
// caller is releasing, the operation it was protecting has already
// committed.
func (m *Manager) releaseWriteBestEffort(ctx context.Context, p path.Path, self session.ID) {
	e, err := m.locks.ReleaseWrite(ctx, p, self)
	if err != nil {
		m.log.Warn("release write lock failed", zap.String("path", p.String()), zap.Error(err))
		return
	}
	m.cache.Observe(p, e)
}

// ensureAncestor guarantees an entry exists at p, recursively creating
// missing ancestors in Default mode (§4.7 Create step 2). The root is
// bootstrapped directly since it has no parent to attach to.
func (m *Manager) ensureAncestor(ctx context.Context, p path.Path) (*entry.StoredEntry, error) {
	if p.IsRoot() {
		return m.ensureRoot(ctx)
	}
	parent, _ := p.Parent()
	if _, err := m.ensureAncestor(ctx, parent); err != nil {
		return nil, err
	}
	return m.createOrGetEntry(ctx, p, nil, false, true)
}

// ensureRoot bootstraps the unowned, permanently-unlocked root entry
// the first time any operation needs it. Unlike every other entry the
// root has no creating session: it pre-exists the first session ever
// to touch the store.
func (m *Manager) ensureRoot(ctx context.Context) (*entry.StoredEntry, error) {
	existing, err := m.getEntryWithRetry(ctx, path.Root.Escaped())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	now := time.Now()
	fresh := &entry.StoredEntry{
		Path:           path.Root,
		Version:        1,
		StorageVersion: 1,
		CreationTime:   now,
		LastWriteTime:  now,
	}
	before, err := m.updateEntryWithRetry(ctx, path.Root.Escaped(), fresh, nil)
	if err != nil {
		return nil, err
	}
	if before != nil {
		return before, nil
	}
	return fresh, nil
}

// createOrGetEntry implements §4.7 Create steps 1-7. When getOrCreate
// is false, a pre-existing child entry aborts the whole call with
// ErrEntryAlreadyExists; when true, the existing entry is returned
// instead and no parent/session bookkeeping is repeated.
func (m *Manager) createOrGetEntry(ctx context.Context, p path.Path, value []byte, ephemeral, getOrCreate bool) (*entry.StoredEntry, error) {
	if p.IsRoot() {
		return m.ensureRoot(ctx)
	}
	self := m.sessionMgr.Self()

	parentPath, _ := p.Parent()
	if _, err := m.ensureAncestor(ctx, parentPath); err != nil {
		return nil, err
	}

	parentEntry, err := m.acquireWrite(ctx, parentPath, self)
	if err != nil {
		return nil, err
	}
	defer m.releaseWriteBestEffort(ctx, parentPath, self)

	now := time.Now()
	candidate := entry.Create(p, self, ephemeral, value, now)
	before, err := m.updateEntryWithRetry(ctx, p.Escaped(), candidate, nil)
	if err != nil {
		return nil, err
	}
	if before != nil {
		if !getOrCreate {
			return nil, ErrEntryAlreadyExists
		}
		m.cache.Observe(p, before)
		return before, nil
	}

	if err := m.addChildToParent(ctx, parentPath, p.Name(), self, parentEntry); err != nil {
		return nil, err
	}
	m.cache.Observe(p, candidate)

	if ephemeral {
		if err := m.sessionMgr.RecordOwnedEntry(ctx, p); err != nil {
			return nil, err
		}
	}
	return candidate, nil
}

// addChildToParent CAS-loops AddChild against parent, whose write lock
// the caller already holds; last is the snapshot observed when the
// lock was granted.
func (m *Manager) addChildToParent(ctx context.Context, parent path.Path, name string, self session.ID, last *entry.StoredEntry) error {
	e := last
	for attempt := 0; attempt < retryBudget; attempt++ {
		next, err := e.AddChild(name, self)
		if err != nil {
			return ErrInvalidEntryTransition
		}
		before, err := m.updateEntryWithRetry(ctx, parent.Escaped(), next, e)
		if err != nil {
			return err
		}
		if before.Equal(e) {
			m.cache.PutLocked(parent, next, cache.LockExclusive)
			return nil
		}
		e = before
	}
	return errors.New("coord: exceeded retry budget adding child")
}

// removeChildFromParent acquires parent's write lock itself (unlike
// addChildToParent, which runs under a lock the create protocol is
// already holding for an unrelated reason) and CAS-loops RemoveChild.
func (m *Manager) removeChildFromParent(ctx context.Context, parent path.Path, name string, self session.ID) error {
	e, err := m.acquireWrite(ctx, parent, self)
	if err != nil {
		if errors.Is(err, entry.ErrInvalidEntryTransition) {
			return nil
		}
		return err
	}
	defer m.releaseWriteBestEffort(ctx, parent, self)

	for attempt := 0; attempt < retryBudget; attempt++ {
		next, err := e.RemoveChild(name, self)
		if err != nil {
			return ErrInvalidEntryTransition
		}
		before, err := m.updateEntryWithRetry(ctx, parent.Escaped(), next, e)
		if err != nil {
			return err
		}
		if before.Equal(e) {
			m.cache.PutLocked(parent, next, cache.LockExclusive)
			return nil
		}
		e = before
		if e == nil {
			return nil
		}
	}
	return errors.New("coord: exceeded retry budget removing child")
}

// Create inserts a new entry at p (§4.7 Create, §6.1).
func (m *Manager) Create(ctx context.Context, p path.Path, value []byte, mode Mode) (*entry.StoredEntry, error) {
	if err := m.checkTerminated(); err != nil {
		return nil, err
	}
	return m.createOrGetEntry(ctx, p, value, mode == Ephemeral, false)
}

// GetOrCreate inserts a new entry at p, or returns the existing one if
// already present (§6.1).
func (m *Manager) GetOrCreate(ctx context.Context, p path.Path, value []byte, mode Mode) (*entry.StoredEntry, error) {
	if err := m.checkTerminated(); err != nil {
		return nil, err
	}
	return m.createOrGetEntry(ctx, p, value, mode == Ephemeral, true)
}

// Get returns the entry at p, or (nil, nil) if absent (§6.1). A read
// that hits a coherent cache slot never touches the store; otherwise
// it falls through to a store read and repopulates the cache as
// observation-only (§4.9).
//
// Each store-backed read also opportunistically repairs a
// parent/children inconsistency it observes at p, per §4.7's lazy
// repair: a missing child membership is added, and a stale child
// membership with no backing entry is removed, both under the
// parent's write lock.
func (m *Manager) Get(ctx context.Context, p path.Path) (*entry.StoredEntry, error) {
	if err := m.checkTerminated(); err != nil {
		return nil, err
	}
	if h, ok := m.cache.Get(p); ok && h.LockKind() != cache.LockNone {
		if e, err := h.Entry(); err == nil {
			return e, nil
		}
	}

	e, err := m.getEntryWithRetry(ctx, p.Escaped())
	if err != nil {
		return nil, err
	}
	if e == nil || e.Tombstoned {
		m.cache.Evict(p)
		m.repairStaleChildMembership(ctx, p)
		return nil, nil
	}
	m.cache.Observe(p, e)
	m.repairMissingChildMembership(ctx, p)
	return e, nil
}

func (m *Manager) repairMissingChildMembership(ctx context.Context, p path.Path) {
	parent, ok := p.Parent()
	if !ok {
		return
	}
	parentEntry, err := m.entries.Get(ctx, parent.Escaped())
	if err != nil || parentEntry == nil {
		return
	}
	name := p.Name()
	for _, c := range parentEntry.Children {
		if c == name {
			return
		}
	}
	self := m.sessionMgr.Self()
	if err := m.addMissingChild(ctx, parent, name, self); err != nil {
		m.log.Debug("deferred parent/child repair", zap.String("parent", parent.String()), zap.Error(err))
	}
}

func (m *Manager) addMissingChild(ctx context.Context, parent path.Path, name string, self session.ID) error {
	e, err := m.locks.AcquireWrite(ctx, parent, self)
	if err != nil {
		return err // best-effort: a later reader retries
	}
	defer m.releaseWriteBestEffort(ctx, parent, self)
	next, err := e.AddChild(name, self)
	if err != nil {
		return err
	}
	before, err := m.entries.Update(ctx, parent.Escaped(), next, e)
	if err == nil && before.Equal(e) {
		m.cache.Invalidate(parent)
	}
	return err
}

func (m *Manager) repairStaleChildMembership(ctx context.Context, p path.Path) {
	parent, ok := p.Parent()
	if !ok {
		return
	}
	parentEntry, err := m.entries.Get(ctx, parent.Escaped())
	if err != nil || parentEntry == nil {
		return
	}
	name := p.Name()
	present := false
	for _, c := range parentEntry.Children {
		if c == name {
			present = true
			break
		}
	}
	if !present {
		return
	}
	self := m.sessionMgr.Self()
	if err := m.removeStaleChild(ctx, parent, name, self); err != nil {
		m.log.Debug("deferred parent/child repair", zap.String("parent", parent.String()), zap.Error(err))
	}
}

func (m *Manager) removeStaleChild(ctx context.Context, parent path.Path, name string, self session.ID) error {
	e, err := m.locks.AcquireWrite(ctx, parent, self)
	if err != nil {
		return err
	}
	defer m.releaseWriteBestEffort(ctx, parent, self)
	next, err := e.RemoveChild(name, self)
	if err != nil {
		return err
	}
	before, err := m.entries.Update(ctx, parent.Escaped(), next, e)
	if err == nil && before.Equal(e) {
		m.cache.Invalidate(parent)
	}
	return err
}

// SetValue replaces the value at p under its write lock, returning
// the new version (§6.1).
func (m *Manager) SetValue(ctx context.Context, p path.Path, value []byte, expectedVersion int64) (int64, error) {
	if err := m.checkTerminated(); err != nil {
		return 0, err
	}
	self := m.sessionMgr.Self()
	e, err := m.acquireWrite(ctx, p, self)
	if err != nil {
		if errors.Is(err, entry.ErrInvalidEntryTransition) {
			return 0, ErrEntryNotFound
		}
		return 0, err
	}
	defer m.releaseWriteBestEffort(ctx, p, self)

	if expectedVersion != 0 && e.Version != expectedVersion {
		return 0, ErrVersionMismatch
	}
	for attempt := 0; attempt < retryBudget; attempt++ {
		next, err := e.SetValue(value, self, time.Now())
		if err != nil {
			return 0, ErrInvalidEntryTransition
		}
		before, err := m.updateEntryWithRetry(ctx, p.Escaped(), next, e)
		if err != nil {
			return 0, err
		}
		if before.Equal(e) {
			m.cache.PutLocked(p, next, cache.LockExclusive)
			return next.Version, nil
		}
		e = before
		if e == nil {
			return 0, ErrEntryNotFound
		}
		if expectedVersion != 0 && e.Version != expectedVersion {
			return 0, ErrVersionMismatch
		}
	}
	return 0, errors.New("coord: exceeded retry budget setting value")
}

// Delete removes the entry at p, recursing into children first when
// recursive is set (§4.7 Delete, §6.1). Deleting an absent entry
// succeeds with version 0, per the idempotence §4.7 requires.
func (m *Manager) Delete(ctx context.Context, p path.Path, expectedVersion int64, recursive bool) (int64, error) {
	if err := m.checkTerminated(); err != nil {
		return 0, err
	}
	e, err := m.getEntryWithRetry(ctx, p.Escaped())
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, nil
	}
	if expectedVersion != 0 && e.Version != expectedVersion {
		return 0, ErrVersionMismatch
	}
	if len(e.Children) != 0 {
		if !recursive {
			return 0, ErrEntryNotEmpty
		}
		for _, child := range append([]string(nil), e.Children...) {
			if _, err := m.Delete(ctx, p.Child(child), 0, true); err != nil {
				return 0, err
			}
		}
	}

	self := m.sessionMgr.Self()
	locked, err := m.acquireWrite(ctx, p, self)
	if err != nil {
		if errors.Is(err, entry.ErrInvalidEntryTransition) {
			return 0, nil // vanished concurrently; idempotent
		}
		return 0, err
	}
	if locked == nil {
		return 0, nil
	}
	deletedVersion := locked.Version

	// Two-phase delete, mirroring sessionmgr.forceDeleteOne: first CAS
	// the live, locked entry into a tombstone (comparand is the entry
	// actually in the store), then CAS the tombstone away. A single
	// Update(nil, locked) can't be retried safely if it raced another
	// writer, so the tombstone step gives us something to re-CAS
	// against on a comparand mismatch.
	current := locked
	removed, err := current.Remove(self)
	if err != nil {
		m.releaseWriteBestEffort(ctx, p, self)
		return 0, ErrInvalidEntryTransition
	}
	for attempt := 0; attempt < retryBudget; attempt++ {
		before, uerr := m.updateEntryWithRetry(ctx, p.Escaped(), removed, current)
		if uerr != nil {
			return 0, uerr
		}
		if before.Equal(current) {
			break
		}
		current = before
		if current == nil {
			break
		}
		removed, err = current.Remove(self)
		if err != nil {
			return 0, ErrInvalidEntryTransition
		}
	}
	if current != nil {
		if _, uerr := m.updateEntryWithRetry(ctx, p.Escaped(), nil, removed); uerr != nil {
			return 0, uerr
		}
	}
	m.cache.Evict(p)

	if parent, ok := p.Parent(); ok {
		if err := m.removeChildFromParent(ctx, parent, p.Name(), self); err != nil {
			m.log.Warn("delete: remove_child on parent failed", zap.String("parent", parent.String()), zap.Error(err))
		}
	}

	if e.Ephemeral {
		if err := m.sessionMgr.ForgetOwnedEntry(ctx, p); err != nil {
			m.log.Warn("delete: forget owned entry failed", zap.Error(err))
		}
	}

	return deletedVersion, nil
}
