package entry

import (
	"errors"
	"sort"
	"time"

	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
)

// ErrInvalidEntryTransition signals that a transition's precondition was
// violated (§4.2). Per §7 this is treated as a bug: callers should not
// retry it, they should fail-stop and investigate.
var ErrInvalidEntryTransition = errors.New("entry: invalid transition")

// StoredEntry is the persisted record for one namespace entry (§3.3). All
// mutation goes through the transition functions below; StoredEntry itself
// is a plain value type and every returned copy is independent of its
// source.
type StoredEntry struct {
	CreationTime    time.Time
	LastWriteTime   time.Time
	Path            path.Path
	Value           []byte
	CreatingSession session.ID
	WriteLock       *session.ID
	ReadLocks       []session.ID // sorted by Compact() for deterministic equality
	Children        []string     // sorted, names only
	Version         int64
	StorageVersion  int64
	Ephemeral       bool
	Tombstoned      bool
}

// clone returns a deep, independent copy of e.
func (e *StoredEntry) clone() *StoredEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Value = append([]byte(nil), e.Value...)
	out.Children = append([]string(nil), e.Children...)
	out.ReadLocks = append([]session.ID(nil), e.ReadLocks...)
	if e.WriteLock != nil {
		w := *e.WriteLock
		out.WriteLock = &w
	}
	return &out
}

// Equal reports structural equality, including StorageVersion, as required
// by the CAS contract (§6.2): two records compare equal only if every
// field — including the storage-internal version counter — matches.
func (e *StoredEntry) Equal(other *StoredEntry) bool {
	if e == nil || other == nil {
		return e == other
	}
	if !e.Path.Equal(other.Path) ||
		!bytesEqual(e.Value, other.Value) ||
		e.Version != other.Version ||
		e.StorageVersion != other.StorageVersion ||
		!e.CreationTime.Equal(other.CreationTime) ||
		!e.LastWriteTime.Equal(other.LastWriteTime) ||
		!e.CreatingSession.Equal(other.CreatingSession) ||
		e.Ephemeral != other.Ephemeral ||
		e.Tombstoned != other.Tombstoned {
		return false
	}
	if (e.WriteLock == nil) != (other.WriteLock == nil) {
		return false
	}
	if e.WriteLock != nil && !e.WriteLock.Equal(*other.WriteLock) {
		return false
	}
	if len(e.ReadLocks) != len(other.ReadLocks) {
		return false
	}
	for i := range e.ReadLocks {
		if !e.ReadLocks[i].Equal(other.ReadLocks[i]) {
			return false
		}
	}
	if len(e.Children) != len(other.Children) {
		return false
	}
	for i := range e.Children {
		if e.Children[i] != other.Children[i] {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// hasReadLock reports whether sid holds a read lock.
func (e *StoredEntry) hasReadLock(sid session.ID) bool {
	for _, s := range e.ReadLocks {
		if s.Equal(sid) {
			return true
		}
	}
	return false
}

func (e *StoredEntry) withReadLock(sid session.ID) []session.ID {
	out := append([]session.ID(nil), e.ReadLocks...)
	out = append(out, sid)
	sort.Slice(out, func(i, j int) bool { return out[i].Compact() < out[j].Compact() })
	return out
}

func (e *StoredEntry) withoutReadLock(sid session.ID) []session.ID {
	out := make([]session.ID, 0, len(e.ReadLocks))
	for _, s := range e.ReadLocks {
		if !s.Equal(sid) {
			out = append(out, s)
		}
	}
	return out
}

func hasChild(children []string, name string) bool {
	for _, c := range children {
		if c == name {
			return true
		}
	}
	return false
}

func withChild(children []string, name string) []string {
	if hasChild(children, name) {
		return append([]string(nil), children...)
	}
	out := append(append([]string(nil), children...), name)
	sort.Strings(out)
	return out
}

func withoutChild(children []string, name string) []string {
	out := make([]string, 0, len(children))
	for _, c := range children {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}

// Create builds a fresh entry at version 1 with the creating session
// holding the write lock, per the `create` row of §4.2's transition
// table. now is injected so the result is deterministic and testable.
func Create(p path.Path, creatingSession session.ID, ephemeral bool, value []byte, now time.Time) *StoredEntry {
	w := creatingSession
	return &StoredEntry{
		Path:            p,
		Value:           append([]byte(nil), value...),
		Version:         1,
		StorageVersion:  1,
		CreationTime:    now,
		LastWriteTime:   now,
		CreatingSession: creatingSession,
		Ephemeral:       ephemeral,
		WriteLock:       &w,
	}
}

// AcquireReadLock grants a shared lock to sid. Forbidden, per §4.2, unless
// the write lock is unset or already held by sid (reentrancy: a writer
// may also take an implied read lock, a no-op recorded here as an
// explicit grant so a later write-lock release can downgrade cleanly).
func (e *StoredEntry) AcquireReadLock(sid session.ID) (*StoredEntry, error) {
	if e.WriteLock != nil && !e.WriteLock.Equal(sid) {
		return nil, ErrInvalidEntryTransition
	}
	if e.hasReadLock(sid) {
		out := e.clone()
		out.StorageVersion++
		return out, nil
	}
	out := e.clone()
	out.ReadLocks = e.withReadLock(sid)
	out.StorageVersion++
	return out, nil
}

// ReleaseReadLock releases sid's shared lock. Precondition: sid must hold
// one (§4.2); releasing a lock sid does not hold is a bug, not a no-op,
// since the caller's own bookkeeping should already know.
func (e *StoredEntry) ReleaseReadLock(sid session.ID) (*StoredEntry, error) {
	if !e.hasReadLock(sid) {
		return nil, ErrInvalidEntryTransition
	}
	out := e.clone()
	out.ReadLocks = e.withoutReadLock(sid)
	out.StorageVersion++
	return out, nil
}

// AcquireWriteLock grants the exclusive lock to sid. Allowed when the
// write lock is unset and any existing read locks belong solely to sid
// (the reentrant-upgrade case). Recursive acquisition by the current
// holder is idempotent (L4 in spec.md §8): it succeeds without changing
// StorageVersion, because CAS-based retries must be able to reapply it
// against a conflicting CAS without re-bumping state.
func (e *StoredEntry) AcquireWriteLock(sid session.ID) (*StoredEntry, error) {
	if e.WriteLock != nil && e.WriteLock.Equal(sid) {
		return e.clone(), nil
	}
	if e.WriteLock != nil {
		return nil, ErrInvalidEntryTransition
	}
	for _, r := range e.ReadLocks {
		if !r.Equal(sid) {
			return nil, ErrInvalidEntryTransition
		}
	}
	out := e.clone()
	w := sid
	out.WriteLock = &w
	out.StorageVersion++
	return out, nil
}

// ReleaseWriteLock releases sid's exclusive lock. Precondition: sid must
// hold it. Per the Open Questions resolution in DESIGN.md, if sid also
// still holds an explicit read lock (granted via AcquireReadLock while
// already the writer) the release is a downgrade: the read lock survives.
func (e *StoredEntry) ReleaseWriteLock(sid session.ID) (*StoredEntry, error) {
	if e.WriteLock == nil || !e.WriteLock.Equal(sid) {
		return nil, ErrInvalidEntryTransition
	}
	out := e.clone()
	out.WriteLock = nil
	out.StorageVersion++
	return out, nil
}

// SetValue replaces the entry's value. Precondition: sid holds the write
// lock. Unlike lock-only transitions, a value change bumps both Version
// and StorageVersion and refreshes LastWriteTime (§4.2).
func (e *StoredEntry) SetValue(value []byte, sid session.ID, now time.Time) (*StoredEntry, error) {
	if e.WriteLock == nil || !e.WriteLock.Equal(sid) {
		return nil, ErrInvalidEntryTransition
	}
	out := e.clone()
	out.Value = append([]byte(nil), value...)
	out.Version++
	out.StorageVersion++
	out.LastWriteTime = now
	return out, nil
}

// AddChild records a child segment name. Precondition: sid holds the
// write lock. Adding an already-present child still bumps StorageVersion,
// since §4.7's lazy-repair path relies on being able to observe that a
// CAS occurred even when the logical set of children didn't change.
func (e *StoredEntry) AddChild(name string, sid session.ID) (*StoredEntry, error) {
	if e.WriteLock == nil || !e.WriteLock.Equal(sid) {
		return nil, ErrInvalidEntryTransition
	}
	out := e.clone()
	out.Children = withChild(e.Children, name)
	out.StorageVersion++
	return out, nil
}

// RemoveChild removes a child segment name. Precondition: sid holds the
// write lock.
func (e *StoredEntry) RemoveChild(name string, sid session.ID) (*StoredEntry, error) {
	if e.WriteLock == nil || !e.WriteLock.Equal(sid) {
		return nil, ErrInvalidEntryTransition
	}
	out := e.clone()
	out.Children = withoutChild(e.Children, name)
	out.StorageVersion++
	return out, nil
}

// Remove tombstones the entry. Preconditions: sid holds the write lock
// and Children is empty (§4.2); recursive deletion must remove children
// first. Tombstoned records are only ever visible within a single CAS
// cycle — external callers see absence.
func (e *StoredEntry) Remove(sid session.ID) (*StoredEntry, error) {
	if e.WriteLock == nil || !e.WriteLock.Equal(sid) {
		return nil, ErrInvalidEntryTransition
	}
	if len(e.Children) != 0 {
		return nil, ErrInvalidEntryTransition
	}
	out := e.clone()
	out.Tombstoned = true
	out.StorageVersion++
	return out, nil
}

// ForceRemove tombstones the entry without checking lock ownership,
// implementing the unlocked forced deletion used by the session
// manager's ephemeral cascade (§4.10.d step 4), which deletes ephemeral
// entries whose owning session has already died and therefore cannot
// meaningfully hold a lock.
func (e *StoredEntry) ForceRemove() *StoredEntry {
	out := e.clone()
	out.Tombstoned = true
	out.StorageVersion++
	return out
}

// ForceRemoveChild removes a child segment name without checking lock
// ownership, mirroring ForceRemove for the forced parent-detach step of
// the ephemeral cascade (§4.10.d): the cascade deletes a subtree whose
// owning session has already died, so there is no live session left to
// route the detach through the normal write-lock protocol.
func (e *StoredEntry) ForceRemoveChild(name string) *StoredEntry {
	out := e.clone()
	out.Children = withoutChild(e.Children, name)
	out.StorageVersion++
	return out
}
