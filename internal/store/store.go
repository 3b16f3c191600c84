package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
	"github.com/dreamware/coordkernel/internal/sessionrec"
)

// ErrInvalidArgument is returned for CAS calls the contract rules out
// outright (§4.4): update(null, null).
var ErrInvalidArgument = errors.New("store: invalid argument")

// ErrStorageUnavailable signals a transient failure (§7); callers retry
// with backoff bounded by the lease interval before escalating to
// SessionTerminated.
var ErrStorageUnavailable = errors.New("store: storage unavailable")

// EntryStore is the external, linearizable key/value store for stored
// entries, keyed by escaped path (§6.3).
type EntryStore interface {
	// Get returns the current record for key, or nil if absent.
	Get(ctx context.Context, key string) (*entry.StoredEntry, error)

	// Update performs a compare-and-swap: if the store's current value
	// for key structurally equals comparand, newVal is committed.
	// newVal == nil deletes; comparand == nil means "key must be
	// absent". Returns the value observed immediately before the
	// attempt, regardless of whether it matched comparand.
	Update(ctx context.Context, key string, newVal, comparand *entry.StoredEntry) (*entry.StoredEntry, error)
}

// SessionStore is the external, linearizable key/value store for stored
// sessions, keyed by the session's compact textual form (§6.3).
type SessionStore interface {
	Get(ctx context.Context, key string) (*sessionrec.StoredSession, error)
	Update(ctx context.Context, key string, newVal, comparand *sessionrec.StoredSession) (*sessionrec.StoredSession, error)

	// List enumerates all sessions currently in the store, for the
	// termination scanner (§4.5). No ordering is guaranteed.
	List(ctx context.Context) ([]*sessionrec.StoredSession, error)
}

// MemoryEntryStore is an in-memory, single-process EntryStore, CAS-
// arbitrated by a mutex rather than a distributed consensus protocol —
// sufficient for tests and for a single coordination-manager instance
// acting as its own store.
type MemoryEntryStore struct {
	mu   sync.Mutex
	data map[string]*entry.StoredEntry
}

// NewMemoryEntryStore returns an empty store.
func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{data: make(map[string]*entry.StoredEntry)}
}

func (m *MemoryEntryStore) Get(_ context.Context, key string) (*entry.StoredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneEntry(m.data[key]), nil
}

func (m *MemoryEntryStore) Update(_ context.Context, key string, newVal, comparand *entry.StoredEntry) (*entry.StoredEntry, error) {
	if newVal == nil && comparand == nil {
		return nil, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.data[key]
	before := cloneEntry(current)

	if current.Equal(comparand) {
		if newVal == nil {
			delete(m.data, key)
		} else {
			m.data[key] = cloneEntry(newVal)
		}
	}
	return before, nil
}

func cloneEntry(e *entry.StoredEntry) *entry.StoredEntry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Value = append([]byte(nil), e.Value...)
	clone.Children = append([]string(nil), e.Children...)
	clone.ReadLocks = append([]session.ID(nil), e.ReadLocks...)
	if e.WriteLock != nil {
		w := *e.WriteLock
		clone.WriteLock = &w
	}
	return &clone
}

// MemorySessionStore is the session-record analogue of MemoryEntryStore.
type MemorySessionStore struct {
	mu   sync.Mutex
	data map[string]*sessionrec.StoredSession
}

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{data: make(map[string]*sessionrec.StoredSession)}
}

func (m *MemorySessionStore) Get(_ context.Context, key string) (*sessionrec.StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSession(m.data[key]), nil
}

func (m *MemorySessionStore) Update(_ context.Context, key string, newVal, comparand *sessionrec.StoredSession) (*sessionrec.StoredSession, error) {
	if newVal == nil && comparand == nil {
		return nil, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.data[key]
	before := cloneSession(current)

	if current.Equal(comparand) {
		if newVal == nil {
			delete(m.data, key)
		} else {
			m.data[key] = cloneSession(newVal)
		}
	}
	return before, nil
}

func (m *MemorySessionStore) List(_ context.Context) ([]*sessionrec.StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*sessionrec.StoredSession, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneSession(m.data[k]))
	}
	return out, nil
}

func cloneSession(s *sessionrec.StoredSession) *sessionrec.StoredSession {
	if s == nil {
		return nil
	}
	clone := *s
	clone.OwnedEntries = append([]path.Path(nil), s.OwnedEntries...)
	return &clone
}
