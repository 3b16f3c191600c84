package cache

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
)

// ErrStaleCacheEntry is returned by a Handle whose token no longer
// matches the slot it was minted from: an Invalidate, Observe or
// PutLocked on that path, or an eviction, has happened since. Per §7
// this is internal and must not leak through the coordination
// manager's public API — callers catch it and retry against a fresh
// read.
var ErrStaleCacheEntry = errors.New("cache: stale cache entry")

// LockKind records the strongest lock the local session currently
// holds on a cached entry.
type LockKind int

const (
	// LockNone means the slot is observation-only: readable, but not a
	// valid CAS comparand for a write.
	LockNone LockKind = iota
	// LockShared means the local session holds a read lock.
	LockShared
	// LockExclusive means the local session holds the write lock.
	LockExclusive
)

func (k LockKind) String() string {
	switch k {
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	default:
		return "none"
	}
}

type slot struct {
	entry    *entry.StoredEntry
	token    uint64
	lockKind LockKind
}

// Cache is a bounded, coherent, per-session map from path to the last
// observed stored entry there (§4.9).
type Cache struct {
	mu   sync.Mutex
	lru  *lru.Cache[string, *slot]
	next uint64
}

// New constructs a Cache holding at most capacity slots, evicting the
// least recently used entry once full.
func New(capacity int) (*Cache, error) {
	l, err := lru.New[string, *slot](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Handle is a token-stamped view into one cache slot, minted by Get,
// Observe, or PutLocked. Its Entry method fails once the slot has been
// invalidated since the handle was minted.
type Handle struct {
	cache *Cache
	path  path.Path
	token uint64
	kind  LockKind
}

// Path returns the path this handle refers to.
func (h *Handle) Path() path.Path { return h.path }

// LockKind returns the lock kind recorded when the handle was minted.
func (h *Handle) LockKind() LockKind { return h.kind }

// Token returns the invalidation token the handle was minted with, for
// callers that need to pass it through to a later freshness check.
func (h *Handle) Token() uint64 { return h.token }

// Entry returns the cached entry, or ErrStaleCacheEntry if an
// invalidation has bumped the slot's token since this handle was
// minted.
func (h *Handle) Entry() (*entry.StoredEntry, error) {
	h.cache.mu.Lock()
	defer h.cache.mu.Unlock()
	s, ok := h.cache.lru.Get(h.path.Escaped())
	if !ok || s.token != h.token {
		return nil, ErrStaleCacheEntry
	}
	return s.entry, nil
}

func (c *Cache) nextToken() uint64 {
	c.next++
	return c.next
}

// Observe populates or refreshes the slot at p with e as an
// observation-only read (lock_kind None): safe to read, not a valid
// write comparand.
func (c *Cache) Observe(p path.Path, e *entry.StoredEntry) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := c.nextToken()
	c.lru.Add(p.Escaped(), &slot{entry: e, token: tok, lockKind: LockNone})
	return &Handle{cache: c, path: p, token: tok, kind: LockNone}
}

// PutLocked populates or refreshes the slot at p with e, recording
// that the local session holds kind on it (Shared or Exclusive).
func (c *Cache) PutLocked(p path.Path, e *entry.StoredEntry, kind LockKind) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := c.nextToken()
	c.lru.Add(p.Escaped(), &slot{entry: e, token: tok, lockKind: kind})
	return &Handle{cache: c, path: p, token: tok, kind: kind}
}

// Get returns the current handle for p if a slot exists, without
// minting a new token. The caller should check LockKind to decide
// whether the slot is authoritative enough for its purpose.
func (c *Cache) Get(p path.Path) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lru.Get(p.Escaped())
	if !ok {
		return nil, false
	}
	return &Handle{cache: c, path: p, token: s.token, kind: s.lockKind}, true
}

// DowngradeToObservationOnly demotes the slot at p to lock_kind None
// after the local exclusive lock on it is released, leaving the last
// observed value in place for subsequent observation-only reads
// (§4.9: "the slot remains populated ... until the next external
// invalidation"). It is a no-op if no slot exists.
func (c *Cache) DowngradeToObservationOnly(p path.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lru.Get(p.Escaped())
	if !ok {
		return
	}
	s.lockKind = LockNone
}

// Invalidate bumps the token for p's slot, so any outstanding Handle
// minted before this call is now stale. internal/coord calls it after a
// lazy parent/child repair CAS on the parent; waitmgr notifications and
// CAS mismatches do not call it.
func (c *Cache) Invalidate(p path.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lru.Get(p.Escaped())
	if !ok {
		return
	}
	s.token = c.nextToken()
	s.lockKind = LockNone
}

// Evict removes the slot for p outright, used when an entry is known
// deleted.
func (c *Cache) Evict(p path.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(p.Escaped())
}
