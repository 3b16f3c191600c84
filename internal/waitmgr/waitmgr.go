package waitmgr

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
	"github.com/dreamware/coordkernel/internal/store"
)

// ErrCancelled is returned when a wait is abandoned via its context
// before its precondition was satisfied. No entry state is modified
// (§5, Cancellation).
var ErrCancelled = errors.New("waitmgr: cancelled")

const defaultTimeout = 15 * time.Second

// Manager is the local waiter registry and notification fan-out for
// one coordination-manager instance (§4.8). It holds no store state of
// its own; it only arbitrates in-process wakeups.
type Manager struct {
	mu             sync.Mutex
	channels       map[string]chan struct{} // escaped path -> broadcast channel
	pendingWriters map[string]int           // escaped path -> count of in-flight write waiters
	timeout        time.Duration
	log            *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides the wakeup-recheck interval. Per §4.8 this
// should be lease_length / 4.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithLogger overrides the manager's logger (default: no-op).
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager constructs an empty wait manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		channels:       make(map[string]chan struct{}),
		pendingWriters: make(map[string]int),
		timeout:        defaultTimeout,
		log:            zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) subscribe(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[key]
	if !ok {
		ch = make(chan struct{})
		m.channels[key] = ch
	}
	return ch
}

func (m *Manager) broadcast(key string) {
	m.mu.Lock()
	ch, ok := m.channels[key]
	if ok {
		delete(m.channels, key)
	}
	m.mu.Unlock()
	if ok {
		close(ch)
	}
}

// NotifyWriteLockRelease wakes any waiters registered on p after a
// successful write-lock release CAS. releaser is recorded only for
// logging; the channel itself carries no payload.
func (m *Manager) NotifyWriteLockRelease(p path.Path, releaser session.ID) {
	m.log.Debug("write lock release", zap.String("path", p.String()), zap.String("releaser", releaser.Compact()))
	m.broadcast(p.Escaped())
}

// NotifyReadLockRelease wakes any waiters registered on p after a
// successful read-lock release CAS.
func (m *Manager) NotifyReadLockRelease(p path.Path, releaser session.ID) {
	m.log.Debug("read lock release", zap.String("path", p.String()), zap.String("releaser", releaser.Compact()))
	m.broadcast(p.Escaped())
}

// HasPendingWriter reports whether a write waiter is currently
// registered for p, used by internal/lockmgr to implement writer
// preference (§4.6).
func (m *Manager) HasPendingWriter(p path.Path) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingWriters[p.Escaped()] > 0
}

func (m *Manager) registerWriter(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingWriters[key]++
}

func (m *Manager) unregisterWriter(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingWriters[key]--
	if m.pendingWriters[key] <= 0 {
		delete(m.pendingWriters, key)
	}
}

func writeLockSatisfied(e *entry.StoredEntry, self session.ID, allowIfHeldBySelf bool) bool {
	if e == nil || e.WriteLock == nil {
		return true
	}
	return allowIfHeldBySelf && e.WriteLock.Equal(self)
}

func readLocksSatisfied(e *entry.StoredEntry, self session.ID) bool {
	if e == nil {
		return true
	}
	for _, r := range e.ReadLocks {
		if !r.Equal(self) {
			return false
		}
	}
	return true
}

func (m *Manager) wait(ctx context.Context, key string, ch chan struct{}) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-ch:
		return nil
	case <-time.After(m.timeout):
		return nil
	}
}

// WaitForWriteLockRelease suspends until the write lock on p appears
// released (or is held by self, if allowIfHeldBySelf), re-reading the
// entry from es after each wakeup. last is the caller's most recently
// observed snapshot and is returned immediately without suspending if
// it already satisfies the precondition.
func (m *Manager) WaitForWriteLockRelease(ctx context.Context, es store.EntryStore, p path.Path, last *entry.StoredEntry, self session.ID, allowIfHeldBySelf bool) (*entry.StoredEntry, error) {
	key := p.Escaped()
	if writeLockSatisfied(last, self, allowIfHeldBySelf) {
		return last, nil
	}
	m.registerWriter(key)
	defer m.unregisterWriter(key)

	for {
		ch := m.subscribe(key)
		if err := m.wait(ctx, key, ch); err != nil {
			return nil, err
		}
		fresh, err := es.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if writeLockSatisfied(fresh, self, allowIfHeldBySelf) {
			return fresh, nil
		}
		last = fresh
	}
}

// WaitForReadLocksRelease suspends until the entry at p carries no
// read locks other than self's, re-reading from es after each wakeup.
func (m *Manager) WaitForReadLocksRelease(ctx context.Context, es store.EntryStore, p path.Path, last *entry.StoredEntry, self session.ID) (*entry.StoredEntry, error) {
	key := p.Escaped()
	if readLocksSatisfied(last, self) {
		return last, nil
	}

	for {
		ch := m.subscribe(key)
		if err := m.wait(ctx, key, ch); err != nil {
			return nil, err
		}
		fresh, err := es.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if readLocksSatisfied(fresh, self) {
			return fresh, nil
		}
		last = fresh
	}
}
