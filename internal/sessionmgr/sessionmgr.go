package sessionmgr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
	"github.com/dreamware/coordkernel/internal/sessionrec"
	"github.com/dreamware/coordkernel/internal/store"
	"github.com/dreamware/coordkernel/internal/waitmgr"
)

// Config holds the timing parameters that govern lease renewal and
// termination detection (§4.5).
type Config struct {
	// LeaseLength is how far into the future a renewed lease extends.
	LeaseLength time.Duration

	// LeaseGrace is added to lease_end before any observer may declare
	// a session terminated. Defaults to LeaseLength/2 (one renewal
	// interval) if zero.
	LeaseGrace time.Duration

	// ScanInterval is how often the termination scanner sweeps the
	// session store. Defaults to LeaseLength if zero.
	ScanInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.LeaseGrace <= 0 {
		c.LeaseGrace = c.LeaseLength / 2
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = c.LeaseLength
	}
	return c
}

// Manager owns this process's session lifecycle and the shared
// termination scanner (§4.5, C6).
type Manager struct {
	entries  store.EntryStore
	sessions store.SessionStore
	waiters  *waitmgr.Manager
	cfg      Config
	log      *zap.Logger
	metrics  *metrics

	mu         sync.RWMutex
	self       session.ID
	terminated error // non-nil once this process's own session is known dead

	startOnce sync.Once
	group     *errgroup.Group
	cancel    context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the manager's logger (default: no-op).
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics registers prometheus collectors against reg. Omit to run
// without instrumentation.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.metrics = newMetrics(reg) }
}

// NewManager constructs a session manager. Start must be called before
// a session id is available.
func NewManager(entries store.EntryStore, sessions store.SessionStore, waiters *waitmgr.Manager, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		entries:  entries,
		sessions: sessions,
		waiters:  waiters,
		cfg:      cfg.withDefaults(),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start issues a fresh session rooted at prefix/physicalAddress,
// inserts it into the session store, and launches the renewal loop and
// termination scanner under ctx. It returns the assigned session id.
func (m *Manager) Start(ctx context.Context, prefix, physicalAddress []byte) (session.ID, error) {
	var sid session.ID
	for attempt := 0; attempt < 8; attempt++ {
		candidate, err := session.NewWithAddress(prefix, physicalAddress)
		if err != nil {
			return session.ID{}, err
		}
		rec := sessionrec.Begin(candidate, time.Now().Add(m.cfg.LeaseLength))
		before, err := m.sessions.Update(ctx, candidate.Compact(), rec, nil)
		if err != nil {
			return session.ID{}, err
		}
		if before == nil {
			sid = candidate
			break
		}
		// A record already exists under this id. The id is built from
		// the caller's prefix and physical address, so every attempt
		// repeats the same key; if the record is still there after the
		// last attempt, Start returns errDuplicateSession.
		if before.Session.Equal(candidate) {
			m.log.Warn("session id collision on startup, retrying", zap.String("session", candidate.Compact()))
			continue
		}
		sid = candidate
		break
	}
	if sid.IsZero() {
		return session.ID{}, errDuplicateSession
	}

	m.mu.Lock()
	m.self = sid
	m.terminated = nil
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)
	m.cancel = cancel
	m.group = group

	group.Go(func() error { return m.renewalLoop(runCtx) })
	group.Go(func() error { return m.scanLoop(runCtx) })

	return sid, nil
}

// Stop cancels the renewal loop and termination scanner and waits for
// them to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.group != nil {
		_ = m.group.Wait()
	}
}

// Self returns the session id assigned by Start.
func (m *Manager) Self() session.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self
}

// Terminated reports whether this process's own session is known dead,
// returning the terminal error if so (§7: SessionTerminated).
func (m *Manager) Terminated() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terminated
}

func (m *Manager) markTerminated(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated == nil {
		m.terminated = err
	}
}

func (m *Manager) renewalLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.LeaseLength / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.renewOnce(ctx); err != nil {
				m.log.Warn("lease renewal failed", zap.Error(err))
				if m.metrics != nil {
					m.metrics.renewalFailures.Inc()
				}
				if m.isSelfPastGrace(ctx) {
					m.markTerminated(ErrSessionTerminated)
					return ErrSessionTerminated
				}
			} else if m.metrics != nil {
				m.metrics.renewals.Inc()
			}
		}
	}
}

func (m *Manager) isSelfPastGrace(ctx context.Context) bool {
	rec, err := m.sessions.Get(ctx, m.Self().Compact())
	if err != nil || rec == nil {
		return true
	}
	return rec.IsEnded(time.Now(), m.cfg.LeaseGrace)
}

func (m *Manager) renewOnce(ctx context.Context) error {
	self := m.Self()
	for attempt := 0; attempt < 8; attempt++ {
		rec, err := m.sessions.Get(ctx, self.Compact())
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrSessionTerminated
		}
		next, err := rec.UpdateLease(time.Now().Add(m.cfg.LeaseLength))
		if err != nil {
			return err
		}
		before, err := m.sessions.Update(ctx, self.Compact(), next, rec)
		if err != nil {
			return err
		}
		if before.Equal(rec) {
			return nil
		}
	}
	return errors.New("sessionmgr: exceeded retry budget renewing lease")
}

func (m *Manager) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.ScanNow(ctx)
		}
	}
}

// ScanNow runs one termination-scanner pass immediately: every session
// whose is_ended() holds and which is not yet Ended is driven through
// Ending -> Ended with its ephemeral cascade run along the way. Safe to
// call concurrently with the background scan loop and with scanners in
// other processes; every step is idempotent under CAS.
func (m *Manager) ScanNow(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.scansStarted.Inc()
	}
	all, err := m.sessions.List(ctx)
	if err != nil {
		m.log.Warn("termination scan: listing sessions failed", zap.Error(err))
		return
	}
	now := time.Now()
	for _, rec := range all {
		if rec.State == sessionrec.Ended {
			continue
		}
		if !rec.IsEnded(now, m.cfg.LeaseGrace) {
			continue
		}
		if err := m.terminate(ctx, rec.Session); err != nil {
			m.log.Warn("termination scan: terminate failed", zap.String("session", rec.Session.Compact()), zap.Error(err))
		}
	}
}

// terminate drives sid through Ending -> Ended, running the ephemeral
// cascade (§4.10.d) for each owned path.
func (m *Manager) terminate(ctx context.Context, sid session.ID) error {
	rec, err := m.sessions.Get(ctx, sid.Compact())
	if err != nil {
		return err
	}
	if rec == nil || rec.State == sessionrec.Ended {
		return nil
	}

	if rec.State != sessionrec.Ending {
		ending, err := rec.BeginEnding()
		if err != nil {
			return err
		}
		before, err := m.sessions.Update(ctx, sid.Compact(), ending, rec)
		if err != nil {
			return err
		}
		if !before.Equal(rec) {
			rec = before // another scanner raced ahead; continue from its view
		} else {
			rec = ending
		}
	}

	for _, p := range append([]path.Path(nil), rec.OwnedEntries...) {
		if err := m.cascadeOne(ctx, sid, p); err != nil {
			return err
		}
		if err := m.forgetOwnedEntry(ctx, sid, p); err != nil {
			return err
		}
	}

	return m.endSession(ctx, sid)
}

func (m *Manager) forgetOwnedEntry(ctx context.Context, sid session.ID, p path.Path) error {
	for attempt := 0; attempt < 8; attempt++ {
		rec, err := m.sessions.Get(ctx, sid.Compact())
		if err != nil {
			return err
		}
		if rec == nil || rec.State == sessionrec.Ended {
			return nil
		}
		next, err := rec.RemoveEntry(p)
		if err != nil {
			return err
		}
		before, err := m.sessions.Update(ctx, sid.Compact(), next, rec)
		if err != nil {
			return err
		}
		if before.Equal(rec) {
			return nil
		}
	}
	return errors.New("sessionmgr: exceeded retry budget forgetting owned entry")
}

func (m *Manager) addOwnedEntry(ctx context.Context, sid session.ID, p path.Path) error {
	for attempt := 0; attempt < 8; attempt++ {
		rec, err := m.sessions.Get(ctx, sid.Compact())
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrSessionTerminated
		}
		next, err := rec.AddEntry(p)
		if err != nil {
			return err
		}
		before, err := m.sessions.Update(ctx, sid.Compact(), next, rec)
		if err != nil {
			return err
		}
		if before.Equal(rec) {
			return nil
		}
	}
	return errors.New("sessionmgr: exceeded retry budget recording owned entry")
}

// RecordOwnedEntry adds p to this process's own session record's
// owned_entries set, called by internal/coord after successfully
// creating an ephemeral entry (§4.7 Create step 7).
func (m *Manager) RecordOwnedEntry(ctx context.Context, p path.Path) error {
	return m.addOwnedEntry(ctx, m.Self(), p)
}

// ForgetOwnedEntry removes p from this process's own session record's
// owned_entries set, called by internal/coord after successfully
// deleting an ephemeral entry it created (§4.7 Delete step 7).
func (m *Manager) ForgetOwnedEntry(ctx context.Context, p path.Path) error {
	return m.forgetOwnedEntry(ctx, m.Self(), p)
}

func (m *Manager) endSession(ctx context.Context, sid session.ID) error {
	for attempt := 0; attempt < 8; attempt++ {
		rec, err := m.sessions.Get(ctx, sid.Compact())
		if err != nil {
			return err
		}
		if rec == nil || rec.State == sessionrec.Ended {
			return nil
		}
		next := rec.End()
		before, err := m.sessions.Update(ctx, sid.Compact(), next, rec)
		if err != nil {
			return err
		}
		if before.Equal(rec) {
			if m.metrics != nil {
				m.metrics.sessionsEnded.Inc()
			}
			return nil
		}
	}
	return errors.New("sessionmgr: exceeded retry budget ending session")
}

// cascadeOne implements the four steps of §4.10.d for a single owned
// path: release any write/read lock sid still holds there, then, if
// the entry is ephemeral and sid created it, force-delete the subtree.
func (m *Manager) cascadeOne(ctx context.Context, sid session.ID, p path.Path) error {
	e, err := m.entries.Get(ctx, p.Escaped())
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}

	if e.WriteLock != nil && e.WriteLock.Equal(sid) {
		e, err = m.releaseCascadeWriteLock(ctx, p, sid, e)
		if err != nil {
			return err
		}
	}
	if e != nil && hasSession(e.ReadLocks, sid) {
		e, err = m.releaseCascadeReadLock(ctx, p, sid, e)
		if err != nil {
			return err
		}
	}
	if e == nil {
		return nil
	}
	if e.Ephemeral && e.CreatingSession.Equal(sid) {
		return m.forceDeleteSubtree(ctx, p)
	}
	return nil
}

func hasSession(ids []session.ID, sid session.ID) bool {
	for _, id := range ids {
		if id.Equal(sid) {
			return true
		}
	}
	return false
}

func (m *Manager) releaseCascadeWriteLock(ctx context.Context, p path.Path, sid session.ID, e *entry.StoredEntry) (*entry.StoredEntry, error) {
	for attempt := 0; attempt < 8; attempt++ {
		next, err := e.ReleaseWriteLock(sid)
		if err != nil {
			return e, nil // already released by a racing scanner
		}
		before, err := m.entries.Update(ctx, p.Escaped(), next, e)
		if err != nil {
			return nil, err
		}
		if before.Equal(e) {
			m.waiters.NotifyWriteLockRelease(p, sid)
			return next, nil
		}
		e = before
		if e == nil || e.WriteLock == nil || !e.WriteLock.Equal(sid) {
			return e, nil
		}
	}
	return nil, errors.New("sessionmgr: exceeded retry budget releasing cascade write lock")
}

func (m *Manager) releaseCascadeReadLock(ctx context.Context, p path.Path, sid session.ID, e *entry.StoredEntry) (*entry.StoredEntry, error) {
	for attempt := 0; attempt < 8; attempt++ {
		next, err := e.ReleaseReadLock(sid)
		if err != nil {
			return e, nil
		}
		before, err := m.entries.Update(ctx, p.Escaped(), next, e)
		if err != nil {
			return nil, err
		}
		if before.Equal(e) {
			m.waiters.NotifyReadLockRelease(p, sid)
			return next, nil
		}
		e = before
		if e == nil || !hasSession(e.ReadLocks, sid) {
			return e, nil
		}
	}
	return nil, errors.New("sessionmgr: exceeded retry budget releasing cascade read lock")
}

// forceDeleteSubtree recursively removes the entry at p and everything
// beneath it, then detaches p's name from its parent's children — all
// without acquiring any lock, per §4.10.d step 4's forced-deletion
// protocol. Deletion is two-phase (tombstone, then physical removal)
// so a crash mid-cascade leaves a record later readers still
// recognize as "being deleted" rather than a half-updated live entry.
func (m *Manager) forceDeleteSubtree(ctx context.Context, p path.Path) error {
	e, err := m.entries.Get(ctx, p.Escaped())
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	for _, child := range append([]string(nil), e.Children...) {
		if err := m.forceDeleteSubtree(ctx, p.Child(child)); err != nil {
			return err
		}
	}

	if err := m.forceDeleteOne(ctx, p); err != nil {
		return err
	}
	if parent, ok := p.Parent(); ok {
		return m.forceDetachChild(ctx, parent, p.Name())
	}
	return nil
}

func (m *Manager) forceDeleteOne(ctx context.Context, p path.Path) error {
	for attempt := 0; attempt < 8; attempt++ {
		e, err := m.entries.Get(ctx, p.Escaped())
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		tombstoned := e.ForceRemove()
		before, err := m.entries.Update(ctx, p.Escaped(), tombstoned, e)
		if err != nil {
			return err
		}
		if !before.Equal(e) {
			continue
		}
		_, err = m.entries.Update(ctx, p.Escaped(), nil, tombstoned)
		if err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.cascadeEntries.Inc()
		}
		return nil
	}
	return errors.New("sessionmgr: exceeded retry budget force-deleting entry")
}

func (m *Manager) forceDetachChild(ctx context.Context, parent path.Path, name string) error {
	for attempt := 0; attempt < 8; attempt++ {
		e, err := m.entries.Get(ctx, parent.Escaped())
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		next := e.ForceRemoveChild(name)
		before, err := m.entries.Update(ctx, parent.Escaped(), next, e)
		if err != nil {
			return err
		}
		if before.Equal(e) {
			return nil
		}
	}
	return errors.New("sessionmgr: exceeded retry budget detaching child")
}

// IsSessionEnded implements internal/lockmgr's LivenessChecker,
// letting the lock manager reclaim a lock abandoned by a session this
// manager's scanner has observed (or will observe) as ended.
func (m *Manager) IsSessionEnded(ctx context.Context, sid session.ID) (bool, error) {
	rec, err := m.sessions.Get(ctx, sid.Compact())
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}
	return rec.IsEnded(time.Now(), m.cfg.LeaseGrace), nil
}
