package sessionrec

import (
	"errors"
	"time"

	"github.com/dreamware/coordkernel/internal/path"
	"github.com/dreamware/coordkernel/internal/session"
)

// ErrInvalidSessionTransition mirrors entry.ErrInvalidEntryTransition for
// the session record's own transition set (§4.3).
var ErrInvalidSessionTransition = errors.New("sessionrec: invalid transition")

// State is the monotone lifecycle of a stored session: Alive -> Ending ->
// Ended, never backwards (§3.4).
type State string

const (
	Alive  State = "alive"
	Ending State = "ending"
	Ended  State = "ended"
)

// StoredSession is the persisted liveness record for one session (§3.4).
type StoredSession struct {
	LeaseEnd       time.Time
	Session        session.ID
	State          State
	OwnedEntries   []path.Path // ephemeral entries created by this session
	StorageVersion int64
}

func (s *StoredSession) clone() *StoredSession {
	out := *s
	out.OwnedEntries = append([]path.Path(nil), s.OwnedEntries...)
	return &out
}

// Equal reports structural equality, per the CAS contract (§6.2).
func (s *StoredSession) Equal(other *StoredSession) bool {
	if s == nil || other == nil {
		return s == other
	}
	if !s.Session.Equal(other.Session) ||
		s.State != other.State ||
		!s.LeaseEnd.Equal(other.LeaseEnd) ||
		s.StorageVersion != other.StorageVersion ||
		len(s.OwnedEntries) != len(other.OwnedEntries) {
		return false
	}
	for i := range s.OwnedEntries {
		if !s.OwnedEntries[i].Equal(other.OwnedEntries[i]) {
			return false
		}
	}
	return true
}

// Begin creates a fresh Alive session record with an empty owned-entry set.
func Begin(id session.ID, leaseEnd time.Time) *StoredSession {
	return &StoredSession{
		Session:        id,
		LeaseEnd:       leaseEnd,
		State:          Alive,
		StorageVersion: 1,
	}
}

// UpdateLease extends the lease deadline. Precondition: State is Alive
// (§4.3) — a session that has already begun ending cannot be renewed.
func (s *StoredSession) UpdateLease(leaseEnd time.Time) (*StoredSession, error) {
	if s.State != Alive {
		return nil, ErrInvalidSessionTransition
	}
	out := s.clone()
	out.LeaseEnd = leaseEnd
	out.StorageVersion++
	return out, nil
}

// AddEntry records an ephemeral entry path as owned by this session.
// Precondition: State is not Ended.
func (s *StoredSession) AddEntry(p path.Path) (*StoredSession, error) {
	if s.State == Ended {
		return nil, ErrInvalidSessionTransition
	}
	out := s.clone()
	for _, existing := range out.OwnedEntries {
		if existing.Equal(p) {
			out.StorageVersion++
			return out, nil
		}
	}
	out.OwnedEntries = append(out.OwnedEntries, p)
	out.StorageVersion++
	return out, nil
}

// RemoveEntry forgets an owned ephemeral entry path. Precondition: State
// is not Ended.
func (s *StoredSession) RemoveEntry(p path.Path) (*StoredSession, error) {
	if s.State == Ended {
		return nil, ErrInvalidSessionTransition
	}
	out := s.clone()
	filtered := make([]path.Path, 0, len(out.OwnedEntries))
	for _, existing := range out.OwnedEntries {
		if !existing.Equal(p) {
			filtered = append(filtered, existing)
		}
	}
	out.OwnedEntries = filtered
	out.StorageVersion++
	return out, nil
}

// BeginEnding transitions Alive -> Ending, the first step of termination
// (§4.5): the scanner marks a session Ending before it starts tearing
// down ephemeral entries, so a concurrent scanner sees the transition
// in flight rather than racing a second cascade from scratch.
func (s *StoredSession) BeginEnding() (*StoredSession, error) {
	if s.State != Alive {
		return nil, ErrInvalidSessionTransition
	}
	out := s.clone()
	out.State = Ending
	out.StorageVersion++
	return out, nil
}

// End transitions to Ended unconditionally, clearing OwnedEntries
// (§4.3: Ended implies an empty owned set). Any state may transition to
// Ended, since both the owning session's own renewal failure and a
// peer's termination scanner may need to force it.
func (s *StoredSession) End() *StoredSession {
	out := s.clone()
	out.State = Ended
	out.OwnedEntries = nil
	out.StorageVersion++
	return out
}

// IsEnded is the derived read described in §4.3: true once State is
// Ended, or once State is Alive but the lease (plus grace) has expired.
// This is intentionally not itself a transition — it is what lets any
// observer notice a dead session without having written anything yet.
func (s *StoredSession) IsEnded(now time.Time, grace time.Duration) bool {
	if s.State == Ended {
		return true
	}
	return s.State == Alive && s.LeaseEnd.Add(grace).Before(now)
}
