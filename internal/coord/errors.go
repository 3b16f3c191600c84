package coord

import (
	"errors"

	"github.com/dreamware/coordkernel/internal/cache"
	"github.com/dreamware/coordkernel/internal/entry"
	"github.com/dreamware/coordkernel/internal/sessionmgr"
	"github.com/dreamware/coordkernel/internal/store"
)

// The error taxonomy of §7. Caller-facing kinds are distinct sentinels
// so callers can errors.Is against them; the internal kinds
// (StaleCacheEntry, StorageUnavailable, InvalidEntryTransition) are
// re-exported from the packages that define them rather than wrapped
// anew, since coord never constructs them itself — it only decides
// whether to retry on them.
var (
	// ErrEntryAlreadyExists is returned by Create when an entry exists
	// at the target path and mode is Default.
	ErrEntryAlreadyExists = errors.New("coord: entry already exists")

	// ErrEntryNotFound is returned by SetValue against an absent entry.
	// Delete never returns it: deleting an absent entry succeeds.
	ErrEntryNotFound = errors.New("coord: entry not found")

	// ErrEntryNotEmpty is returned by a non-recursive Delete against an
	// entry with children.
	ErrEntryNotEmpty = errors.New("coord: entry has children")

	// ErrVersionMismatch is returned by SetValue and Delete when a
	// non-zero expected version does not match the entry's version.
	ErrVersionMismatch = errors.New("coord: version mismatch")

	// ErrMalformedPath is the public malformed-path kind. Manager methods
	// take already-parsed path.Path values and never return it; a
	// malformed escape is reported by path.FromEscaped to the caller.
	ErrMalformedPath = errors.New("coord: malformed path")

	// ErrCancelled is returned when ctx is cancelled before an
	// operation commits a CAS.
	ErrCancelled = errors.New("coord: cancelled")
)

// ErrSessionTerminated is sessionmgr's sentinel, surfaced unchanged:
// once a session is terminated the coordination manager instance is
// permanently unusable and the caller must build a new one (§7).
var ErrSessionTerminated = sessionmgr.ErrSessionTerminated

// ErrStaleCacheEntry and ErrStorageUnavailable are internal per §7 and
// must never escape a public coord method; they are named here only so
// internal retry loops can errors.Is against them without importing
// cache/store directly at every call site.
var (
	ErrStaleCacheEntry    = cache.ErrStaleCacheEntry
	ErrStorageUnavailable = store.ErrStorageUnavailable
)

// ErrInvalidEntryTransition signals a fail-stop bug (§7): a transition
// precondition coord itself should have already guaranteed was met.
var ErrInvalidEntryTransition = entry.ErrInvalidEntryTransition
