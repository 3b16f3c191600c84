// Package entry implements the coordination kernel's stored-entry model
// (§3.3) and its pure transition functions (§4.2): versioned hierarchical
// nodes carrying an opaque byte value, a set of children, and at most one
// writer or any number of readers.
//
// Every transition is a pure function (old, args) -> new with no I/O; the
// caller is responsible for committing the result through the external
// store's compare-and-swap contract (internal/store) and for retrying on
// CAS mismatch. Keeping transitions pure is what makes retry-on-mismatch
// safe: re-applying a transition to a freshly read record can never
// observe partial effects of a previous, lost attempt.
//
// Tombstoning: Remove marks an entry deleted rather than returning nil,
// so that a single CAS cycle can still observe and commit the highest
// storage_version seen; external callers of the coordination manager
// never see a tombstoned record, only its absence.
package entry
