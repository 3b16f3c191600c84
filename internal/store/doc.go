// Package store defines the external, linearizable compare-and-swap
// contract the coordination kernel builds on (§4.4, C5) and provides two
// concrete backends: an in-memory reference implementation for tests and
// single-process deployments, and a durable backend on top of
// github.com/dgraph-io/badger/v3 for anything that must survive a
// restart.
//
// The contract is intentionally small: Get and Update (compare-and-swap)
// per key, plus List for sessions (used by the termination scanner to
// enumerate candidates). Quorum, replication, and linearizability across
// nodes are explicitly out of scope here — §1 treats the store as an
// external collaborator and specifies only its interface.
//
// Update's CAS semantics (§4.4, §6.2): the caller passes the value it
// wants to write and the value it last observed (the "comparand"). If the
// store's current value is structurally equal to the comparand, the new
// value is committed; either way, Update returns the value that was
// current immediately before the attempt, so the caller can tell whether
// its write actually landed by comparing that returned value to its
// comparand.
package store
