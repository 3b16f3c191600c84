// Package lockmgr implements the coordination kernel's per-entry lock
// manager (§4.6, C7): acquiring and releasing the read/write locks
// recorded directly on a stored entry, arbitrated by the external
// store's compare-and-swap contract rather than any in-process mutex
// over the entry itself.
//
// # Protocol
//
// A lock request is a loop, not a single call:
//
//  1. Load the entry from the store.
//  2. Check the transition precondition (internal/entry's pure rules).
//  3. If forbidden, the caller must wait (ErrWouldBlock) and retry once
//     notified; this package never blocks internally.
//  4. Otherwise attempt the CAS transition. A comparand mismatch means a
//     concurrent writer raced ahead — reload and restart from step 2.
//
// Orchestrating the wait in step 3 is internal/waitmgr's job; this
// package only decides, for a given snapshot, whether a lock can be
// granted right now, and fires the release notifications that let a
// waiter's next retry succeed.
//
// # Writer preference and dead-session reclaim
//
// To avoid writer starvation, AcquireRead refuses to grant a new shared
// lock while a write waiter is registered for the same path (queried
// through a WaiterInspector), unless the caller already holds the write
// lock itself. A write_lock (or read_locks entry) held by a session
// whose liveness check reports ended is treated as already released:
// the manager strips it via CAS before evaluating the caller's request,
// so a dead holder can never block a live one indefinitely.
package lockmgr
