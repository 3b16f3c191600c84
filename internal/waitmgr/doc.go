// Package waitmgr implements the coordination kernel's wait/notification
// subsystem (§4.8, C8): the two blocking primitives
// WaitForWriteLockRelease and WaitForReadLocksRelease, plus the local
// publish side that internal/lockmgr and the session manager use to
// wake a waiter as soon as its precondition might now hold.
//
// # Notification model
//
// Each path has an associated broadcast channel, closed and replaced
// whenever a notification fires for that path (the close-to-broadcast
// idiom, the same one the pack's consul semaphore client uses for its
// session-renewal signal). A waiter captures the current channel,
// blocks on it (or a bounded timeout, or context cancellation), then
// re-reads the entry from the store and re-checks its precondition —
// the channel itself carries no payload, it only says "something
// changed here, look again".
//
// Timeouts are not a correctness mechanism; they exist only to bound
// how long a waiter can go without re-checking after a notification
// this package failed to observe (e.g. because the waiter subscribed
// between a competing release and its own registration). A missed
// wakeup is recovered within one timeout interval, never indefinitely.
package waitmgr
