// Package cache implements the coordination kernel's per-session client
// cache (§4.9, C9): a bounded map from path to the entry last observed
// there, an opaque invalidation token, and the strongest lock kind the
// local session currently holds.
//
// # Coherence
//
// A slot's lock_kind is None, Shared, or Exclusive. Shared and
// Exclusive slots are authoritative enough to read from directly;
// reading without holding a lock either reuses such a slot (if its
// token is still current) or falls through to a store read and
// repopulates the slot as observation-only (lock_kind None) — readable,
// but not a basis for a write's CAS comparand.
//
// Releasing a local exclusive lock does not clear the slot: it demotes
// it to observation-only so subsequent reads still have something to
// serve until the next invalidation. Invalidate bumps the slot's token;
// any Handle minted before the bump is stale and its Entry method
// reports ErrStaleCacheEntry. internal/coord invalidates a parent's slot
// after a lazy parent/child repair; waitmgr notifications and CAS
// mismatches are not routed to the cache.
//
// Capacity is bounded by an LRU policy (github.com/hashicorp/golang-lru/v2)
// so a long-lived session's cache memory does not grow without bound
// purely from observation-only traffic.
package cache
