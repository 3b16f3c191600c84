// Package coord implements the coordination manager (§4.10, C10): the
// top-level API a caller actually drives. It owns one session's life
// cycle (delegating to internal/sessionmgr), serves reads from
// internal/cache with fallback to the external store, and serves writes
// by sequencing internal/lockmgr, the pure internal/entry transitions,
// a store CAS, and a cache invalidation.
//
// Create and Delete are not single CAS operations — they are multi-step
// protocols (§4.7) that are individually crash-recoverable but not
// atomic as a whole. A create that crashes between child-entry CAS and
// parent add_child leaves a parent whose children list is missing a
// name for which an entry already exists; Get repairs this lazily on
// the next read that walks through the inconsistent parent, acquiring
// the parent's write lock and calling entry.AddChild/RemoveChild the
// same way a live Create or Delete would, then releasing it.
package coord
