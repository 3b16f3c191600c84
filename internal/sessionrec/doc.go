// Package sessionrec implements the coordination kernel's stored-session
// model (§3.4) and its pure transition functions (§4.3): a lease-bounded
// liveness record tracking which ephemeral entries a session owns.
//
// As with internal/entry, every transition is a pure (old, args) -> new
// function; IsEnded is the one derived, non-transition read in the set —
// it observes whether a lease has silently expired without forcing a
// state write, which is what lets any observer (not just the owning
// session) detect and act on termination (§4.3).
package sessionrec
