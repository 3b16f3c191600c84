// Package sessionmgr implements the coordination kernel's session
// manager (§4.5, C6): issuing this process's own session, keeping its
// lease renewed, and detecting the termination of any session — self
// or peer — closely enough to purge its ephemeral footprint.
//
// # Startup
//
// Start generates a session id from a configured logical prefix and the
// transport's physical address, inserts it with SessionStore.Update
// against a nil comparand. If a record already exists under that id,
// Start repeats the insert a bounded number of times with the same id
// and then fails with a duplicate-session error; it does not generate a
// different id.
//
// # Renewal and termination
//
// Once started, a Manager runs two cooperative loops under an
// errgroup.Group, mirroring the teacher's ticker-plus-context shutdown
// idiom: a renewal loop that extends this process's own lease at
// lease_length/2, and a termination scanner that walks every session in
// the store looking for one whose lease has lapsed past its grace
// period. A scanner finding such a session drives it through
// Alive/Ending -> Ending -> Ended, running the ephemeral cascade
// (§4.10.d) for each path the session owned along the way. Multiple
// scanners — including ones on other processes — may race; every step
// is a CAS, so the race is safe, merely redundant.
package sessionmgr
