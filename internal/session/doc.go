// Package session implements the coordination kernel's session identifier
// (§3.2): an opaque, equality-comparable value pairing a logical prefix
// with a physical transport address, plus a compact textual encoding used
// as a dictionary key in the external store and on the wire.
package session
