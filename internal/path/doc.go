// Package path implements the hierarchical key model used throughout the
// coordination kernel: escaping/unescaping of namespace segments and the
// parent/ancestor/child derivations that the entry state machine, lock
// manager, and client cache all build on.
//
// # Canonical form
//
// A Path is an ordered, value-typed sequence of non-empty segments. Its
// canonical string form joins escaped segments with "/", e.g. "/a/b/c";
// the empty sequence is the root, "/". Three characters are
// reserved inside a segment and escaped on the way out:
//
//	/  ->  -X
//	\  ->  -Y
//	-  ->  --
//
// Decoding reverses the mapping; a lone "-" not followed by one of
// {X, Y, -} is a malformed escape and fails the whole parse with
// ErrMalformedPath.
//
// # Value semantics
//
// Path values are immutable: Parent, Child, and ChildPath all return new
// values and never mutate the receiver. Equality is structural over the
// unescaped segment slice, not over any particular string encoding.
package path
