// Package coordhttp exposes a coord.Manager over HTTP/JSON, implementing
// the narrow external surface of §6.1: create, get_or_create, get,
// set_value, delete, and get_session.
//
// # Overview
//
// coordhttp is the wire boundary of the coordination kernel. It does not
// implement any coordination semantics itself — every request is a thin
// JSON decode, a call into a *coord.Manager, and a JSON encode of the
// result. All namespace, locking, session, and caching behavior lives in
// internal/coord and the packages it composes.
//
// # Protocol
//
// Every entry operation is addressed by its escaped path (internal/path's
// escape scheme) in the URL, under the /v1/entries/ prefix:
//
//	POST   /v1/entries/{path}          create (ephemeral=false in body)
//	POST   /v1/entries/{path}?get_or_create=true
//	GET    /v1/entries/{path}
//	PUT    /v1/entries/{path}          set_value
//	DELETE /v1/entries/{path}
//	GET    /v1/session
//
// Request and response bodies are JSON; see types.go for the exact
// shapes. Entry values travel as base64 inside the JSON envelope (Go's
// encoding/json does this automatically for []byte fields).
//
// # Error mapping
//
// coord's §7 caller-facing errors map to HTTP status codes in server.go:
// EntryAlreadyExists to 409, EntryNotFound to 404, EntryNotEmpty to 409,
// VersionMismatch to 412, MalformedPath to 400, SessionTerminated to 410,
// Cancelled to 499, and anything else (including the internal-only errors, which must
// never reach a client un-mapped) to 500.
//
// # Client
//
// Client wraps the same PostJSON/GetJSON request helpers used by every
// HTTP caller in this codebase, giving cmd/coordctl and integration
// tests a thin Go binding instead of hand-rolled HTTP calls.
package coordhttp
