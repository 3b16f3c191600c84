package sessionmgr

import "errors"

// ErrSessionTerminated is surfaced once this process's own session can
// no longer be renewed (§4.5, §7). It is fatal to the owning
// coordination-manager instance: the outer layer must create a new one
// with a fresh session, there is no automatic reconnection.
var ErrSessionTerminated = errors.New("sessionmgr: session terminated")

// errDuplicateSession is returned by Start when a record already exists
// under the new session's id on every insert attempt.
var errDuplicateSession = errors.New("sessionmgr: duplicate session")
