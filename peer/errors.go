package peer

import "github.com/pkg/errors"

// errInterrupted is returned by Send once a connection has been (or is
// being) torn down, so callers queuing a relay don't mistake a dead
// connection for a transient failure worth retrying.
var errInterrupted = errors.New("peer: connection interrupted")
