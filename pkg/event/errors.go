package event

import "errors"

// ErrUnknownPlugin signals an unsupported decoder plugin. It is fatal to the
// current operation and surfaced to the caller.
var ErrUnknownPlugin = errors.New("unknown decoder plugin")

// ErrSlotLimit signals that the source database already has the maximum
// number of replication slots. The connection itself is usable; only new
// analysis creation is refused.
var ErrSlotLimit = errors.New("replication slot limit reached")
