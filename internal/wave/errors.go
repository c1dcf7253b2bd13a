package wave

import "errors"

// ErrNoPermits indicates a wave was dispatched with zero available permits.
var ErrNoPermits = errors.New("no dispatch permits available")
