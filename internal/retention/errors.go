package retention

import "errors"

// ErrLockHeld indicates another live process holds the session lock.
var ErrLockHeld = errors.New("session lock held by another process")
