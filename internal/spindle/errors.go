package spindle

import "errors"

// ErrNoDiffHistory indicates oscillation analysis was requested with fewer
// than 2 recorded diffs.
var ErrNoDiffHistory = errors.New("insufficient diff history")
