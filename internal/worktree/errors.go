package worktree

import "errors"

// ErrMergeConflict indicates a merge that could not be completed cleanly
// even after the single sequential retry.
var ErrMergeConflict = errors.New("merge conflict")
