package eventlog

import "errors"

// ErrNoState indicates ReadState found no state.json for the run.
var ErrNoState = errors.New("no run state")
