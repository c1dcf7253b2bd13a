package ticket

import "errors"

// ErrUnknownPhase indicates a worker's Phase value does not match any
// defined Phase constant.
var ErrUnknownPhase = errors.New("unknown ticket phase")
