package cycle

import "errors"

// ErrNoProposals indicates Gather exhausted its scout retries with no
// accepted proposals surviving dedup and impact filtering.
var ErrNoProposals = errors.New("no proposals survived dedup and impact filtering")
