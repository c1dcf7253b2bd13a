package learnings

import "errors"

// ErrNoMatchingLearning indicates a critic-block lookup found nothing
// relevant for the current failure signature.
var ErrNoMatchingLearning = errors.New("no matching learning")
