package scope

import "errors"

// ErrPlanRejected indicates ValidatePlan found one or more violations.
var ErrPlanRejected = errors.New("plan rejected: scope violations")
