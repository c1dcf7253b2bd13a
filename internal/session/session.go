// Package session implements the outer session controller: session state,
// the shouldContinue termination predicate, termination-reason priority,
// and wheel-health aggregation across cycles.
package session

import "time"

// RunMode is the session's overall run strategy.
type RunMode string

const (
	RunModeAuto     RunMode = "auto"
	RunModePlanning RunMode = "planning"
	RunModeSpin     RunMode = "spin"
	RunModeWheel    RunMode = "wheel"
)

// DeliveryMode controls how a completed ticket's changes are published.
type DeliveryMode string

const (
	DeliveryDirect    DeliveryMode = "direct"
	DeliveryPR        DeliveryMode = "pr"
	DeliveryAutoMerge DeliveryMode = "auto-merge"
)

// Session is the top-level run state, persisted at every transition.
type Session struct {
	SessionID         string
	RunID             string
	ProjectID         string
	StartedAt         time.Time
	ExpiresAt         *time.Time
	StepCount         int
	StepBudget        int
	MaxPRs            int
	CycleCount        int
	MaxCycles         int
	RunMode           RunMode
	DeliveryMode      DeliveryMode
	MilestoneMode     bool
	BatchSize         int
	ShutdownRequested bool
	SkipReview        bool
	ParallelLimit     int
	TotalPRsCreated   int
	TotalMilestonePRs int
}

// TerminationReason explains why shouldContinue became false, in priority
// order for reporting: shutdown > PR cap > time budget > cycle cap >
// "completed".
type TerminationReason string

const (
	ReasonNone       TerminationReason = ""
	ReasonShutdown   TerminationReason = "shutdown"
	ReasonPRCap      TerminationReason = "pr_cap"
	ReasonTimeBudget TerminationReason = "time_budget"
	ReasonCycleCap   TerminationReason = "cycle_cap"
	ReasonCompleted  TerminationReason = "completed"
)

// ShouldContinue implements the session's termination predicate.
func ShouldContinue(s Session, now time.Time) bool {
	return Termination(s, now) == ReasonNone
}

// Termination returns the highest-priority reason the session should stop,
// or ReasonNone if it should continue.
func Termination(s Session, now time.Time) TerminationReason {
	if s.ShutdownRequested {
		return ReasonShutdown
	}
	if prCapHit(s) {
		return ReasonPRCap
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return ReasonTimeBudget
	}
	if s.RunMode != RunModeSpin && s.CycleCount >= s.MaxCycles {
		return ReasonCycleCap
	}
	return ReasonNone
}

func prCapHit(s Session) bool {
	if s.MilestoneMode {
		return s.TotalMilestonePRs >= s.MaxPRs
	}
	if s.DeliveryMode == DeliveryPR || s.DeliveryMode == DeliveryAutoMerge {
		return s.TotalPRsCreated >= s.MaxPRs
	}
	return false // direct mode ignores the PR cap
}

// Override carries operator-requested adjustments to a running session.
// Zero-valued fields are "not requested".
type Override struct {
	SkipReview      bool
	RequestShutdown bool
	RaiseMaxPRs     int
}

// ApplyOverride folds an operator override into the session, returning true
// if anything changed. A no-op override (no fields set) leaves the session
// untouched.
func ApplyOverride(s *Session, o Override) bool {
	changed := false
	if o.SkipReview && !s.SkipReview {
		s.SkipReview = true
		changed = true
	}
	if o.RequestShutdown && !s.ShutdownRequested {
		s.ShutdownRequested = true
		changed = true
	}
	if o.RaiseMaxPRs > s.MaxPRs {
		s.MaxPRs = o.RaiseMaxPRs
		changed = true
	}
	return changed
}

// ResolveParallelLimit clamps the configured parallel limit to the
// remaining PR budget and the [1,5] range.
func ResolveParallelLimit(configured, prBudgetRemaining int) int {
	n := configured
	if prBudgetRemaining >= 0 && prBudgetRemaining < n {
		n = prBudgetRemaining
	}
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	return n
}
