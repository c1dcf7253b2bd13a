// Package ticket implements the per-ticket lifecycle state machine:
// PLAN -> EXECUTE -> QA -> (CROSS_QA) -> PR -> DONE, with retries, rejection
// limits, and abort/blocked terminal transitions.
package ticket

import "github.com/google/uuid"

// Phase is one state of a ticket's lifecycle.
type Phase string

const (
	PhasePlan    Phase = "PLAN"
	PhaseExecute Phase = "EXECUTE"
	PhaseQA      Phase = "QA"
	PhaseCrossQA Phase = "CROSS_QA"
	PhasePR      Phase = "PR"
	PhaseDone    Phase = "DONE"
	PhaseFailed  Phase = "FAILED"
)

// FailReason explains why a worker landed in FAILED.
type FailReason string

const (
	FailReasonBlocked    FailReason = "blocked"
	FailReasonSpindle    FailReason = "spindle"
	FailReasonBudget     FailReason = "budget"
	FailReasonPlanRisk   FailReason = "plan_risk"
	FailReasonExecuteErr FailReason = "execute_error"
)

// Config bounds a worker's retries and step budget.
type Config struct {
	MaxPlanRejections int
	MaxQARetries      int
	StepBudget        int
	CrossQAEnabled    bool
	PRsEnabled        bool
}

// DefaultConfig matches the documented transition table's bounds.
func DefaultConfig() Config {
	return Config{MaxPlanRejections: 3, MaxQARetries: 3, StepBudget: 0, CrossQAEnabled: false, PRsEnabled: true}
}

// Worker is one in-flight ticket's mini state machine. The Session
// Controller owns the map of workers by id; each worker exclusively owns
// its own fields.
type Worker struct {
	ID              string
	Phase           Phase
	PlanRequired    bool
	PlanApproved    bool
	PlanRejections  int
	QARetries       int
	ScopeExpansions int
	StepCount       int
	FailReason      FailReason
	LastQAFailure   string
}

// NewWorker returns a worker in PLAN (or EXECUTE if no plan is required).
func NewWorker(id string, planRequired bool) *Worker {
	if id == "" {
		id = uuid.NewString()
	}
	phase := PhasePlan
	if !planRequired {
		phase = PhaseExecute
	}
	return &Worker{ID: id, Phase: phase, PlanRequired: planRequired}
}

// RiskLevel mirrors the submitted plan's self-declared risk, duplicated
// locally (rather than importing internal/scope) to keep the state machine
// free of a scope-policy dependency.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskNormal   RiskLevel = "normal"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
)

// PlanSubmitted advances a worker out of PLAN given a validated (or
// rejected) plan submission.
func PlanSubmitted(w *Worker, cfg Config, valid bool, risk RiskLevel) {
	if valid && risk != RiskHigh {
		w.Phase = PhaseExecute
		w.PlanApproved = true
		return
	}
	if risk == RiskHigh {
		w.Phase = PhaseFailed
		w.FailReason = FailReasonPlanRisk
		return
	}
	w.PlanRejections++
	if w.PlanRejections >= cfg.MaxPlanRejections {
		w.Phase = PhaseFailed
		w.FailReason = FailReasonBlocked
		return
	}
	w.Phase = PhasePlan
}

// ExecuteResult advances a worker out of EXECUTE.
func ExecuteResult(w *Worker, cfg Config, success bool, hasPRURL bool, scopeExpansionRefused bool) {
	if !success || scopeExpansionRefused {
		w.Phase = PhaseFailed
		w.FailReason = FailReasonExecuteErr
		return
	}
	if hasPRURL {
		w.Phase = PhaseDone
		return
	}
	if cfg.CrossQAEnabled {
		w.Phase = PhaseCrossQA
		return
	}
	w.Phase = PhaseQA
}

// QAResult advances a worker out of QA or CROSS_QA. A CROSS_QA failure
// always returns to EXECUTE (the implementer retries), never back to
// CROSS_QA.
func QAResult(w *Worker, cfg Config, passed bool, errorSignature string) {
	if passed {
		if cfg.PRsEnabled {
			w.Phase = PhasePR
		} else {
			w.Phase = PhaseDone
		}
		return
	}
	w.LastQAFailure = errorSignature
	w.QARetries++
	if w.QARetries >= cfg.MaxQARetries {
		w.Phase = PhaseFailed
		w.FailReason = FailReasonBlocked
		return
	}
	w.Phase = PhaseExecute
}

// PRCreated advances a worker from PR to DONE.
func PRCreated(w *Worker) {
	w.Phase = PhaseDone
}

// ApplySpindleSignal forces a worker to FAILED when the loop detector fires,
// regardless of current phase.
func ApplySpindleSignal(w *Worker, shouldAbort, shouldBlock bool) bool {
	switch {
	case shouldAbort:
		w.Phase = PhaseFailed
		w.FailReason = FailReasonSpindle
		return true
	case shouldBlock:
		w.Phase = PhaseFailed
		w.FailReason = FailReasonBlocked
		return true
	default:
		return false
	}
}

// CheckStepBudget forces a worker to FAILED when its step count exceeds the
// configured per-ticket budget. A zero budget means unbounded.
func CheckStepBudget(w *Worker, cfg Config) bool {
	if cfg.StepBudget <= 0 {
		return false
	}
	if w.StepCount > cfg.StepBudget {
		w.Phase = PhaseFailed
		w.FailReason = FailReasonBudget
		return true
	}
	return false
}

// IsTerminal reports whether a worker has reached DONE or FAILED.
func IsTerminal(w *Worker) bool {
	return w.Phase == PhaseDone || w.Phase == PhaseFailed
}
