// Package eventlog appends typed run events to a per-run NDJSON log,
// maintains the overwritten-at-every-transition state snapshot, and
// assembles the budget/phase digest surfaced to callers.
package eventlog

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/wheelhouse-dev/wheelhouse/internal/store"
)

// Type is one of the event kinds the core consumes from the agent
// integration.
type Type string

const (
	TypeSessionStart      Type = "SESSION_START"
	TypeAdvanceCalled     Type = "ADVANCE_CALLED"
	TypeScoutOutput       Type = "SCOUT_OUTPUT"
	TypeProposalsReviewed Type = "PROPOSALS_REVIEWED"
	TypeTicketAssigned    Type = "TICKET_ASSIGNED"
	TypePlanSubmitted     Type = "PLAN_SUBMITTED"
	TypeTicketResult      Type = "TICKET_RESULT"
	TypeQACommandResult   Type = "QA_COMMAND_RESULT"
	TypeQAPassed          Type = "QA_PASSED"
	TypeQAFailed          Type = "QA_FAILED"
	TypePRCreated         Type = "PR_CREATED"
	TypeBudgetWarning     Type = "BUDGET_WARNING"
	TypeBudgetExhausted   Type = "BUDGET_EXHAUSTED"
	TypeSpindleWarning    Type = "SPINDLE_WARNING"
	TypeSpindleAbort      Type = "SPINDLE_ABORT"
	TypeTicketCompleted   Type = "TICKET_COMPLETED"
	TypeTicketFailed      Type = "TICKET_FAILED"
	TypeUserOverride      Type = "USER_OVERRIDE"
	TypeHintConsumed      Type = "HINT_CONSUMED"
	TypeSessionEnd        Type = "SESSION_END"
)

// Event is one line of events.ndjson. Payload is left as a raw map so every
// event type can carry its own shape without a parallel hierarchy of
// per-type structs.
type Event struct {
	ID      string         `json:"id"`
	TS      time.Time      `json:"ts"`
	Step    int            `json:"step"`
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SpindleRisk is the coarse risk bucket surfaced in a Digest.
type SpindleRisk string

const (
	SpindleRiskNone   SpindleRisk = "none"
	SpindleRiskLow    SpindleRisk = "low"
	SpindleRiskMedium SpindleRisk = "medium"
	SpindleRiskHigh   SpindleRisk = "high"
)

// State is the run's current snapshot, overwritten wholesale at every
// transition (runs/<run_id>/state.json).
type State struct {
	RunID               string      `json:"run_id"`
	Step                int         `json:"step"`
	Phase               string      `json:"phase"`
	TicketsCompleted    int         `json:"tickets_completed"`
	TicketsFailed       int         `json:"tickets_failed"`
	BudgetRemaining     int         `json:"budget_remaining"`
	TicketBudgetRemaining int       `json:"ticket_budget_remaining"`
	SpindleRisk         SpindleRisk `json:"spindle_risk"`
	TimeRemainingMS     int64       `json:"time_remaining_ms"`
}

// Digest is the read-only view of State returned on every state query.
type Digest struct {
	Step                  int         `json:"step"`
	Phase                 string      `json:"phase"`
	TicketsCompleted      int         `json:"tickets_completed"`
	TicketsFailed         int         `json:"tickets_failed"`
	BudgetRemaining       int         `json:"budget_remaining"`
	TicketBudgetRemaining int         `json:"ticket_budget_remaining"`
	SpindleRisk           SpindleRisk `json:"spindle_risk"`
	TimeRemainingMS       int64       `json:"time_remaining_ms"`
}

// BuildDigest projects a State into its externally-visible Digest.
func BuildDigest(s State) Digest {
	return Digest{
		Step:                  s.Step,
		Phase:                 s.Phase,
		TicketsCompleted:      s.TicketsCompleted,
		TicketsFailed:         s.TicketsFailed,
		BudgetRemaining:       s.BudgetRemaining,
		TicketBudgetRemaining: s.TicketBudgetRemaining,
		SpindleRisk:           s.SpindleRisk,
		TimeRemainingMS:       s.TimeRemainingMS,
	}
}

// SpindleRiskFromSignal buckets a loop-detector outcome into the coarse
// risk level surfaced in a Digest.
func SpindleRiskFromSignal(shouldAbort, shouldBlock bool, confidence float64) SpindleRisk {
	switch {
	case shouldAbort:
		return SpindleRiskHigh
	case shouldBlock:
		return SpindleRiskMedium
	case confidence >= 0.5:
		return SpindleRiskLow
	default:
		return SpindleRiskNone
	}
}

// Log appends events and maintains the state snapshot for one run folder.
type Log struct {
	runDir     string
	eventsPath string
	statePath  string
}

// NewLog returns a Log rooted at <stateDir>/runs/<runID>, creating the run
// folder if it does not already exist. A failure to create it here surfaces
// later, on the first Append or WriteState call, rather than as a
// constructor error every caller would have to check.
func NewLog(stateDir, runID string) *Log {
	runDir := filepath.Join(stateDir, "runs", runID)
	_ = os.MkdirAll(runDir, 0755)
	return &Log{
		runDir:     runDir,
		eventsPath: filepath.Join(runDir, "events.ndjson"),
		statePath:  filepath.Join(runDir, "state.json"),
	}
}

// RunDir returns the run folder root.
func (l *Log) RunDir() string { return l.runDir }

// Append writes one event to events.ndjson, stamping it with an id and
// timestamp if not already set.
func (l *Log) Append(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	return store.AppendNDJSON(l.eventsPath, ev)
}

// WriteState overwrites state.json with the current snapshot.
func (l *Log) WriteState(s State) error {
	return store.WriteJSON(l.statePath, s)
}

// ReadState reads the current state.json snapshot, if any.
func (l *Log) ReadState() (State, bool, error) {
	var s State
	ok, err := store.ReadJSON(l.statePath, &s)
	return s, ok, err
}
