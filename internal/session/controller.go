package session

import (
	"context"
	"fmt"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/internal/codeindex"
	"github.com/wheelhouse-dev/wheelhouse/internal/eventlog"
	"github.com/wheelhouse-dev/wheelhouse/internal/retention"
)

// Locker is the session-lock dependency: acquire fails closed if another
// live process already holds it.
type Locker interface {
	Acquire() (LockResult, error)
	Release() error
}

// LockResult mirrors retention.AcquireResult without importing that
// package's type into this one's public surface.
type LockResult struct {
	Acquired bool
	StalePID int
}

// retentionLock adapts *retention.Lock to the Locker interface.
type retentionLock struct {
	lock *retention.Lock
}

// NewRetentionLocker wraps the on-disk PID lock at path as a Locker.
func NewRetentionLocker(path string) Locker {
	return &retentionLock{lock: retention.NewLock(path)}
}

func (r *retentionLock) Acquire() (LockResult, error) {
	res, err := r.lock.Acquire()
	if err != nil {
		return LockResult{}, err
	}
	return LockResult{Acquired: res.Acquired, StalePID: res.StalePID}, nil
}

func (r *retentionLock) Release() error {
	return r.lock.Release()
}

// CycleResult is what one cycle reports back to the controller.
type CycleResult struct {
	ProposalsAccepted int
	TicketsCompleted  int
	TicketsFailed     int
	PRsCreated        int
	MilestonePRs      int
	PRURLs            []string
	SectorsTouched    []string
	// NoProposals reports that the scout yielded no accepted proposals this
	// cycle (after retries). A run of consecutive empty cycles means the
	// session has naturally run out of work, distinct from hitting any
	// budget cap, and terminates with ReasonCompleted.
	NoProposals bool
}

// Merge folds another result (typically one ticket's contribution,
// collected after its wave settles) into r. NoProposals is cycle-level and
// deliberately not merged.
func (r *CycleResult) Merge(o CycleResult) {
	r.ProposalsAccepted += o.ProposalsAccepted
	r.TicketsCompleted += o.TicketsCompleted
	r.TicketsFailed += o.TicketsFailed
	r.PRsCreated += o.PRsCreated
	r.MilestonePRs += o.MilestonePRs
	r.PRURLs = append(r.PRURLs, o.PRURLs...)
	r.SectorsTouched = append(r.SectorsTouched, o.SectorsTouched...)
}

// CycleRunner runs exactly one cycle (scout, plan, dispatch, QA, PR) and
// reports its outcome. The controller owns the loop; the cycle owns what
// happens inside one iteration of it.
type CycleRunner func(ctx context.Context, s *Session, idx *codeindex.Index) (CycleResult, error)

// WheelHealth accumulates per-cycle outcomes into the metrics the Final
// Summary reports.
type WheelHealth struct {
	CyclesRun        int
	TicketsCompleted int
	TicketsFailed    int
	PRURLs           []string
	SectorCoverage   map[string]int // sector name -> cycles that touched it
}

func newWheelHealth() WheelHealth {
	return WheelHealth{SectorCoverage: map[string]int{}}
}

func (w *WheelHealth) record(r CycleResult) {
	w.CyclesRun++
	w.TicketsCompleted += r.TicketsCompleted
	w.TicketsFailed += r.TicketsFailed
	w.PRURLs = append(w.PRURLs, r.PRURLs...)
	for _, sector := range r.SectorsTouched {
		w.SectorCoverage[sector]++
	}
}

// Summary is the single user-visible "Final Summary" block emitted when a
// session terminates, by any reason.
type Summary struct {
	Duration          time.Duration
	Cycles            int
	SectorCoverage    map[string]int
	PRURLs            []string
	FailureCount      int
	TerminationReason TerminationReason
}

// defaultMaxConsecutiveEmptyCycles is how many cycles in a row the scout may
// yield zero accepted proposals before the session considers itself out of
// work and terminates with ReasonCompleted, rather than looping until a
// budget cap hits.
const defaultMaxConsecutiveEmptyCycles = 3

// Controller owns the outer loop: acquire the session lock, build the
// codebase index, run cycles until ShouldContinue reports a termination
// reason, then release the lock and hand back the Final Summary.
type Controller struct {
	Lock      Locker
	EventLog  *eventlog.Log
	IndexRoot string
	RunCycle  CycleRunner
	Now       func() time.Time

	// MaxConsecutiveEmptyCycles bounds how many cycles in a row may report
	// CycleResult.NoProposals before the session terminates with
	// ReasonCompleted. Zero means the default of 3.
	MaxConsecutiveEmptyCycles int
}

// NewController wires a Controller with its required dependencies. Now
// defaults to time.Now.
func NewController(lock Locker, log *eventlog.Log, indexRoot string, runCycle CycleRunner) *Controller {
	return &Controller{
		Lock:      lock,
		EventLog:  log,
		IndexRoot: indexRoot,
		RunCycle:  runCycle,
		Now:       time.Now,
	}
}

// Run drives the session from acquire to Final Summary. A failed lock
// acquire is fatal and returns immediately with no state persisted.
func (c *Controller) Run(ctx context.Context, s *Session) (Summary, error) {
	now := c.now()
	lockResult, err := c.Lock.Acquire()
	if err != nil {
		return Summary{}, fmt.Errorf("acquire session lock: %w", err)
	}
	if !lockResult.Acquired {
		return Summary{}, fmt.Errorf("session lock already held")
	}
	defer c.Lock.Release()

	idx, err := codeindex.BuildCodebaseIndex(c.IndexRoot)
	if err != nil {
		return Summary{}, fmt.Errorf("build codebase index: %w", err)
	}

	startedAt := now
	s.StartedAt = startedAt
	if err := c.EventLog.Append(eventlog.Event{
		Step: s.StepCount,
		Type: eventlog.TypeSessionStart,
		Payload: map[string]any{
			"run_mode":         string(s.RunMode),
			"delivery_mode":    string(s.DeliveryMode),
			"index_digest":     idx.Digest,
			"stale_lock_pid":   lockResult.StalePID,
			"codebase_manager": idx.Manager,
		},
	}); err != nil {
		return Summary{}, fmt.Errorf("emit SESSION_START: %w", err)
	}

	health := newWheelHealth()
	var reason TerminationReason
	consecutiveEmptyCycles := 0
	maxEmptyCycles := c.MaxConsecutiveEmptyCycles
	if maxEmptyCycles <= 0 {
		maxEmptyCycles = defaultMaxConsecutiveEmptyCycles
	}

	for {
		now = c.now()
		reason = Termination(*s, now)
		if reason != ReasonNone {
			break
		}

		result, err := c.RunCycle(ctx, s, idx)
		if err != nil {
			// A failing cycle is recorded and the session moves on; only a
			// dead context (cancellation, hard shutdown) is fatal here.
			if ctx.Err() != nil {
				return Summary{}, fmt.Errorf("run cycle %d: %w", s.CycleCount, err)
			}
			_ = c.EventLog.Append(eventlog.Event{
				Step:    s.StepCount,
				Type:    eventlog.TypeTicketFailed,
				Payload: map[string]any{"cycle": s.CycleCount, "error": err.Error()},
			})
			result = CycleResult{TicketsFailed: 1}
		}

		health.record(result)
		s.CycleCount++
		s.TotalPRsCreated += result.PRsCreated
		s.TotalMilestonePRs += result.MilestonePRs

		refreshed, err := codeindex.RefreshCodebaseIndex(idx, c.IndexRoot)
		if err != nil {
			return Summary{}, fmt.Errorf("refresh codebase index: %w", err)
		}
		idx = refreshed

		if err := c.persistState(*s, health); err != nil {
			return Summary{}, fmt.Errorf("persist session state: %w", err)
		}

		if result.NoProposals {
			consecutiveEmptyCycles++
		} else {
			consecutiveEmptyCycles = 0
		}
		if consecutiveEmptyCycles >= maxEmptyCycles {
			reason = ReasonCompleted
			break
		}
	}

	if reason == ReasonTimeBudget {
		_ = c.EventLog.Append(eventlog.Event{
			Step:    s.StepCount,
			Type:    eventlog.TypeBudgetExhausted,
			Payload: map[string]any{"budget": "time", "expires_at": s.ExpiresAt},
		})
	}

	summary := Summary{
		Duration:          c.now().Sub(startedAt),
		Cycles:            health.CyclesRun,
		SectorCoverage:    health.SectorCoverage,
		PRURLs:            health.PRURLs,
		FailureCount:      health.TicketsFailed,
		TerminationReason: reason,
	}

	if err := c.EventLog.Append(eventlog.Event{
		Step: s.StepCount,
		Type: eventlog.TypeSessionEnd,
		Payload: map[string]any{
			"termination_reason": string(reason),
			"cycles":              summary.Cycles,
			"failure_count":       summary.FailureCount,
		},
	}); err != nil {
		return summary, fmt.Errorf("emit SESSION_END: %w", err)
	}
	return summary, nil
}

func (c *Controller) persistState(s Session, health WheelHealth) error {
	return c.EventLog.WriteState(eventlog.State{
		RunID:            s.RunID,
		Step:             s.StepCount,
		Phase:            string(s.RunMode),
		TicketsCompleted: health.TicketsCompleted,
		TicketsFailed:    health.TicketsFailed,
		BudgetRemaining:  s.StepBudget - s.StepCount,
	})
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
