// Package cycle implements the per-cycle planner: formula selection via a
// UCB1 bandit, docs-audit cadence with backoff, category allow/block
// derivation, and scout-proposal gathering with deduplication.
package cycle

import "math"

// Formula is one of the active-formula choices the bandit selects between.
type Formula string

const (
	FormulaDefault   Formula = "default"
	FormulaDeep      Formula = "deep"
	FormulaDocsAudit Formula = "docs-audit"
)

// FormulaStats tracks per-formula bandit statistics, persisted across
// cycles.
type FormulaStats struct {
	Pulls      int
	SuccessSum float64
}

// BanditState holds per-formula stats for the two bandit arms.
type BanditState struct {
	Default FormulaStats
	Deep    FormulaStats
}

// SelectFormula chooses the active formula for a cycle. A pinned formula
// always wins. Otherwise a UCB1 bandit picks between default and deep,
// subject to a hard guarantee that deep runs at least once every 7 cycles
// in continuous mode (outside warm-up and cool-down).
func SelectFormula(pinned Formula, state BanditState, cycleIndex int, cyclesSinceDeep int, warmingUp bool, coolingDown bool) Formula {
	if pinned != "" {
		return pinned
	}
	if !warmingUp && !coolingDown && cyclesSinceDeep >= 7 {
		return FormulaDeep
	}
	if state.Default.Pulls == 0 {
		return FormulaDefault
	}
	if state.Deep.Pulls == 0 {
		return FormulaDeep
	}

	total := state.Default.Pulls + state.Deep.Pulls
	if ucb1Score(state.Default, total) >= ucb1Score(state.Deep, total) {
		return FormulaDefault
	}
	return FormulaDeep
}

func ucb1Score(s FormulaStats, totalPulls int) float64 {
	mean := s.SuccessSum / float64(s.Pulls)
	exploration := math.Sqrt(2 * math.Log(float64(totalPulls)) / float64(s.Pulls))
	return mean + exploration
}

// RecordOutcome updates bandit stats after a cycle ran formula f with the
// given success signal (1.0 success, 0.0 failure, or any value in between
// for a partial-credit signal).
func RecordOutcome(state BanditState, f Formula, success float64) BanditState {
	switch f {
	case FormulaDefault:
		state.Default.Pulls++
		state.Default.SuccessSum += success
	case FormulaDeep:
		state.Deep.Pulls++
		state.Deep.SuccessSum += success
	}
	return state
}

// DocsAuditCadence tracks the docs-audit formula's run interval and backoff.
type DocsAuditCadence struct {
	IntervalCycles   int // default 3
	BackoffCycles    int // 10, once backed off
	ConsecutiveEmpty int
	LastRunCycle     int
}

// DefaultDocsAuditCadence returns the documented defaults.
func DefaultDocsAuditCadence() DocsAuditCadence {
	return DocsAuditCadence{IntervalCycles: 3, BackoffCycles: 10, LastRunCycle: -1}
}

// ShouldRunDocsAudit reports whether cycleIndex is due for a docs-audit run.
func ShouldRunDocsAudit(cadence DocsAuditCadence, cycleIndex int) bool {
	interval := cadence.IntervalCycles
	if cadence.ConsecutiveEmpty >= 3 {
		interval = cadence.BackoffCycles
	}
	if cadence.LastRunCycle < 0 {
		return cycleIndex >= interval
	}
	return cycleIndex-cadence.LastRunCycle >= interval
}

// RecordDocsAuditRun updates cadence after a docs-audit run, tracking
// consecutive empty runs for the backoff rule.
func RecordDocsAuditRun(cadence DocsAuditCadence, cycleIndex int, proposalsFound int) DocsAuditCadence {
	cadence.LastRunCycle = cycleIndex
	if proposalsFound == 0 {
		cadence.ConsecutiveEmpty++
	} else {
		cadence.ConsecutiveEmpty = 0
	}
	return cadence
}

// CategoryPolicy is the derived allow/block category lists for a cycle.
type CategoryPolicy struct {
	Allow []string
	Block []string
}

// coolDownAllow/coolDownBlock are the fixed lists applied during cool-down.
var (
	coolDownAllow = []string{"docs", "cleanup", "types"}
	coolDownBlock = []string{"deps", "auth", "config", "migration"}
)

// DeriveCategoryPolicy derives allow/block category lists from the active
// formula and flags. Cool-down phase always restricts to the fixed
// coolDownAllow/coolDownBlock lists regardless of formula or flags.
func DeriveCategoryPolicy(formula Formula, coolingDown bool, flagAllow, flagBlock []string) CategoryPolicy {
	if coolingDown {
		return CategoryPolicy{Allow: append([]string{}, coolDownAllow...), Block: append([]string{}, coolDownBlock...)}
	}
	policy := CategoryPolicy{Allow: append([]string{}, flagAllow...), Block: append([]string{}, flagBlock...)}
	if formula == FormulaDocsAudit {
		policy.Allow = append(policy.Allow, "docs")
	}
	return policy
}
