package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/codeindex"
	"github.com/wheelhouse-dev/wheelhouse/internal/cycle"
	"github.com/wheelhouse-dev/wheelhouse/internal/eventlog"
	"github.com/wheelhouse-dev/wheelhouse/internal/goalmeasure"
	"github.com/wheelhouse-dev/wheelhouse/internal/learnings"
	"github.com/wheelhouse-dev/wheelhouse/internal/retention"
	"github.com/wheelhouse-dev/wheelhouse/internal/scope"
	"github.com/wheelhouse-dev/wheelhouse/internal/session"
	"github.com/wheelhouse-dev/wheelhouse/internal/wave"
	"github.com/wheelhouse-dev/wheelhouse/internal/worktree"
)

var (
	autoScope         string
	autoMaxPRs        int
	autoMinConfidence float64
	autoAggressive    bool
	autoNoDraft       bool
	autoYes           bool
	autoMinutes       int
	autoHours         int
	autoContinuous    bool
	autoBranch        string
	autoParallel      int
	autoFormula       string
	autoDeep          bool
	autoBatchSize     int
	autoScoutCmd      string
	autoReviewCmd     string
	autoAgentCmd      string
)

var autoCmd = &cobra.Command{
	Use:   "auto [ci|work|default]",
	Short: "Run autonomous cycles until a budget is exhausted",
	Long: `Run wheelhouse's autonomous loop: scout proposals, schedule them into
conflict-free waves, and drive each through plan/execute/QA/PR until a
step, PR, cycle, or time budget is hit, or the run is shut down.

Modes:
  default   interactive-adjacent: honors --yes for unattended confirmation
  work      delivery via draft PRs (unless --no-draft)
  ci        direct delivery, no PRs, intended for scheduled pipelines`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuto,
}

func init() {
	autoCmd.Flags().StringVar(&autoScope, "scope", "", "Restrict proposals to files matching this glob")
	autoCmd.Flags().IntVar(&autoMaxPRs, "max-prs", 0, "Maximum PRs this run (0 = use config default)")
	autoCmd.Flags().Float64Var(&autoMinConfidence, "min-confidence", 0, "Minimum proposal impact score to accept")
	autoCmd.Flags().BoolVar(&autoAggressive, "aggressive", false, "Relax wave conflict sensitivity to admit more parallelism")
	autoCmd.Flags().BoolVar(&autoNoDraft, "no-draft", false, "Open PRs ready-for-review instead of draft")
	autoCmd.Flags().BoolVar(&autoYes, "yes", false, "Skip interactive confirmation")
	autoCmd.Flags().IntVar(&autoMinutes, "minutes", 0, "Session time budget in minutes")
	autoCmd.Flags().IntVar(&autoHours, "hours", 0, "Session time budget in hours")
	autoCmd.Flags().BoolVar(&autoContinuous, "continuous", false, "Run with no time budget (until cycle/PR cap)")
	autoCmd.Flags().StringVar(&autoBranch, "branch", "", "Base branch for PR delivery (default: repo default branch)")
	autoCmd.Flags().IntVar(&autoParallel, "parallel", 0, "Wave parallelism (0 = use config default)")
	autoCmd.Flags().StringVar(&autoFormula, "formula", "", "Pin a cycle formula instead of bandit selection")
	autoCmd.Flags().BoolVar(&autoDeep, "deep", false, "Equivalent to --formula deep")
	autoCmd.Flags().IntVar(&autoBatchSize, "batch-size", 0, "Tickets accepted per cycle (0 = use config default)")
	autoCmd.Flags().StringVar(&autoScoutCmd, "scout-cmd", "", "External scout command; emits a JSON proposal array on stdout")
	autoCmd.Flags().StringVar(&autoReviewCmd, "review-cmd", "", "External adversarial reviewer; receives one proposal as JSON on stdin, emits the revised proposal on stdout")
	autoCmd.Flags().StringVar(&autoAgentCmd, "agent-cmd", "", "External per-ticket agent command, invoked as 'sh -c \"$cmd <ticket_id> <title>\"'")
	rootCmd.AddCommand(autoCmd)
}

func runAuto(cmd *cobra.Command, args []string) error {
	mode := "default"
	if len(args) > 0 {
		mode = args[0]
	}
	switch mode {
	case "ci", "work", "default":
	default:
		return fmt.Errorf("unknown auto mode %q (want ci, work, or default)", mode)
	}

	cfg := GetConfig()
	runID := uuid.NewString()

	maxPRs := firstNonZero(autoMaxPRs, cfg.Session.MaxPRs)
	deliveryMode := resolveDeliveryMode(mode, cfg.Session.DeliveryMode)
	prBudget := maxPRs
	if deliveryMode == session.DeliveryDirect {
		prBudget = -1 // direct mode ignores the PR cap
	}

	s := &session.Session{
		SessionID:     runID,
		RunID:         runID,
		StepBudget:    cfg.Session.StepBudget,
		MaxPRs:        maxPRs,
		MaxCycles:     cfg.Session.MaxCycles,
		RunMode:       session.RunModeAuto,
		DeliveryMode:  deliveryMode,
		MilestoneMode: cfg.Session.MilestoneMode,
		BatchSize:     firstNonZero(autoBatchSize, cfg.Session.BatchSize),
		ParallelLimit: session.ResolveParallelLimit(firstNonZero(autoParallel, cfg.Session.ParallelLimit), prBudget),
	}
	if expires := resolveExpiry(); expires != nil {
		s.ExpiresAt = expires
	}

	sensitivity := wave.SensitivityNormal
	if autoAggressive {
		sensitivity = wave.SensitivityRelaxed
	}

	pinnedFormula := cycle.Formula(autoFormula)
	if autoDeep {
		pinnedFormula = cycle.FormulaDeep
	}

	cwd, err := cwdOrDot()
	if err != nil {
		return err
	}

	log := eventlog.NewLog(cfg.StateDir, runID)
	lock := session.NewRetentionLocker(filepath.Join(cwd, cfg.StateDir, "session.pid"))

	if autoYes {
		if session.ApplyOverride(s, session.Override{SkipReview: true}) {
			_ = log.Append(eventlog.Event{
				Type:    eventlog.TypeUserOverride,
				Payload: map[string]any{"skip_review": true},
			})
		}
	}

	bandit := cycle.BanditState{}
	docsAudit := cycle.DefaultDocsAuditCadence()
	cyclesSinceDeep := 0
	milestoneTicketsLanded := 0
	recentTitles := cycle.NewRecentTitleCache(cfg.Scope.RecentTitleCacheSize)

	goals, err := goalmeasure.LoadGoals(filepath.Join(cwd, cfg.StateDir, "goals"))
	if err != nil {
		return fmt.Errorf("load goals: %w", err)
	}
	goalStatePath := filepath.Join(cwd, cfg.StateDir, "goal-state.json")

	runner := &ticketRunner{
		cfg:            cfg,
		log:            log,
		learningsStore: learnings.NewStore(filepath.Join(cwd, cfg.StateDir)),
		deliveryMode:   s.DeliveryMode,
		draftPRs:       !autoNoDraft,
	}
	if s.DeliveryMode != session.DeliveryDirect {
		runner.worktrees = worktree.NewManager(cwd, filepath.Join(cwd, cfg.StateDir, "worktrees"))
	}

	runCycle := func(ctx context.Context, s *session.Session, idx *codeindex.Index) (session.CycleResult, error) {
		warmingUp := s.CycleCount < 2
		coolingDown := inCoolDown(s)

		formula := cycle.SelectFormula(pinnedFormula, bandit, s.CycleCount, cyclesSinceDeep, warmingUp, coolingDown)
		if pinnedFormula == "" && cycle.ShouldRunDocsAudit(docsAudit, s.CycleCount) {
			formula = cycle.FormulaDocsAudit
		}
		policy := cycle.DeriveCategoryPolicy(formula, coolingDown, nil, nil)

		var review cycle.ReviewFunc
		if autoReviewCmd != "" && !s.SkipReview {
			review = reviewFunc()
		}
		proposals, err := cycle.Gather(ctx, scoutFunc(), review, cycle.GatherOptions{
			MinImpactScore:      autoMinConfidence,
			MaxScoutRetries:     2,
			RecentTitles:        recentTitles.Titles(),
			SimilarityThreshold: cfg.Scope.DedupThreshold,
		})
		if err != nil {
			if err == cycle.ErrNoProposals {
				return session.CycleResult{NoProposals: true}, nil
			}
			return session.CycleResult{}, err
		}
		_ = log.Append(eventlog.Event{
			Type:    eventlog.TypeScoutOutput,
			Payload: map[string]any{"formula": string(formula), "proposals": len(proposals)},
		})

		proposals = filterByCategoryPolicy(proposals, policy)
		if autoScope != "" {
			proposals = filterByScopeGlob(proposals, autoScope)
		}
		if len(proposals) > s.BatchSize && s.BatchSize > 0 {
			proposals = proposals[:s.BatchSize]
		}
		_ = log.Append(eventlog.Event{
			Type:    eventlog.TypeProposalsReviewed,
			Payload: map[string]any{"accepted": len(proposals)},
		})
		if formula == cycle.FormulaDocsAudit {
			docsAudit = cycle.RecordDocsAuditRun(docsAudit, s.CycleCount, len(proposals))
		}
		if len(proposals) == 0 {
			return session.CycleResult{NoProposals: true}, nil
		}
		for _, p := range proposals {
			recentTitles.Record(p.Title)
		}

		waveProposals := toWaveProposals(proposals)
		waves := wave.Partition(waveProposals, sensitivity)
		nearBoundary := s.MilestoneMode && s.BatchSize > 0 &&
			s.BatchSize-milestoneTicketsLanded%s.BatchSize <= 3
		parallelism := wave.AdaptiveParallelism(waveProposals, nearBoundary)
		if s.ParallelLimit > 0 && s.ParallelLimit < parallelism {
			parallelism = s.ParallelLimit
		}

		result := session.CycleResult{ProposalsAccepted: len(proposals)}
		for _, w := range waves {
			prRemaining := s.MaxPRs - s.TotalPRsCreated - result.PRsCreated
			if s.DeliveryMode == session.DeliveryDirect {
				prRemaining = parallelism // direct mode ignores the PR cap
			}
			permits := wave.Permits(parallelism, prRemaining)
			if permits < 1 {
				break // PR budget gone mid-cycle; later waves would overshoot the cap
			}

			// Each worker gets its own slot to write into; the shared cycle
			// result is only touched after Dispatch's wave barrier, so
			// concurrent tickets never race on it.
			idIndex := make(map[string]int, len(w))
			for i, p := range w {
				idIndex[p.ID] = i
			}
			perTicket := make([]session.CycleResult, len(w))
			outcomes, err := wave.Dispatch(ctx, w, permits, func(ctx context.Context, p wave.Proposal) error {
				tr, terr := runner.runTicket(ctx, p)
				perTicket[idIndex[p.ID]] = tr
				return terr
			})
			if err != nil {
				return result, err
			}
			for i, o := range outcomes {
				result.Merge(perTicket[i])
				if o.Err != nil && perTicket[i].TicketsCompleted+perTicket[i].TicketsFailed == 0 {
					// The worker errored before reaching a terminal record;
					// count it as a failure exactly once.
					result.TicketsFailed++
				}
			}
		}

		if s.MilestoneMode && s.BatchSize > 0 {
			milestoneTicketsLanded += result.TicketsCompleted
			for milestoneTicketsLanded >= s.BatchSize {
				milestoneTicketsLanded -= s.BatchSize
				result.MilestonePRs++
			}
		}

		if formula == cycle.FormulaDeep {
			cyclesSinceDeep = 0
		} else {
			cyclesSinceDeep++
		}
		bandit = cycle.RecordOutcome(bandit, formula, cycleSuccessSignal(result))
		recordGoalMeasurements(ctx, goals, goalStatePath, cfg.Retention.KeepGoalMeasurements)
		return result, nil
	}

	controller := session.NewController(lock, log, cwd, runCycle)
	summary, err := controller.Run(context.Background(), s)
	if err != nil {
		return fmt.Errorf("auto run: %w", err)
	}

	if stats, statsErr := loadQAStats(); statsErr == nil {
		retention.WriteQABaselineBestEffort(cfg.StateDir, stats, func(writeErr error) {
			_ = log.Append(eventlog.Event{
				Type:    eventlog.TypeBudgetWarning,
				Payload: map[string]any{"warning": "qa-baseline write failed", "error": writeErr.Error()},
			})
		})
	}

	printSummary(cmd, summary)
	if summary.TerminationReason != session.ReasonCompleted && summary.FailureCount > 0 {
		return fmt.Errorf("run ended with %d failed tickets", summary.FailureCount)
	}
	return nil
}

func scoutFunc() cycle.ScoutFunc {
	return func(ctx context.Context) ([]cycle.Proposal, error) {
		if autoScoutCmd == "" {
			return nil, cycle.ErrNoProposals
		}
		out, err := exec.CommandContext(ctx, "sh", "-c", autoScoutCmd).Output()
		if err != nil {
			return nil, fmt.Errorf("run scout command: %w", err)
		}
		var proposals []cycle.Proposal
		if err := json.Unmarshal(out, &proposals); err != nil {
			return nil, fmt.Errorf("parse scout output: %w", err)
		}
		return proposals, nil
	}
}

// reviewFunc pipes one proposal through the external adversarial reviewer:
// the proposal goes in as JSON on stdin, the (possibly re-scored) proposal
// comes back on stdout. A reviewer that cannot be run or emits garbage
// fails the review pass; Gather surfaces that as a cycle error.
func reviewFunc() cycle.ReviewFunc {
	return func(ctx context.Context, p cycle.Proposal) (cycle.Proposal, error) {
		input, err := json.Marshal(p)
		if err != nil {
			return p, err
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", autoReviewCmd)
		cmd.Stdin = strings.NewReader(string(input))
		out, err := cmd.Output()
		if err != nil {
			return p, fmt.Errorf("run review command: %w", err)
		}
		var revised cycle.Proposal
		if err := json.Unmarshal(out, &revised); err != nil {
			return p, fmt.Errorf("parse review output: %w", err)
		}
		return revised, nil
	}
}

func filterByCategoryPolicy(proposals []cycle.Proposal, policy cycle.CategoryPolicy) []cycle.Proposal {
	if len(policy.Allow) == 0 && len(policy.Block) == 0 {
		return proposals
	}
	blocked := map[string]bool{}
	for _, c := range policy.Block {
		blocked[c] = true
	}
	allowed := map[string]bool{}
	for _, c := range policy.Allow {
		allowed[c] = true
	}
	var kept []cycle.Proposal
	for _, p := range proposals {
		if blocked[p.Category] {
			continue
		}
		if len(allowed) > 0 && !allowed[p.Category] {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// filterByScopeGlob keeps only proposals whose every file falls under the
// --scope glob; a proposal partially outside the requested scope is out of
// scope.
func filterByScopeGlob(proposals []cycle.Proposal, glob string) []cycle.Proposal {
	var kept []cycle.Proposal
	for _, p := range proposals {
		inScope := len(p.Files) > 0
		for _, f := range p.Files {
			if !scope.MatchGlob(f, glob) {
				inScope = false
				break
			}
		}
		if inScope {
			kept = append(kept, p)
		}
	}
	return kept
}

// complexityOf buckets a proposal for the wave scheduler's adaptive
// parallelism formula: more than three touched files, or a category whose
// blast radius tends to cross package boundaries, is heavy.
func complexityOf(p cycle.Proposal) wave.Complexity {
	if len(p.Files) > 3 || p.Category == "refactor" || p.Category == "migration" {
		return wave.ComplexityHeavy
	}
	return wave.ComplexityLight
}

// recordGoalMeasurements runs every configured goal command once per cycle
// and appends the result to the on-disk ring buffer. Measurement is
// best-effort: a failing or unparseable command yields a nil value, logged
// in the ring buffer rather than aborting the cycle.
func recordGoalMeasurements(ctx context.Context, goals []goalmeasure.Goal, statePath string, keep int) {
	now := time.Now()
	for _, g := range goals {
		res := goalmeasure.Measure(ctx, g.Command)
		_ = goalmeasure.AppendMeasurement(statePath, keep, goalmeasure.Measurement{
			GoalID:    g.ID,
			Value:     res.Value,
			Err:       res.Err,
			Timestamp: now,
		})
	}
}

func toWaveProposals(proposals []cycle.Proposal) []wave.Proposal {
	out := make([]wave.Proposal, len(proposals))
	for i, p := range proposals {
		out[i] = wave.Proposal{
			ID:                   uuid.NewString(),
			Category:             p.Category,
			Files:                p.Files,
			AllowedPaths:         p.AllowedPaths,
			VerificationCommands: p.VerificationCommands,
			Complexity:           complexityOf(p),
		}
	}
	return out
}

func resolveDeliveryMode(mode, configured string) session.DeliveryMode {
	if mode == "ci" {
		return session.DeliveryDirect
	}
	switch configured {
	case "direct":
		return session.DeliveryDirect
	case "auto-merge":
		return session.DeliveryAutoMerge
	default:
		return session.DeliveryPR
	}
}

// inCoolDown reports whether the session is in its terminal cool-down
// phase: the last cycle before the cycle cap, or under ten minutes of time
// budget remaining.
func inCoolDown(s *session.Session) bool {
	if s.RunMode != session.RunModeSpin && s.MaxCycles > 0 && s.CycleCount >= s.MaxCycles-1 {
		return true
	}
	if s.ExpiresAt != nil && time.Until(*s.ExpiresAt) < 10*time.Minute {
		return true
	}
	return false
}

// cycleSuccessSignal is the bandit's per-cycle reward: the completed share
// of tickets the cycle actually ran.
func cycleSuccessSignal(r session.CycleResult) float64 {
	total := r.TicketsCompleted + r.TicketsFailed
	if total == 0 {
		return 0
	}
	return float64(r.TicketsCompleted) / float64(total)
}

func resolveExpiry() *time.Time {
	if autoContinuous {
		return nil
	}
	minutes := autoMinutes + autoHours*60
	if minutes <= 0 {
		return nil
	}
	t := time.Now().Add(time.Duration(minutes) * time.Minute)
	return &t
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func cwdOrDot() (string, error) {
	cwd, err := filepath.Abs(".")
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return cwd, nil
}

func printSummary(cmd *cobra.Command, summary session.Summary) {
	if GetOutput() == "json" {
		_ = json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
		return
	}
	fmt.Printf("Final Summary\n")
	fmt.Printf("  duration:   %s\n", summary.Duration.Round(time.Second))
	fmt.Printf("  cycles:     %d\n", summary.Cycles)
	fmt.Printf("  PRs:        %s\n", strings.Join(summary.PRURLs, ", "))
	fmt.Printf("  failures:   %d\n", summary.FailureCount)
	fmt.Printf("  reason:     %s\n", summary.TerminationReason)
	for sector, count := range summary.SectorCoverage {
		fmt.Printf("  sector %-20s touched in %d cycle(s)\n", sector, count)
	}
}

