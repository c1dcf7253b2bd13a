package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wheelhouse-dev/wheelhouse/internal/config"
	"github.com/wheelhouse-dev/wheelhouse/internal/eventlog"
	"github.com/wheelhouse-dev/wheelhouse/internal/learnings"
	"github.com/wheelhouse-dev/wheelhouse/internal/scope"
	"github.com/wheelhouse-dev/wheelhouse/internal/session"
	"github.com/wheelhouse-dev/wheelhouse/internal/spindle"
	"github.com/wheelhouse-dev/wheelhouse/internal/store"
	"github.com/wheelhouse-dev/wheelhouse/internal/ticket"
	"github.com/wheelhouse-dev/wheelhouse/internal/trace"
	"github.com/wheelhouse-dev/wheelhouse/internal/wave"
	"github.com/wheelhouse-dev/wheelhouse/internal/worktree"
)

// verificationTimeout bounds a single QA verification command, matching the
// same default the qa command itself uses.
const verificationTimeout = 30 * time.Second

// ticketRunner holds the per-session dependencies a ticket needs beyond the
// proposal itself: the learnings snapshot feeding adaptive trust and the
// critic block, and an optional worktree manager when delivery isolates
// each ticket onto its own branch.
type ticketRunner struct {
	cfg            *config.Config
	log            *eventlog.Log
	learningsStore *learnings.Store
	worktrees      *worktree.Manager // nil for direct, same-tree delivery
	deliveryMode   session.DeliveryMode
	draftPRs       bool
}

// agentInvocation is one EXECUTE iteration's outcome.
type agentInvocation struct {
	success        bool
	output         string
	diff           string
	prURL          string
	commandFailure *spindle.CommandFailure
	traceEvents    []trace.RawEvent
	timestamps     []time.Time
	structured     bool
}

// runTicket drives one accepted proposal through the full ticket state
// machine: scope policy derivation and plan validation, an EXECUTE/QA loop
// guarded by the spindle loop detector and credential screening, optional
// worktree isolation for PR/milestone delivery, and learnings capture on
// the terminal outcome. The ticket's contribution to the cycle comes back
// as a value the caller merges after the wave barrier: concurrent workers
// never share a result.
func (r *ticketRunner) runTicket(ctx context.Context, p wave.Proposal) (session.CycleResult, error) {
	var result session.CycleResult
	fragile, recentSignatures := r.fragileLearnings()
	trust := scope.AssessTrust(p.AllowedPaths, fragile)
	policy := scope.DerivePolicy(scope.Inputs{
		Category:     p.Category,
		StateDir:     r.cfg.StateDir,
		AllowedPaths: p.AllowedPaths,
		MaxLinesBase: r.cfg.Session.MaxLinesPerTk,
		Trust:        trust,
	})

	w := ticket.NewWorker(p.ID, policy.PlanRequired)
	ticketCfg := ticket.DefaultConfig()
	ticketCfg.PRsEnabled = r.deliveryMode != session.DeliveryDirect

	if err := r.log.Append(eventlog.Event{
		Type:    eventlog.TypeTicketAssigned,
		Payload: map[string]any{"ticket_id": p.ID, "category": p.Category, "trust": string(trust)},
	}); err != nil {
		return result, fmt.Errorf("emit TICKET_ASSIGNED: %w", err)
	}

	if dryRun {
		result.TicketsCompleted++
		result.SectorsTouched = append(result.SectorsTouched, sectorsOf(p)...)
		return result, nil
	}

	if w.Phase == ticket.PhasePlan {
		plan := scope.Plan{Files: p.Files, EstimatedLines: estimatedLines(p), RiskLevel: scope.RiskNormal}
		vr := scope.ValidatePlan(plan, policy)
		if err := r.log.Append(eventlog.Event{
			Type:    eventlog.TypePlanSubmitted,
			Payload: map[string]any{"ticket_id": p.ID, "valid": vr.Valid, "violations": vr.Violations},
		}); err != nil {
			return result, fmt.Errorf("emit PLAN_SUBMITTED: %w", err)
		}
		ticket.PlanSubmitted(w, ticketCfg, vr.Valid, ticket.RiskLevel(plan.RiskLevel))
		if w.Phase == ticket.PhaseFailed {
			return result, r.recordTerminal(w, p, &result, "")
		}
	}

	var worktreePath, branch string
	if r.worktrees != nil {
		branch = "wheelhouse/" + p.ID
		path, err := r.worktrees.Add(ctx, p.ID, branch, "HEAD")
		if err != nil {
			w.Phase = ticket.PhaseFailed
			w.FailReason = ticket.FailReasonExecuteErr
			return result, r.recordTerminal(w, p, &result, "")
		}
		worktreePath = path
		defer func() { _ = r.worktrees.Remove(ctx, worktreePath) }()
	}

	spindleState := spindle.NewState()
	spindleCfg := spindle.Config{
		TokenBudgetAbort:    r.cfg.Spindle.TokenBudgetAbort,
		TokenBudgetWarning:  r.cfg.Spindle.TokenBudgetWarning,
		MaxStallIterations:  r.cfg.Spindle.MaxStallIterations,
		SimilarityThreshold: r.cfg.Spindle.SimilarityThreshold,
		MaxSimilarOutputs:   r.cfg.Spindle.MaxSimilarOutputs,
		VerbosityThreshold:  int(r.cfg.Spindle.VerbosityThreshold),
		MaxQaPingPong:       r.cfg.Spindle.MaxQaPingPong,
		MaxCommandFailures:  r.cfg.Spindle.MaxCommandFailures,
		MaxFileEdits:        r.cfg.Spindle.MaxFileEdits,
	}

	var lastErrSignature, lastQAOutput, prURL string

	for !ticket.IsTerminal(w) {
		switch w.Phase {
		case ticket.PhasePlan:
			// Re-entered after a plan rejection; the opaque agent command
			// has no re-plan round-trip, so the first rejection blocks the
			// ticket here and plan_rejections never climbs past 1 via this
			// driver. A richer integration would resubmit a revised plan.
			w.Phase = ticket.PhaseFailed
			w.FailReason = ticket.FailReasonBlocked

		case ticket.PhaseExecute:
			w.StepCount++
			if ticket.CheckStepBudget(w, ticketCfg) {
				_ = r.log.Append(eventlog.Event{
					Type:    eventlog.TypeBudgetExhausted,
					Payload: map[string]any{"ticket_id": p.ID, "budget": "ticket_steps", "steps": w.StepCount},
				})
				break
			}

			attempt := w.QARetries
			critic := r.criticBlockFor(attempt, lastErrSignature, p, fragile, recentSignatures)
			inv := invokeAgent(ctx, worktreePath, p, critic)

			if hits := scope.ScreenCredentials(inv.output); len(hits) > 0 {
				_ = r.log.Append(eventlog.Event{
					Type:    eventlog.TypeTicketResult,
					Payload: map[string]any{"ticket_id": p.ID, "credential_screen_hit": hits},
				})
				ticket.ExecuteResult(w, ticketCfg, false, false, true)
				break
			}

			if inv.structured {
				r.foldTraceIntoSpindle(spindleState, inv, p)
			}

			scopeRefused := false
			for _, f := range touchedFiles(inv.diff) {
				if scope.IsFileAllowed(f, policy) {
					continue
				}
				decision := ticket.EvaluateScopeExpansion(f, policy.AllowedPaths, func(path string) bool {
					return scope.IsDenied(path, policy)
				}, w)
				_ = r.log.Append(eventlog.Event{
					Type:    eventlog.TypeTicketResult,
					Payload: map[string]any{"ticket_id": p.ID, "scope_expansion_file": f, "allowed": decision.Allow, "reason": decision.Reason},
				})
				if !decision.Allow {
					scopeRefused = true
					break
				}
				policy.AllowedPaths = append(policy.AllowedPaths, f)
			}
			if scopeRefused {
				ticket.ExecuteResult(w, ticketCfg, false, false, true)
				break
			}

			sigResult := spindle.Evaluate(spindleCfg, spindleState, inv.output, inv.diff, inv.diff != "", inv.commandFailure)
			if sigResult.ShouldAbort || sigResult.ShouldBlock {
				_ = r.log.Append(eventlog.Event{
					Type: eventlog.TypeSpindleAbort,
					Payload: map[string]any{
						"ticket_id":  p.ID,
						"reason":     sigResult.Reason,
						"confidence": sigResult.Confidence,
						"block":      sigResult.ShouldBlock,
					},
				})
				ticket.ApplySpindleSignal(w, sigResult.ShouldAbort, sigResult.ShouldBlock)
				break
			}
			if len(spindleState.Warnings) > 0 {
				_ = r.log.Append(eventlog.Event{
					Type:    eventlog.TypeSpindleWarning,
					Payload: map[string]any{"ticket_id": p.ID, "warnings": warningsList(spindleState)},
				})
			}

			_ = r.log.Append(eventlog.Event{
				Type:    eventlog.TypeTicketResult,
				Payload: map[string]any{"ticket_id": p.ID, "success": inv.success, "pr_url": inv.prURL},
			})
			ticket.ExecuteResult(w, ticketCfg, inv.success, inv.prURL != "", false)
			if inv.prURL != "" {
				prURL = inv.prURL
			}
			lastQAOutput = inv.output

		case ticket.PhaseQA, ticket.PhaseCrossQA:
			passed, output, failure := r.runVerification(ctx, worktreePath, p)
			lastQAOutput = output
			sig := ""
			if failure != nil {
				sig = spindle.CommandSignature(failure.Command, failure.ErrorOutput)
			}
			lastErrSignature = sig
			eventType := eventlog.TypeQAPassed
			if !passed {
				eventType = eventlog.TypeQAFailed
			}
			_ = r.log.Append(eventlog.Event{
				Type:    eventlog.TypeQACommandResult,
				Payload: map[string]any{"ticket_id": p.ID, "passed": passed, "error_signature": sig},
			})
			_ = r.log.Append(eventlog.Event{
				Type:    eventType,
				Payload: map[string]any{"ticket_id": p.ID},
			})

			if !passed {
				sigResult := spindle.Evaluate(spindleCfg, spindleState, output, "", false, failure)
				if sigResult.ShouldAbort || sigResult.ShouldBlock {
					_ = r.log.Append(eventlog.Event{
						Type: eventlog.TypeSpindleAbort,
						Payload: map[string]any{
							"ticket_id":  p.ID,
							"reason":     sigResult.Reason,
							"confidence": sigResult.Confidence,
							"block":      sigResult.ShouldBlock,
						},
					})
					ticket.ApplySpindleSignal(w, sigResult.ShouldAbort, sigResult.ShouldBlock)
					break
				}
			}
			ticket.QAResult(w, ticketCfg, passed, sig)

		case ticket.PhasePR:
			if r.worktrees != nil {
				target := autoBranch
				if target == "" {
					target = "main"
				}
				if err := r.worktrees.Merge(ctx, branch, target); err != nil {
					w.Phase = ticket.PhaseFailed
					w.FailReason = ticket.FailReasonBlocked
					break
				}
				_ = r.worktrees.Push(ctx, branch)
			}
			if prURL == "" {
				prURL = "pending://" + p.ID
			}
			_ = r.log.Append(eventlog.Event{
				Type:    eventlog.TypePRCreated,
				Payload: map[string]any{"ticket_id": p.ID, "pr_url": prURL, "draft": r.draftPRs},
			})
			result.PRsCreated++
			result.PRURLs = append(result.PRURLs, prURL)
			ticket.PRCreated(w)
		}
	}

	r.recordLearning(w, p, lastQAOutput, lastErrSignature)
	return result, r.recordTerminal(w, p, &result, lastErrSignature)
}

// runVerification executes every configured verification command in order,
// stopping at the first failure, and folds the outcome into the same
// qa-stats.json calibration the standalone "qa" command maintains.
func (r *ticketRunner) runVerification(ctx context.Context, worktreePath string, p wave.Proposal) (passed bool, output string, failure *spindle.CommandFailure) {
	if len(p.VerificationCommands) == 0 {
		return true, "", nil
	}

	stats, err := loadQAStats()
	if err != nil {
		stats = &qaStatsFile{Commands: map[string]*qaCommandStats{}}
	}

	for _, command := range p.VerificationCommands {
		cctx, cancel := context.WithTimeout(ctx, verificationTimeout)
		execCmd := exec.CommandContext(cctx, "sh", "-c", command)
		if worktreePath != "" {
			execCmd.Dir = worktreePath
		}
		var out bytes.Buffer
		execCmd.Stdout = &out
		execCmd.Stderr = &out
		runErr := execCmd.Run()
		cancel()

		commandPassed := runErr == nil
		recordQAOutcome(stats, command, commandPassed)

		if !commandPassed {
			_ = store.WriteJSON(qaStatsPath(), stats)
			return false, out.String(), &spindle.CommandFailure{Command: command, ErrorOutput: out.String()}
		}
	}

	_ = store.WriteJSON(qaStatsPath(), stats)
	return true, "", nil
}

// fragileLearnings snapshots the learnings store and returns the narrow
// view scope.AssessTrust needs, plus the set of recent error signatures for
// critic-block risk scoring.
func (r *ticketRunner) fragileLearnings() ([]scope.FragileLearning, map[string]bool) {
	if r.learningsStore == nil {
		return nil, nil
	}
	snapshot, err := r.learningsStore.Snapshot()
	if err != nil {
		return nil, nil
	}
	var out []scope.FragileLearning
	signatures := map[string]bool{}
	for _, l := range snapshot {
		if l.Structured == nil {
			continue
		}
		recent := l.Maturity != learnings.MaturityProvisional
		out = append(out, scope.FragileLearning{
			FragilePaths:   l.Structured.FragilePaths,
			ErrorSignature: signatureOf(l),
			Recent:         recent,
		})
		if sig := signatureOf(l); sig != "" {
			signatures[sig] = true
		}
	}
	return out, signatures
}

func signatureOf(l learnings.Learning) string {
	if l.Structured == nil || l.Structured.FailureContext == nil {
		return ""
	}
	return l.Structured.FailureContext.ErrorSignature
}

// criticBlockFor assembles the retry-prompt critic block for EXECUTE
// attempts after the first. Returns "" when no block is warranted (first
// attempt, or risk low with no strong strategy).
func (r *ticketRunner) criticBlockFor(attempt int, lastErrSignature string, p wave.Proposal, fragile []scope.FragileLearning, recentSignatures map[string]bool) string {
	if attempt == 0 || r.learningsStore == nil {
		return ""
	}
	snapshot, err := r.learningsStore.Snapshot()
	if err != nil {
		return ""
	}

	fragileOverlap := false
	for _, fl := range fragile {
		if pathsOverlapAny(p.AllowedPaths, fl.FragilePaths) {
			fragileOverlap = true
			break
		}
	}

	var cochangeMissing []string
	var matched []learnings.Learning
	for _, l := range snapshot {
		if l.Structured == nil {
			continue
		}
		for _, cc := range l.Structured.CochangeFiles {
			if !containsFile(p.Files, cc) {
				cochangeMissing = append(cochangeMissing, cc)
			}
		}
		if signatureOf(l) == lastErrSignature && lastErrSignature != "" {
			matched = append(matched, l)
		}
	}

	block, ok := learnings.BuildCriticBlock(learnings.RiskInputs{
		Attempt:                  attempt,
		FragilePathOverlap:       fragileOverlap,
		KnownErrorSignatureMatch: recentSignatures[lastErrSignature],
		CochangeFileMissing:      len(cochangeMissing) > 0,
	}, matched, cochangeMissing)
	if !ok {
		return ""
	}

	_ = r.log.Append(eventlog.Event{
		Type: eventlog.TypeHintConsumed,
		Payload: map[string]any{
			"ticket_id":   p.ID,
			"risk_score":  block.RiskScore,
			"risk_level":  string(block.RiskLevel),
			"strategies":  block.Strategies,
		},
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "retry risk: %s (%d)\n", block.RiskLevel, block.RiskScore)
	for _, s := range block.Strategies {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Detail)
	}
	return sb.String()
}

func pathsOverlapAny(allowed, fragilePaths []string) bool {
	for _, a := range allowed {
		for _, f := range fragilePaths {
			if a == f {
				return true
			}
		}
	}
	return false
}

func containsFile(files []string, f string) bool {
	for _, x := range files {
		if x == f {
			return true
		}
	}
	return false
}

// recordLearning persists a pattern learning on ticket success (cochange
// files from the proposal's own file list) or a warning/gotcha learning on
// failure, classified from the tail of the last QA output.
func (r *ticketRunner) recordLearning(w *ticket.Worker, p wave.Proposal, output, errSignature string) {
	if r.learningsStore == nil {
		return
	}
	switch w.Phase {
	case ticket.PhaseDone:
		_ = r.learningsStore.Append(learnings.Learning{
			ID:       uuid.NewString(),
			Text:     fmt.Sprintf("ticket %s (%s) completed cleanly", p.ID, p.Category),
			Category: learnings.CategoryPattern,
			Source:   learnings.Source{Type: "ticket_success", Detail: p.ID},
			Tags:     []string{p.Category},
			Weight:   10,
			Maturity: learnings.MaturityProvisional,
			Structured: &learnings.Structured{
				CochangeFiles: p.Files,
				PatternType:   p.Category,
			},
			CreatedAt: time.Now(),
		})
	case ticket.PhaseFailed:
		failureType := learnings.ClassifyFailure(output)
		category := learnings.CategoryWarning
		if w.FailReason == ticket.FailReasonSpindle {
			category = learnings.CategoryGotcha
		}
		_ = r.learningsStore.Append(learnings.Learning{
			ID:       uuid.NewString(),
			Text:     fmt.Sprintf("ticket %s failed (%s): %s", p.ID, w.FailReason, failureType),
			Category: category,
			Source:   learnings.Source{Type: "ticket_failure", Detail: "spindle:" + string(w.FailReason)},
			Tags:     []string{p.Category, string(failureType)},
			Weight:   20,
			Maturity: learnings.MaturityProvisional,
			Structured: &learnings.Structured{
				FragilePaths: p.AllowedPaths,
				FailureContext: &learnings.FailureContext{
					ErrorSignature: errSignature,
				},
				PatternType: string(failureType),
			},
			CreatedAt: time.Now(),
		})
	}
}

// foldTraceIntoSpindle re-derives the spindle token estimate from a
// structured agent trace's tool-usage accounting, which is a more accurate
// signal than the output's char/4 estimate, and folds compaction/liveness
// diagnostics into the run log for operator visibility.
func (r *ticketRunner) foldTraceIntoSpindle(state *spindle.State, inv agentInvocation, p wave.Proposal) {
	profiles := trace.ToolProfiles(inv.traceEvents)
	var totalTokens int
	for _, prof := range profiles {
		totalTokens += prof.InputTokens + prof.OutputTokens
	}
	if totalTokens > state.EstimatedTokens {
		state.EstimatedTokens = totalTokens
	}

	compactionCount, _ := trace.Compactions(inv.traceEvents)
	liveness := trace.AnalyzeLiveness(inv.timestamps)

	alerts := trace.EvaluateTriggers([]trace.Rule{
		{ID: "token-warning", Condition: trace.Condition{Type: trace.ConditionTokenThreshold, Threshold: float64(r.cfg.Spindle.TokenBudgetWarning)}, Action: trace.ActionWarn},
		{ID: "compaction-high", Condition: trace.Condition{Type: trace.ConditionCompactionCount, Threshold: 3}, Action: trace.ActionWarn},
		{ID: "stall", Condition: trace.Condition{Type: trace.ConditionStallDurationMS, Threshold: 30000}, Action: trace.ActionWarn},
	}, trace.Metrics{
		TotalTokens:     totalTokens,
		MaxStallMS:      float64(liveness.MaxGap.Milliseconds()),
		CompactionCount: compactionCount,
	})
	for _, alert := range alerts {
		_ = r.log.Append(eventlog.Event{
			Type: eventlog.TypeBudgetWarning,
			Payload: map[string]any{
				"ticket_id": p.ID,
				"rule":      alert.RuleID,
				"value":     alert.Value,
			},
		})
	}
}

func warningsList(state *spindle.State) []string {
	out := make([]string, 0, len(state.Warnings))
	for w := range state.Warnings {
		out = append(out, w)
	}
	return out
}

// touchedFileLine matches a unified-diff file header, the same convention
// the spindle file-churn check uses to attribute a diff to file paths.
var touchedFileLine = regexp.MustCompile(`(?m)^\+\+\+ b/(.+)$`)

func touchedFiles(diff string) []string {
	matches := touchedFileLine.FindAllStringSubmatch(diff, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// sectorsOf maps a proposal's files to the top-level directories they
// touch, the unit per-sector coverage is tracked in. A proposal with no
// file list falls back to its category.
func sectorsOf(p wave.Proposal) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range p.Files {
		clean := strings.TrimPrefix(f, "./")
		sector, _, nested := strings.Cut(clean, "/")
		if !nested {
			sector = "root"
		}
		if sector == "" || seen[sector] {
			continue
		}
		seen[sector] = true
		out = append(out, sector)
	}
	if len(out) == 0 {
		return []string{p.Category}
	}
	return out
}

// estimatedLines is a coarse stand-in for the agent's own plan estimate
// when no richer proposal metadata is available: 40 lines per touched file.
func estimatedLines(p wave.Proposal) int {
	if len(p.Files) == 0 {
		return 0
	}
	return len(p.Files) * 40
}

// invokeAgent runs the external per-ticket agent command (if configured)
// and captures its stdout line-by-line with wall-clock timestamps, so a
// structured trace stream can be parsed the same way a standalone trace
// analysis would. With no --agent-cmd configured, the ticket is treated as
// trivially successful (useful for --dry-run-adjacent scripted testing).
func invokeAgent(ctx context.Context, worktreePath string, p wave.Proposal, critic string) agentInvocation {
	if autoAgentCmd == "" {
		return agentInvocation{success: true}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", autoAgentCmd+" "+p.ID+" "+p.Category)
	if worktreePath != "" {
		cmd.Dir = worktreePath
	}
	if critic != "" {
		cmd.Env = append(cmd.Environ(), "WHEELHOUSE_CRITIC="+critic)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return agentInvocation{success: false, output: err.Error()}
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return agentInvocation{success: false, output: err.Error()}
	}

	var lines []string
	var timestamps []time.Time
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		timestamps = append(timestamps, time.Now())
	}
	runErr := cmd.Wait()

	output := strings.Join(lines, "\n")
	inv := agentInvocation{success: runErr == nil, output: output, timestamps: timestamps}

	if len(lines) > 0 && trace.IsStructured([]byte(lines[0])) {
		events, perr := trace.ParseStream(strings.NewReader(output))
		if perr == nil {
			inv.structured = true
			inv.traceEvents = events
		}
	}

	if worktreePath != "" {
		diff, _ := exec.CommandContext(ctx, "git", "-C", worktreePath, "diff").Output()
		inv.diff = string(diff)
	}

	for _, line := range lines {
		if after, ok := strings.CutPrefix(line, "PR_URL:"); ok {
			inv.prURL = strings.TrimSpace(after)
		}
	}

	return inv
}

func recordTerminal(log *eventlog.Log, result *session.CycleResult, w *ticket.Worker, p wave.Proposal) error {
	switch w.Phase {
	case ticket.PhaseDone:
		result.TicketsCompleted++
		result.SectorsTouched = append(result.SectorsTouched, sectorsOf(p)...)
		return log.Append(eventlog.Event{
			Type:    eventlog.TypeTicketCompleted,
			Payload: map[string]any{"ticket_id": p.ID},
		})
	case ticket.PhaseFailed:
		result.TicketsFailed++
		return log.Append(eventlog.Event{
			Type:    eventlog.TypeTicketFailed,
			Payload: map[string]any{"ticket_id": p.ID, "reason": string(w.FailReason)},
		})
	default:
		return nil
	}
}

func (r *ticketRunner) recordTerminal(w *ticket.Worker, p wave.Proposal, result *session.CycleResult, _ string) error {
	return recordTerminal(r.log, result, w, p)
}
