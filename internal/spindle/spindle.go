// Package spindle implements the per-worker loop detector: oscillation,
// stalling, repetition, QA ping-pong, command-signature recurrence, and
// token-budget checks, evaluated in a strict priority order.
package spindle

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Config holds the tunable loop-detector thresholds.
type Config struct {
	TokenBudgetAbort    int
	TokenBudgetWarning  int
	MaxStallIterations  int
	SimilarityThreshold float64
	MaxSimilarOutputs   int
	VerbosityThreshold  int
	MaxQaPingPong       int
	MaxCommandFailures  int
	MaxFileEdits        int
}

const maxFileEditEntries = 50

// State is the per-worker rolling state.
type State struct {
	RecentOutputs            []string
	RecentDiffs              []string
	IterationsSinceChange    int
	EstimatedTokens          int
	TotalOutputChars         int
	TotalChangeChars         int
	FailingCommandSignatures []string
	FileEditCounts           map[string]int
	fileEditOrder            []string // insertion order, for count-descending eviction
	Warnings                 map[string]struct{}
}

// NewState returns a zero-valued SpindleState.
func NewState() *State {
	return &State{
		FileEditCounts: make(map[string]int),
		Warnings:       make(map[string]struct{}),
	}
}

// Result is the outcome of one loop-detector evaluation.
type Result struct {
	ShouldAbort bool
	ShouldBlock bool
	Reason      string
	Confidence  float64
	Diagnostics map[string]any
}

// stuckPhrases recur across repeated, unproductive agent outputs.
var stuckPhrases = []string{
	"let me try", "trying again", "another approach", "i apologize",
}

// fileEditLine matches a unified-diff file header, extracting the edited
// file path from lines beginning "+++ b/".
var fileEditLine = regexp.MustCompile(`(?m)^\+\+\+ b/(.+)$`)

// EstimateTokens estimates token count from character count: chars/4, rounded up.
func EstimateTokens(chars int) int {
	return (chars + 3) / 4
}

// Jaccard computes word-token-set similarity over lowercased
// whitespace/punctuation-split tokens.
func Jaccard(a, b string) float64 {
	setA := wordTokenSet(a)
	setB := wordTokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func wordTokenSet(s string) map[string]struct{} {
	lower := strings.ToLower(s)
	fields := wordSplit.Split(lower, -1)
	set := make(map[string]struct{})
	for _, f := range fields {
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// CommandSignature hashes command++"::"++first-200-chars-of-error into a
// 12-hex-char SHA-256 prefix.
func CommandSignature(command, errorOutput string) string {
	errPrefix := errorOutput
	if len(errPrefix) > 200 {
		errPrefix = errPrefix[:200]
	}
	sum := sha256.Sum256([]byte(command + "::" + errPrefix))
	return hex.EncodeToString(sum[:])[:12]
}

// Evaluate consumes one iteration's output and optional diff, updates state,
// and returns the check result. Checks run in a strict priority order; the
// first match wins.
func Evaluate(cfg Config, state *State, latestOutput string, latestDiff string, hasDiff bool, commandFailure *CommandFailure) Result {
	state.TotalOutputChars += len(latestOutput)
	state.EstimatedTokens += EstimateTokens(len(latestOutput))

	changed := hasDiff && strings.TrimSpace(latestDiff) != ""
	if changed {
		state.IterationsSinceChange = 0
		state.TotalChangeChars += len(latestDiff)
		recordFileEdits(state, latestDiff)
	} else {
		state.IterationsSinceChange++
	}

	if hasDiff {
		state.RecentDiffs = append(state.RecentDiffs, latestDiff)
		if len(state.RecentDiffs) > 5 {
			state.RecentDiffs = state.RecentDiffs[len(state.RecentDiffs)-5:]
		}
	}

	// Check 1: token budget.
	if state.EstimatedTokens >= cfg.TokenBudgetAbort {
		return Result{ShouldAbort: true, Reason: "token_budget", Confidence: 1.0, Diagnostics: map[string]any{"estimated_tokens": state.EstimatedTokens}}
	}
	if state.EstimatedTokens >= cfg.TokenBudgetWarning {
		state.Warnings["token_budget_warning"] = struct{}{}
	}

	// Check 2: stalling.
	if state.IterationsSinceChange >= cfg.MaxStallIterations {
		return Result{ShouldAbort: true, Reason: "stalling", Confidence: 0.9, Diagnostics: map[string]any{"iterations_since_change": state.IterationsSinceChange}}
	}

	// Check 3: oscillation.
	if osc, conf, ok := detectOscillation(state.RecentDiffs, cfg.SimilarityThreshold); ok {
		return Result{ShouldAbort: true, Reason: "oscillation", Confidence: conf, Diagnostics: map[string]any{"oscillation": osc}}
	}

	// Check 4: repetition.
	if rep, conf, ok := detectRepetition(state.RecentOutputs, latestOutput, cfg); ok {
		return Result{ShouldAbort: true, Reason: "repetition", Confidence: conf, Diagnostics: map[string]any{"repetition": rep}}
	}
	state.RecentOutputs = append(state.RecentOutputs, latestOutput)
	if len(state.RecentOutputs) > cfg.MaxSimilarOutputs+1 {
		state.RecentOutputs = state.RecentOutputs[len(state.RecentOutputs)-(cfg.MaxSimilarOutputs+1):]
	}

	// Check 5: verbosity warning (non-fatal).
	if state.TotalOutputChars > 5000 && state.TotalChangeChars > 0 {
		ratio := float64(state.TotalOutputChars) / float64(state.TotalChangeChars)
		if ratio >= float64(cfg.VerbosityThreshold) {
			state.Warnings["verbosity"] = struct{}{}
		}
	}

	// Check 6 & 7: command-signature driven checks.
	if commandFailure != nil {
		sig := CommandSignature(commandFailure.Command, commandFailure.ErrorOutput)
		state.FailingCommandSignatures = append(state.FailingCommandSignatures, sig)
		if len(state.FailingCommandSignatures) > 20 {
			state.FailingCommandSignatures = state.FailingCommandSignatures[len(state.FailingCommandSignatures)-20:]
		}

		if pattern, ok := detectPingPong(state.FailingCommandSignatures, cfg.MaxQaPingPong); ok {
			return Result{ShouldAbort: true, Reason: "qa_ping_pong", Confidence: 0.9, Diagnostics: map[string]any{"pingPongPattern": pattern}}
		}

		if count := countSignature(state.FailingCommandSignatures, sig); count >= cfg.MaxCommandFailures {
			return Result{ShouldBlock: true, Reason: "command_signature_recurrence", Confidence: 0.8, Diagnostics: map[string]any{"signature": sig, "count": count}}
		}
	}

	// Check 8: file-churn warning (non-fatal).
	for file, count := range state.FileEditCounts {
		if count >= cfg.MaxFileEdits {
			state.Warnings["file_churn:"+file] = struct{}{}
		}
	}

	return Result{Diagnostics: map[string]any{"warnings": warningList(state.Warnings)}}
}

// CommandFailure is one QA/verification command failure fed to Evaluate.
type CommandFailure struct {
	Command     string
	ErrorOutput string
}

func warningList(warnings map[string]struct{}) []string {
	out := make([]string, 0, len(warnings))
	for w := range warnings {
		out = append(out, w)
	}
	return out
}

func recordFileEdits(state *State, diff string) {
	matches := fileEditLine.FindAllStringSubmatch(diff, -1)
	for _, m := range matches {
		file := m[1]
		if _, exists := state.FileEditCounts[file]; !exists {
			state.fileEditOrder = append(state.fileEditOrder, file)
		}
		state.FileEditCounts[file]++
	}
	evictIfOverCapacity(state)
}

// evictIfOverCapacity caps the map at 50 entries: at exactly 50 keys, the
// next insertion evicts the lowest-count entry (count-ascending eviction).
func evictIfOverCapacity(state *State) {
	for len(state.FileEditCounts) > maxFileEditEntries {
		lowestFile := ""
		lowestCount := int(^uint(0) >> 1)
		for _, f := range state.fileEditOrder {
			c, ok := state.FileEditCounts[f]
			if !ok {
				continue
			}
			if c < lowestCount {
				lowestCount = c
				lowestFile = f
			}
		}
		if lowestFile == "" {
			return
		}
		delete(state.FileEditCounts, lowestFile)
		state.fileEditOrder = removeFromOrder(state.fileEditOrder, lowestFile)
	}
}

func removeFromOrder(order []string, file string) []string {
	out := order[:0]
	for _, f := range order {
		if f != file {
			out = append(out, f)
		}
	}
	return out
}

// detectOscillation looks at the last 2-3 diffs for a line added in diff
// k-1 and removed in diff k (or vice versa), or content added in k-2
// reappearing added in k, with line similarity >= threshold.
func detectOscillation(diffs []string, threshold float64) (pattern string, confidence float64, ok bool) {
	n := len(diffs)
	if n < 2 {
		return "", 0, false
	}
	dmp := diffmatchpatch.New()

	added := func(diff string) []string { return diffLines(diff, "+") }
	removed := func(diff string) []string { return diffLines(diff, "-") }

	k := n - 1
	addedAtK := added(diffs[k])
	removedAtKminus1 := removed(diffs[k-1])
	addedAtKminus1 := added(diffs[k-1])
	removedAtK := removed(diffs[k])

	if sim, found := bestLineSimilarity(addedAtK, removedAtKminus1, dmp, threshold); found {
		return "add-then-remove", sim, true
	}
	if sim, found := bestLineSimilarity(addedAtKminus1, removedAtK, dmp, threshold); found {
		return "remove-then-add", sim, true
	}

	if n >= 3 {
		addedAtKminus2 := added(diffs[k-2])
		if sim, found := bestLineSimilarity(addedAtKminus2, addedAtK, dmp, threshold); found {
			return "reappear", sim, true
		}
	}
	return "", 0, false
}

func bestLineSimilarity(a, b []string, dmp *diffmatchpatch.DiffMatchPatch, threshold float64) (float64, bool) {
	best := 0.0
	for _, la := range a {
		for _, lb := range b {
			sim := lineSimilarity(la, lb, dmp)
			if sim > best {
				best = sim
			}
		}
	}
	return best, best >= threshold
}

func lineSimilarity(a, b string, dmp *diffmatchpatch.DiffMatchPatch) float64 {
	if a == b {
		return 1.0
	}
	diffs := dmp.DiffMain(a, b, false)
	common := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			common += len(d.Text)
		}
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return float64(common) / float64(maxLen)
}

func diffLines(diff, prefix string) []string {
	var out []string
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, prefix) && !strings.HasPrefix(line, prefix+prefix+prefix) {
			out = append(out, strings.TrimPrefix(line, prefix))
		}
	}
	return out
}

func detectRepetition(recent []string, latest string, cfg Config) (matchIndex int, confidence float64, ok bool) {
	stuckCount := 0
	for i := len(recent) - 1; i >= 0 && i >= len(recent)-cfg.MaxSimilarOutputs; i-- {
		if sim := Jaccard(recent[i], latest); sim >= cfg.SimilarityThreshold && sim > confidence {
			ok = true
			matchIndex = i
			confidence = sim
		}
		if containsStuckPhrase(recent[i]) {
			stuckCount++
		}
	}
	if containsStuckPhrase(latest) {
		stuckCount++
	}
	if stuckCount >= 2 {
		ok = true
		if confidence < 0.85 {
			confidence = 0.85
		}
	}
	return matchIndex, confidence, ok
}

func containsStuckPhrase(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range stuckPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// detectPingPong reports an alternating A<->B pattern across the most
// recent maxQaPingPong*2 signatures.
func detectPingPong(signatures []string, maxQaPingPong int) (pattern []string, ok bool) {
	windowLen := maxQaPingPong * 2
	if windowLen <= 0 || len(signatures) < windowLen {
		return nil, false
	}
	window := signatures[len(signatures)-windowLen:]
	a, b := window[0], window[1]
	if a == b {
		return nil, false
	}
	for i, sig := range window {
		expect := a
		if i%2 == 1 {
			expect = b
		}
		if sig != expect {
			return nil, false
		}
	}
	return window, true
}

func countSignature(signatures []string, target string) int {
	count := 0
	for _, s := range signatures {
		if s == target {
			count++
		}
	}
	return count
}

