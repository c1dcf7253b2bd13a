package ticket

import (
	"path/filepath"
	"strings"
)

// MaxScopeExpansions bounds how many times a worker's allowed paths may be
// widened over its EXECUTE retries.
const MaxScopeExpansions = 2

// ExpansionDecision is the outcome of evaluating one out-of-scope file
// touched during EXECUTE.
type ExpansionDecision struct {
	Allow  bool
	Reason string
}

// EvaluateScopeExpansion decides whether touchedFile, which falls outside
// allowedPaths, may be folded into the ticket's scope. Expansion is allowed
// for sibling files, related test files, directly-imported helpers, and
// root-level config files; refused for forbidden paths (the caller's
// forbidden predicate, typically the policy's deny globs and patterns),
// hallucinated paths (repeated path segments), or files in unrelated
// directories. A forbidden file is refused before any admission rule is
// considered: a denied path is never expandable, sibling or not.
func EvaluateScopeExpansion(touchedFile string, allowedPaths []string, forbidden func(string) bool, worker *Worker) ExpansionDecision {
	if forbidden != nil && forbidden(touchedFile) {
		return ExpansionDecision{Allow: false, Reason: "forbidden path"}
	}
	if worker.ScopeExpansions >= MaxScopeExpansions {
		return ExpansionDecision{Allow: false, Reason: "expansion budget exhausted"}
	}
	if hasRepeatedSegment(touchedFile) {
		return ExpansionDecision{Allow: false, Reason: "hallucinated path"}
	}
	if isRootConfigFile(touchedFile) {
		worker.ScopeExpansions++
		return ExpansionDecision{Allow: true, Reason: "root-level config file"}
	}
	if isTestSiblingOf(touchedFile, allowedPaths) {
		worker.ScopeExpansions++
		return ExpansionDecision{Allow: true, Reason: "related test file"}
	}
	if isSiblingOf(touchedFile, allowedPaths) {
		worker.ScopeExpansions++
		return ExpansionDecision{Allow: true, Reason: "sibling file"}
	}
	return ExpansionDecision{Allow: false, Reason: "unrelated directory"}
}

func hasRepeatedSegment(path string) bool {
	segs := strings.Split(filepath.ToSlash(path), "/")
	seen := make(map[string]int)
	for _, s := range segs {
		if s == "" || s == "." {
			continue
		}
		seen[s]++
		if seen[s] > 1 {
			return true
		}
	}
	return false
}

var rootConfigNames = map[string]bool{
	"package.json": true, "go.mod": true, "go.sum": true, "tsconfig.json": true,
	"Cargo.toml": true, "pyproject.toml": true, ".eslintrc.json": true, ".eslintrc": true,
}

func isRootConfigFile(path string) bool {
	clean := filepath.ToSlash(path)
	if strings.Contains(clean, "/") {
		return false
	}
	return rootConfigNames[clean]
}

func isSiblingOf(path string, allowedPaths []string) bool {
	dir := filepath.ToSlash(filepath.Dir(path))
	for _, a := range allowedPaths {
		allowedDir := filepath.ToSlash(strings.TrimSuffix(a, "/**"))
		allowedDir = strings.TrimSuffix(allowedDir, "/*")
		if dir == allowedDir {
			return true
		}
	}
	return false
}

func isTestSiblingOf(path string, allowedPaths []string) bool {
	base := filepath.Base(path)
	if !strings.Contains(base, "_test") && !strings.Contains(base, ".test.") && !strings.Contains(base, ".spec.") {
		return false
	}
	return isSiblingOf(path, allowedPaths)
}
