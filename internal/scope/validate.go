package scope

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// RiskLevel mirrors a submitted plan's self-declared risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskNormal   RiskLevel = "normal"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
)

var validRiskLevels = map[RiskLevel]bool{RiskLow: true, RiskNormal: true, RiskElevated: true, RiskHigh: true}

// Plan is a submitted PLAN_SUBMITTED change plan.
type Plan struct {
	Files          []string
	EstimatedLines int
	RiskLevel      RiskLevel
}

// ValidationResult accumulates every violation rather than short-circuiting
// on the first one.
type ValidationResult struct {
	Valid      bool
	Violations []string
}

// ValidatePlan checks plan against policy, accumulating all violations:
// missing files, over-budget line estimate, over-budget file count, invalid
// risk level, denied globs/patterns, and files outside the allowed paths.
func ValidatePlan(plan Plan, policy Policy) ValidationResult {
	var violations []string

	if len(plan.Files) == 0 {
		violations = append(violations, "plan lists no files")
	}
	if plan.EstimatedLines > policy.MaxLines {
		violations = append(violations, fmt.Sprintf("estimated lines %d exceeds budget %d", plan.EstimatedLines, policy.MaxLines))
	}
	if len(plan.Files) > policy.MaxFiles {
		violations = append(violations, fmt.Sprintf("file count %d exceeds budget %d", len(plan.Files), policy.MaxFiles))
	}
	if plan.RiskLevel != "" && !validRiskLevels[plan.RiskLevel] {
		violations = append(violations, fmt.Sprintf("invalid risk level %q", plan.RiskLevel))
	}

	for _, f := range plan.Files {
		if matchesAnyGlob(f, policy.DeniedPaths) {
			violations = append(violations, fmt.Sprintf("file %q matches a denied path", f))
			continue
		}
		if matchesAnyPattern(f, policy.DeniedPatterns) {
			violations = append(violations, fmt.Sprintf("file %q matches a denied pattern", f))
			continue
		}
		if len(policy.AllowedPaths) > 0 && !matchesAnyGlob(f, policy.AllowedPaths) {
			violations = append(violations, fmt.Sprintf("file %q is outside allowed paths", f))
		}
	}

	return ValidationResult{Valid: len(violations) == 0, Violations: violations}
}

// MatchGlob reports whether path falls under glob, with directory-style
// globs (dir/ -> dir/**) normalized the same way plan validation and
// runtime gating normalize them.
func MatchGlob(path, glob string) bool {
	return matchesGlob(path, glob)
}

// matchesAnyGlob normalizes directory-style globs (dir/ -> dir/**) before
// matching.
func matchesAnyGlob(path string, globs []string) bool {
	for _, g := range globs {
		if matchesGlob(path, g) {
			return true
		}
	}
	return false
}

func matchesGlob(path, glob string) bool {
	g := normalizeDirGlob(glob)
	if strings.HasSuffix(g, "/**") {
		prefix := strings.TrimSuffix(g, "**")
		return strings.HasPrefix(path, prefix)
	}
	ok, err := filepath.Match(g, path)
	if err == nil && ok {
		return true
	}
	// filepath.Match doesn't expand ** across separators; fall back to a
	// prefix check for patterns like "a/**/b".
	if idx := strings.Index(g, "/**"); idx >= 0 {
		prefix := g[:idx]
		return strings.HasPrefix(path, prefix)
	}
	return false
}

func matchesAnyPattern(path string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(path) {
			return true
		}
	}
	return false
}
