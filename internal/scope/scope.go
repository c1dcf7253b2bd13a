// Package scope implements the scope policy engine: policy derivation,
// adaptive trust, plan validation, runtime file gating, and credential
// screening.
package scope

import (
	"path/filepath"
	"regexp"
	"strings"
)

// TrustLevel is the adaptive-trust classification for a ticket.
type TrustLevel string

const (
	TrustLow      TrustLevel = "low"
	TrustNormal   TrustLevel = "normal"
	TrustElevated TrustLevel = "elevated"
	TrustHigh     TrustLevel = "high"
)

// Policy is the derived, ticket-scoped change policy.
type Policy struct {
	AllowedPaths   []string
	DeniedPaths    []string
	DeniedPatterns []*regexp.Regexp
	MaxFiles       int
	MaxLines       int
	PlanRequired   bool
	WorktreeRoot   string
	RiskAssessment TrustLevel
}

// baseDeniedPaths are always denied, regardless of ticket.
var baseDeniedPaths = []string{
	".env*", "node_modules/**", ".git/**", "dist/**", "build/**", "coverage/**", "*.lock",
}

// credentialPatterns screen file contents for likely secrets.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                           // AWS access key
	regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`), // PEM private key
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),                 // GitHub PAT
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),                        // OpenAI-style key
	regexp.MustCompile(`(?i)password\s*[:=]\s*['"][^'"]+['"]`),       // hardcoded password
}

// deniedPathPatterns beyond the literal globs: credentials/keys by name.
var deniedPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)credentials`),
	regexp.MustCompile(`\.pem$`),
}

// Inputs to DerivePolicy.
type Inputs struct {
	Category     string
	StateDir     string
	AllowedPaths []string
	MaxLinesBase int // session-level max lines per ticket
	WorktreeRoot string
	Trust        TrustLevel // computed separately via AssessTrust
}

// trustTable maps a trust level to its policy adjustments.
var trustTable = map[TrustLevel]struct {
	maxFiles          int
	maxLinesFactor    float64
	forcePlanRequired bool
}{
	TrustLow:      {maxFiles: 15, maxLinesFactor: 1.5, forcePlanRequired: false},
	TrustNormal:   {maxFiles: 10, maxLinesFactor: 1.0, forcePlanRequired: false},
	TrustElevated: {maxFiles: 7, maxLinesFactor: 1.0, forcePlanRequired: true},
	TrustHigh:     {maxFiles: 5, maxLinesFactor: 0.5, forcePlanRequired: true},
}

// DerivePolicy builds a Policy from ticket/session inputs, applying base
// defaults then adaptive-trust adjustments.
func DerivePolicy(in Inputs) Policy {
	trust := in.Trust
	if trust == "" {
		trust = TrustNormal
	}
	row := trustTable[trust]

	maxLines := in.MaxLinesBase
	if in.Category == "test" {
		maxLines = 1000
	}
	maxLines = int(float64(maxLines) * row.maxLinesFactor)

	planRequired := in.Category != "docs"
	if row.forcePlanRequired {
		planRequired = true
	}

	denied := append([]string{}, baseDeniedPaths...)
	denied = append(denied, in.StateDir+"/**")

	return Policy{
		AllowedPaths:   in.AllowedPaths,
		DeniedPaths:    denied,
		DeniedPatterns: deniedPathPatterns,
		MaxFiles:       row.maxFiles,
		MaxLines:       maxLines,
		PlanRequired:   planRequired,
		WorktreeRoot:   in.WorktreeRoot,
		RiskAssessment: trust,
	}
}

// FragileLearning is the narrow view of a Learning this package needs for
// trust assessment, to avoid importing the learnings package's full model.
type FragileLearning struct {
	FragilePaths   []string
	ErrorSignature string
	Recent         bool
}

// AssessTrust derives a TrustLevel from prior-run learnings whose fragile
// paths overlap allowedPaths and whose error signatures are recent.
func AssessTrust(allowedPaths []string, learnings []FragileLearning) TrustLevel {
	overlapping := 0
	recentOverlap := 0
	for _, l := range learnings {
		if pathsOverlap(allowedPaths, l.FragilePaths) {
			overlapping++
			if l.Recent {
				recentOverlap++
			}
		}
	}

	switch {
	case recentOverlap >= 2:
		return TrustHigh
	case recentOverlap >= 1 || overlapping >= 2:
		return TrustElevated
	case overlapping == 0 && len(learnings) == 0:
		return TrustNormal
	default:
		return TrustLow
	}
}

func pathsOverlap(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if globOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

func globOverlap(a, b string) bool {
	na := normalizeDirGlob(a)
	nb := normalizeDirGlob(b)
	if na == nb {
		return true
	}
	if ok, _ := filepath.Match(na, nb); ok {
		return true
	}
	if ok, _ := filepath.Match(nb, na); ok {
		return true
	}
	return strings.HasPrefix(nb, strings.TrimSuffix(na, "**")) || strings.HasPrefix(na, strings.TrimSuffix(nb, "**"))
}

// normalizeDirGlob treats a trailing-slash directory glob as dir/**.
func normalizeDirGlob(g string) string {
	if strings.HasSuffix(g, "/") {
		return g + "**"
	}
	return g
}
