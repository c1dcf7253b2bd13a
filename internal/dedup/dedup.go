// Package dedup implements title normalization and similarity scoring used
// by the cycle planner to drop duplicate proposals.
package dedup

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases, NFC-folds, collapses whitespace, and strips
// punctuation from a title. Idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(title string) string {
	folded := norm.NFC.String(title)
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	lastWasSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			lastWasSpace = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped entirely, not replaced with a space
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// IsExactDuplicate reports whether a and b normalize to the same title.
func IsExactDuplicate(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// tokenSet splits a normalized string into a set of whitespace-delimited
// tokens.
func tokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Similarity returns the Jaccard similarity of the bag-of-tokens for a and b,
// both first normalized. Symmetric and in [0,1].
func Similarity(a, b string) float64 {
	setA := tokenSet(Normalize(a))
	setB := tokenSet(Normalize(b))
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// IsDuplicate reports whether a and b are duplicates under the given fuzzy
// similarity threshold, either exactly (normalized match) or fuzzily
// (Jaccard >= threshold). An exact normalized match is always a duplicate.
func IsDuplicate(a, b string, threshold float64) bool {
	if IsExactDuplicate(a, b) {
		return true
	}
	return Similarity(a, b) >= threshold
}

// SlugFromBranch extracts the ticket-title slug portion of a PR branch name,
// e.g. "wheelhouse/refactor-parse-loop" -> "refactor parse loop", for
// similarity comparison against proposal titles.
func SlugFromBranch(branch string) string {
	parts := strings.SplitN(branch, "/", 2)
	slug := parts[len(parts)-1]
	return strings.ReplaceAll(slug, "-", " ")
}

// FindDuplicate scans existingTitles (and, separately, open PR branch slugs)
// for a match against candidate under threshold. Returns the matched title
// and true if a duplicate is found.
func FindDuplicate(candidate string, existingTitles, openBranches []string, threshold float64) (match string, found bool) {
	for _, t := range existingTitles {
		if IsDuplicate(candidate, t, threshold) {
			return t, true
		}
	}
	for _, branch := range openBranches {
		slug := SlugFromBranch(branch)
		if IsDuplicate(candidate, slug, threshold) {
			return branch, true
		}
	}
	return "", false
}
