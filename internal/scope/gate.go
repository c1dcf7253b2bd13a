package scope

import "strings"

// IsFileAllowed applies the runtime gating order: worktree containment
// first (if set), then deny globs, then deny patterns, then allow globs
// (an empty allow list permits everything).
func IsFileAllowed(path string, policy Policy) bool {
	if policy.WorktreeRoot != "" && !strings.HasPrefix(path, policy.WorktreeRoot) {
		return false
	}
	if matchesAnyGlob(path, policy.DeniedPaths) {
		return false
	}
	if matchesAnyPattern(path, policy.DeniedPatterns) {
		return false
	}
	if len(policy.AllowedPaths) == 0 {
		return true
	}
	return matchesAnyGlob(path, policy.AllowedPaths)
}

// IsDenied reports whether path hits the policy's deny globs or deny
// patterns. Denied paths are never admissible, not even through scope
// expansion.
func IsDenied(path string, policy Policy) bool {
	return matchesAnyGlob(path, policy.DeniedPaths) || matchesAnyPattern(path, policy.DeniedPatterns)
}

// ScreenCredentials scans file contents for likely secrets: AWS keys, PEM
// private keys, GitHub PATs, OpenAI-style keys, hardcoded passwords.
// Returns the matched pattern descriptions, if any.
func ScreenCredentials(content string) []string {
	var hits []string
	for _, p := range credentialPatterns {
		if p.MatchString(content) {
			hits = append(hits, p.String())
		}
	}
	return hits
}
