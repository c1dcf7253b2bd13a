// Package wave partitions accepted proposals into conflict-free waves and
// dispatches each wave under a bounded semaphore.
package wave

import (
	"path"
	"strings"
)

// Sensitivity controls how aggressively two proposals are considered to
// conflict.
type Sensitivity string

const (
	SensitivityRelaxed Sensitivity = "relaxed"
	SensitivityNormal  Sensitivity = "normal"
	SensitivityStrict  Sensitivity = "strict"
)

// Complexity buckets a proposal for the adaptive-parallelism formula.
type Complexity string

const (
	ComplexityLight Complexity = "light"
	ComplexityHeavy Complexity = "heavy"
)

// Proposal is one accepted change to be scheduled into a wave.
type Proposal struct {
	ID                   string
	Category             string
	Files                []string
	AllowedPaths         []string
	VerificationCommands []string
	Complexity           Complexity
}

// conflictProneNames are files whose presence in a shared directory makes
// two same-directory proposals conflict under "normal" sensitivity.
var conflictProneNames = map[string]bool{
	"index.js": true, "index.ts": true, "index.go": true,
	"package.json": true, "__init__.py": true, "Cargo.toml": true, "go.mod": true,
}

// Conflict reports whether a and b conflict under sensitivity.
func Conflict(a, b Proposal, sensitivity Sensitivity) bool {
	if filesOverlap(a.Files, b.Files) {
		return true
	}
	if sensitivity == SensitivityRelaxed {
		return false
	}

	sharedDirs := sharedDirectories(a.Files, b.Files)
	if sensitivity == SensitivityNormal || sensitivity == SensitivityStrict {
		if len(sharedDirs) > 0 && (touchesConflictProneFileIn(sharedDirs, a.Files, b.Files) || a.Category == b.Category) {
			return true
		}
	}
	if sensitivity != SensitivityStrict {
		return false
	}

	if anySiblingFiles(a.Files, b.Files) {
		return true
	}
	if sameMonorepoPackage(a.Files, b.Files) {
		return true
	}
	return false
}

func filesOverlap(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		if set[f] {
			return true
		}
	}
	return false
}

func dirsOf(files []string) map[string]bool {
	dirs := make(map[string]bool, len(files))
	for _, f := range files {
		dirs[path.Dir(path.Clean(f))] = true
	}
	return dirs
}

// sharedDirectories returns the directories both a and b touch files in.
func sharedDirectories(a, b []string) map[string]bool {
	da := dirsOf(a)
	shared := map[string]bool{}
	for d := range dirsOf(b) {
		if da[d] {
			shared[d] = true
		}
	}
	return shared
}

func anySiblingFiles(a, b []string) bool {
	return len(sharedDirectories(a, b)) > 0
}

// touchesConflictProneFileIn reports whether either a or b touches a
// conflict-prone file (index.*, package.json, go.mod, ...) inside one of
// the shared directories — it takes only one side, not both: a proposal
// that merely adds a sibling file still conflicts with one that rewrites
// the directory's entrypoint.
func touchesConflictProneFileIn(sharedDirs map[string]bool, a, b []string) bool {
	hit := func(files []string) bool {
		for _, f := range files {
			clean := path.Clean(f)
			if conflictProneNames[path.Base(clean)] && sharedDirs[path.Dir(clean)] {
				return true
			}
		}
		return false
	}
	return hit(a) || hit(b)
}

// sameMonorepoPackage reports whether a and b both touch files under the
// same packages/<name> or apps/<name> directory.
func sameMonorepoPackage(a, b []string) bool {
	pkgsA := monorepoPackages(a)
	for p := range monorepoPackages(b) {
		if pkgsA[p] {
			return true
		}
	}
	return false
}

func monorepoPackages(files []string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range files {
		segs := strings.Split(path.Clean(f), "/")
		for i := 0; i < len(segs)-1; i++ {
			if segs[i] == "packages" || segs[i] == "apps" {
				out[segs[i]+"/"+segs[i+1]] = true
			}
		}
	}
	return out
}

// Partition runs greedy graph coloring over proposals in input order: each
// proposal is assigned to the lowest-indexed wave in which it conflicts
// with no already-assigned proposal.
func Partition(proposals []Proposal, sensitivity Sensitivity) [][]Proposal {
	var waves [][]Proposal
	for _, p := range proposals {
		placed := false
		for i := range waves {
			conflicts := false
			for _, other := range waves[i] {
				if Conflict(p, other, sensitivity) {
					conflicts = true
					break
				}
			}
			if !conflicts {
				waves[i] = append(waves[i], p)
				placed = true
				break
			}
		}
		if !placed {
			waves = append(waves, []Proposal{p})
		}
	}
	return waves
}

// AdaptiveParallelism computes default parallelism from the heavy/light
// split of proposal complexities, clamped to [2,5]. nearMilestoneBoundary
// caps parallelism at 2 regardless of the split.
func AdaptiveParallelism(proposals []Proposal, nearMilestoneBoundary bool) int {
	if nearMilestoneBoundary {
		return 2
	}
	if len(proposals) == 0 {
		return 2
	}
	light := 0
	for _, p := range proposals {
		if p.Complexity == ComplexityLight {
			light++
		}
	}
	lightRatio := float64(light) / float64(len(proposals))

	switch {
	case light == len(proposals):
		return 5
	case light == 0:
		return 2
	default:
		n := int(round(2 + 3*lightRatio))
		if n < 2 {
			n = 2
		}
		if n > 5 {
			n = 5
		}
		return n
	}
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int(f - 0.5))
	}
	return float64(int(f + 0.5))
}
