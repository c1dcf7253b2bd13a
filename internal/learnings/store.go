package learnings

import (
	"path/filepath"

	"github.com/wheelhouse-dev/wheelhouse/internal/store"
)

// Store is a read-copy-update learnings store: readers take a snapshot,
// writers atomically replace the file.
type Store struct {
	path string
}

// NewStore returns a Store backed by <stateDir>/learnings.ndjson.
func NewStore(stateDir string) *Store {
	return &Store{path: filepath.Join(stateDir, "learnings.ndjson")}
}

// Snapshot returns every currently-persisted learning.
func (s *Store) Snapshot() ([]Learning, error) {
	var out []Learning
	err := store.ReadNDJSONLines(s.path, func(line []byte) error {
		var l Learning
		if err := unmarshal(line, &l); err != nil {
			return err
		}
		out = append(out, l)
		return nil
	})
	return out, err
}

// Append records a new learning.
func (s *Store) Append(l Learning) error {
	return store.AppendNDJSON(s.path, l)
}

// DecayAll applies a configurable per-run weight decay rate and returns the
// decayed set without persisting it — callers persist via ReplaceAll once
// decay + maturity transitions settle.
func DecayAll(learnings []Learning, ratePerRun float64) []Learning {
	out := make([]Learning, len(learnings))
	for i, l := range learnings {
		decayed := l.Weight * (1 - ratePerRun)
		if decayed < 0 {
			decayed = 0
		}
		l.Weight = decayed
		l.Maturity = transitionMaturity(l.Maturity, decayed)
		out[i] = l
	}
	return out
}

// transitionMaturity is the provisional -> candidate -> established
// lifecycle (and demotion/rehabilitation), keyed on Learning.weight
// thresholds.
func transitionMaturity(current Maturity, weight float64) Maturity {
	switch {
	case weight >= 70:
		return MaturityEstablished
	case weight >= 35:
		if current == MaturityEstablished {
			// demotion: an established learning whose weight has decayed
			// back into the mid band is not immediately discarded.
			return MaturityCandidate
		}
		return MaturityCandidate
	default:
		return MaturityProvisional
	}
}

// ReplaceAll atomically replaces the entire learnings file (the RCU write
// side), rewriting every line.
func (s *Store) ReplaceAll(learnings []Learning) error {
	dir := filepath.Dir(s.path)
	tmp := filepath.Join(dir, ".learnings.tmp.ndjson")
	// Best effort cleanup of any leftover temp file from a prior crash.
	_ = removeIfExists(tmp)

	for _, l := range learnings {
		if err := store.AppendNDJSON(tmp, l); err != nil {
			return err
		}
	}
	return renameOver(tmp, s.path)
}
