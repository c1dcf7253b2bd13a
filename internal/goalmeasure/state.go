package goalmeasure

import (
	"time"

	"github.com/wheelhouse-dev/wheelhouse/internal/store"
)

// Measurement records one goal's value at the time a cycle observed it.
type Measurement struct {
	GoalID    string    `json:"goal_id"`
	Value     *float64  `json:"value"`
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the on-disk ring buffer of goal measurements.
type State struct {
	Measurements []Measurement `json:"measurements"`
}

// LoadState reads the ring buffer at path. A missing file yields an empty
// State, not an error.
func LoadState(path string) (State, error) {
	var s State
	if _, err := store.ReadJSON(path, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// AppendMeasurement loads the ring buffer at path, appends m, trims it to
// the newest keep entries, and atomically persists it. keep <= 0 means
// unbounded.
func AppendMeasurement(path string, keep int, m Measurement) error {
	s, err := LoadState(path)
	if err != nil {
		return err
	}
	s.Measurements = append(s.Measurements, m)
	if keep > 0 && len(s.Measurements) > keep {
		s.Measurements = s.Measurements[len(s.Measurements)-keep:]
	}
	return store.WriteJSON(path, &s)
}
