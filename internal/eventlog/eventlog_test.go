package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/wheelhouse-dev/wheelhouse/internal/store"
)

func TestLog_AppendAndReadState(t *testing.T) {
	dir := t.TempDir()
	log := NewLog(dir, "run-1")

	if err := log.Append(Event{Type: TypeSessionStart, Step: 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(Event{Type: TypeAdvanceCalled, Step: 1, Payload: map[string]any{"ticket_id": "t-1"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	eventsPath := filepath.Join(dir, "runs", "run-1", "events.ndjson")
	var count int
	err := store.ReadNDJSONLines(eventsPath, func([]byte) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ReadNDJSONLines: %v", err)
	}
	if count != 2 {
		t.Errorf("event count = %d, want 2", count)
	}

	state := State{RunID: "run-1", Step: 1, Phase: "execute", BudgetRemaining: 80}
	if err := log.WriteState(state); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	got, ok, err := log.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if !ok {
		t.Fatal("expected state to exist")
	}
	if got.Phase != "execute" || got.Step != 1 {
		t.Errorf("ReadState = %+v, want phase=execute step=1", got)
	}
}

func TestLog_ReadState_Missing(t *testing.T) {
	log := NewLog(t.TempDir(), "run-2")
	_, ok, err := log.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing state.json")
	}
}

func TestBuildDigest(t *testing.T) {
	s := State{
		Step: 5, Phase: "qa", TicketsCompleted: 3, TicketsFailed: 1,
		BudgetRemaining: 40, TicketBudgetRemaining: 2, SpindleRisk: SpindleRiskMedium,
		TimeRemainingMS: 60000,
	}
	d := BuildDigest(s)
	if d.Step != 5 || d.Phase != "qa" || d.SpindleRisk != SpindleRiskMedium {
		t.Errorf("BuildDigest = %+v", d)
	}
}

func TestSpindleRiskFromSignal(t *testing.T) {
	tests := []struct {
		name        string
		abort       bool
		block       bool
		confidence  float64
		want        SpindleRisk
	}{
		{name: "abort dominates", abort: true, block: true, confidence: 0.1, want: SpindleRiskHigh},
		{name: "block only", abort: false, block: true, confidence: 0.2, want: SpindleRiskMedium},
		{name: "high confidence no action", abort: false, block: false, confidence: 0.6, want: SpindleRiskLow},
		{name: "quiet", abort: false, block: false, confidence: 0.1, want: SpindleRiskNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SpindleRiskFromSignal(tt.abort, tt.block, tt.confidence)
			if got != tt.want {
				t.Errorf("SpindleRiskFromSignal() = %v, want %v", got, tt.want)
			}
		})
	}
}
