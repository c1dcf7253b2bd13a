package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/internal/eventlog"
)

func TestLatestDigest_NoRunsDirReturnsNotFound(t *testing.T) {
	_, _, found, err := latestDigest(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false when runs/ does not exist")
	}
}

func TestLatestDigest_PicksMostRecentlyModifiedRun(t *testing.T) {
	stateDir := t.TempDir()

	older := eventlog.NewLog(stateDir, "run-older")
	if err := older.WriteState(eventlog.State{RunID: "run-older", Step: 1, Phase: "PLAN"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	newer := eventlog.NewLog(stateDir, "run-newer")
	if err := newer.WriteState(eventlog.State{RunID: "run-newer", Step: 5, Phase: "QA"}); err != nil {
		t.Fatal(err)
	}

	runID, digest, found, err := latestDigest(stateDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if runID != "run-newer" {
		t.Errorf("got runID %q, want run-newer", runID)
	}
	if digest.Phase != "QA" || digest.Step != 5 {
		t.Errorf("got digest %+v, want phase=QA step=5", digest)
	}
}

func TestLatestDigest_RunDirWithoutStateIsNotFound(t *testing.T) {
	stateDir := t.TempDir()
	runDir := filepath.Join(stateDir, "runs", "empty-run")
	if err := os.MkdirAll(runDir, 0755); err != nil {
		t.Fatal(err)
	}

	_, _, found, err := latestDigest(stateDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false when state.json is absent")
	}
}
