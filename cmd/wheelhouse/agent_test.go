package main

import (
	"testing"

	"github.com/wheelhouse-dev/wheelhouse/internal/eventlog"
	"github.com/wheelhouse-dev/wheelhouse/internal/session"
	"github.com/wheelhouse-dev/wheelhouse/internal/ticket"
	"github.com/wheelhouse-dev/wheelhouse/internal/wave"
)

func TestTouchedFiles_ParsesUnifiedDiffHeaders(t *testing.T) {
	diff := "diff --git a/internal/foo.go b/internal/foo.go\n" +
		"--- a/internal/foo.go\n" +
		"+++ b/internal/foo.go\n" +
		"@@ -1,2 +1,2 @@\n" +
		"-old\n" +
		"+new\n"
	got := touchedFiles(diff)
	if len(got) != 1 || got[0] != "internal/foo.go" {
		t.Errorf("got %v, want [internal/foo.go]", got)
	}
}

func TestTouchedFiles_EmptyDiffIsEmpty(t *testing.T) {
	if got := touchedFiles(""); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestEstimatedLines_ScalesWithFileCount(t *testing.T) {
	p := wave.Proposal{Files: []string{"a.go", "b.go"}}
	if got := estimatedLines(p); got != 80 {
		t.Errorf("got %d, want 80", got)
	}
}

func TestEstimatedLines_NoFilesIsZero(t *testing.T) {
	if got := estimatedLines(wave.Proposal{}); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestPathsOverlapAny(t *testing.T) {
	if !pathsOverlapAny([]string{"internal/foo/**"}, []string{"internal/foo/**"}) {
		t.Error("expected exact overlap to match")
	}
	if pathsOverlapAny([]string{"internal/foo/**"}, []string{"internal/bar/**"}) {
		t.Error("expected no overlap")
	}
}

func TestContainsFile(t *testing.T) {
	files := []string{"a.go", "b.go"}
	if !containsFile(files, "a.go") {
		t.Error("expected a.go to be found")
	}
	if containsFile(files, "c.go") {
		t.Error("expected c.go to be absent")
	}
}

func TestRecordTerminal_DoneIncrementsCompletedAndSectors(t *testing.T) {
	log := eventlog.NewLog(t.TempDir(), "test-run")
	w := &ticket.Worker{ID: "tk-1", Phase: ticket.PhaseDone}
	result := &session.CycleResult{}

	if err := recordTerminal(log, result, w, wave.Proposal{ID: "tk-1", Category: "bugfix"}); err != nil {
		t.Fatalf("recordTerminal: %v", err)
	}
	if result.TicketsCompleted != 1 {
		t.Errorf("got %d completed, want 1", result.TicketsCompleted)
	}
	if len(result.SectorsTouched) != 1 || result.SectorsTouched[0] != "bugfix" {
		t.Errorf("got sectors %v, want [bugfix]", result.SectorsTouched)
	}
}

func TestSectorsOf_TopLevelDirectories(t *testing.T) {
	p := wave.Proposal{Files: []string{"src/utils/a.ts", "src/utils/b.ts", "pkg/x.ts", "README.md"}}
	got := sectorsOf(p)
	want := []string{"src", "pkg", "root"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sector[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSectorsOf_NoFilesFallsBackToCategory(t *testing.T) {
	got := sectorsOf(wave.Proposal{Category: "docs"})
	if len(got) != 1 || got[0] != "docs" {
		t.Errorf("got %v, want [docs]", got)
	}
}

func TestRecordTerminal_FailedIncrementsFailureCount(t *testing.T) {
	log := eventlog.NewLog(t.TempDir(), "test-run")
	w := &ticket.Worker{ID: "tk-2", Phase: ticket.PhaseFailed, FailReason: ticket.FailReasonSpindle}
	result := &session.CycleResult{}

	if err := recordTerminal(log, result, w, wave.Proposal{ID: "tk-2", Category: "bugfix"}); err != nil {
		t.Fatalf("recordTerminal: %v", err)
	}
	if result.TicketsFailed != 1 {
		t.Errorf("got %d failed, want 1", result.TicketsFailed)
	}
}
