package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touchFile(t *testing.T, path string, modTime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}

func TestPruneRuns_KeepsNewestN(t *testing.T) {
	root := t.TempDir()
	base := time.Now()
	for i := 0; i < 5; i++ {
		dir := filepath.Join(root, string(rune('a'+i)))
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(dir, mt, mt); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := PruneRuns(root, 2, false)
	if err != nil {
		t.Fatalf("PruneRuns() error = %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("removed %d dirs, want 3", len(removed))
	}

	remaining, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Errorf("remaining dirs = %d, want 2", len(remaining))
	}
}

func TestPruneRuns_DryRunDoesNotDelete(t *testing.T) {
	root := t.TempDir()
	base := time.Now()
	for i := 0; i < 3; i++ {
		dir := filepath.Join(root, string(rune('a'+i)))
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(dir, mt, mt); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := PruneRuns(root, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("would-remove = %d, want 2", len(removed))
	}

	remaining, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 3 {
		t.Errorf("dry run deleted files: remaining = %d, want 3", len(remaining))
	}
}

func TestPruneRunArtifacts_BoundsEachRunFolder(t *testing.T) {
	runsDir := t.TempDir()
	for _, run := range []string{"run-a", "run-b"} {
		dir := filepath.Join(runsDir, run, "artifacts")
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 4; i++ {
			name := filepath.Join(dir, fmt.Sprintf("log-%d.txt", i))
			if err := os.WriteFile(name, []byte("x"), 0644); err != nil {
				t.Fatal(err)
			}
			past := time.Now().Add(-time.Duration(4-i) * time.Hour)
			if err := os.Chtimes(name, past, past); err != nil {
				t.Fatal(err)
			}
		}
	}

	removed, err := PruneRunArtifacts(runsDir, 2, false)
	if err != nil {
		t.Fatalf("PruneRunArtifacts() error = %v", err)
	}
	if len(removed) != 4 {
		t.Errorf("removed %d files, want 4 (2 per run)", len(removed))
	}
	for _, run := range []string{"run-a", "run-b"} {
		entries, err := os.ReadDir(filepath.Join(runsDir, run, "artifacts"))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 {
			t.Errorf("%s kept %d files, want 2", run, len(entries))
		}
	}
}

func TestPruneDeferredProposals_TrimsToNewestLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deferred-proposals.ndjson")
	var content string
	for i := 0; i < 5; i++ {
		content += fmt.Sprintf("{\"n\":%d}\n", i)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if err := PruneDeferredProposals(path, 2, false); err != nil {
		t.Fatalf("PruneDeferredProposals() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\"n\":3}\n{\"n\":4}\n" {
		t.Errorf("kept %q, want newest two lines", string(data))
	}
}

func TestPruneArtifactsByCount(t *testing.T) {
	dir := t.TempDir()
	base := time.Now()
	for i := 0; i < 4; i++ {
		touchFile(t, filepath.Join(dir, string(rune('a'+i))+".log"), base.Add(time.Duration(i)*time.Minute))
	}

	removed, err := PruneArtifactsByCount(dir, 2, false)
	if err != nil {
		t.Fatalf("PruneArtifactsByCount() error = %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %d, want 2", len(removed))
	}
}

func TestRotateLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tui.log")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}

	rotated, err := RotateLog(path, 50, false)
	if err != nil {
		t.Fatalf("RotateLog() error = %v", err)
	}
	if !rotated {
		t.Error("expected rotation for a log exceeding maxBytes")
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Error("expected tui.log.1 backup to exist")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected tui.log to be renamed away")
	}
}

func TestRotateLog_NoopUnderLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tui.log")
	if err := os.WriteFile(path, make([]byte, 10), 0644); err != nil {
		t.Fatal(err)
	}

	rotated, err := RotateLog(path, 50, false)
	if err != nil {
		t.Fatal(err)
	}
	if rotated {
		t.Error("should not rotate a log under maxBytes")
	}
}

func TestPruneArtifactsByAge(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "sub", "old.txt")
	fresh := filepath.Join(dir, "sub", "fresh.txt")
	touchFile(t, old, time.Now().AddDate(0, 0, -40))
	touchFile(t, fresh, time.Now())

	removed, err := PruneArtifactsByAge(dir, 30, false)
	if err != nil {
		t.Fatalf("PruneArtifactsByAge() error = %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("removed = %d, want 1", len(removed))
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh file should remain")
	}
}
