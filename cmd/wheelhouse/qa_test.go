package main

import "testing"

func TestRecordQAOutcome_NewCommandStartsAtAnchorZero(t *testing.T) {
	stats := &qaStatsFile{Commands: map[string]*qaCommandStats{}}
	entry := recordQAOutcome(stats, "go test ./...", true)
	if entry.PassCount != 1 || entry.FailCount != 0 {
		t.Errorf("got pass=%d fail=%d, want pass=1 fail=0", entry.PassCount, entry.FailCount)
	}
}

func TestRecordQAOutcome_AccumulatesAcrossCalls(t *testing.T) {
	stats := &qaStatsFile{Commands: map[string]*qaCommandStats{}}
	recordQAOutcome(stats, "go vet ./...", true)
	recordQAOutcome(stats, "go vet ./...", false)
	entry := recordQAOutcome(stats, "go vet ./...", true)
	if entry.PassCount != 2 || entry.FailCount != 1 {
		t.Errorf("got pass=%d fail=%d, want pass=2 fail=1", entry.PassCount, entry.FailCount)
	}
}

func TestRecordQAOutcome_TracksCommandsIndependently(t *testing.T) {
	stats := &qaStatsFile{Commands: map[string]*qaCommandStats{}}
	recordQAOutcome(stats, "cmd-a", true)
	recordQAOutcome(stats, "cmd-b", false)
	if len(stats.Commands) != 2 {
		t.Fatalf("got %d commands, want 2", len(stats.Commands))
	}
	if stats.Commands["cmd-a"].PassCount != 1 {
		t.Errorf("cmd-a pass count = %d, want 1", stats.Commands["cmd-a"].PassCount)
	}
	if stats.Commands["cmd-b"].FailCount != 1 {
		t.Errorf("cmd-b fail count = %d, want 1", stats.Commands["cmd-b"].FailCount)
	}
}
