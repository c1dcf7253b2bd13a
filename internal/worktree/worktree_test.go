package worktree

import (
	"context"
	"os/exec"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	return dir
}

func TestManager_AddAndRemove(t *testing.T) {
	dir := initRepo(t)
	m := NewManager(dir, dir+"/worktrees")

	ctx := context.Background()
	// Need an initial commit before a worktree can branch off HEAD.
	cmd := exec.Command("git", "commit", "--allow-empty", "-m", "init")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("initial commit: %v: %s", err, out)
	}

	path, err := m.Add(ctx, "tkt-1", "wheelhouse/tkt-1", "HEAD")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if path == "" {
		t.Fatal("Add() returned empty path")
	}

	if err := m.Remove(ctx, path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
}
