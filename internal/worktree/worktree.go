// Package worktree wraps the git binary behind one process-wide mutex, so
// worktree add/remove, merge, branch-create and push never race.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// gitMu serializes every logical git operation across the process. A single
// operation (e.g. Merge's checkout + merge) holds it for its whole span so
// another ticket's checkout can never interleave.
var gitMu sync.Mutex

// Manager creates and tears down per-ticket worktrees under root.
type Manager struct {
	repoRoot     string
	worktreeRoot string
}

// NewManager returns a Manager rooted at repoRoot, with worktrees created
// under <repoRoot>/<stateDir>/worktrees.
func NewManager(repoRoot, worktreeRoot string) *Manager {
	return &Manager{repoRoot: repoRoot, worktreeRoot: worktreeRoot}
}

// run executes git with args. Callers hold gitMu.
func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoRoot
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %v: %w: %s", args, err, errBuf.String())
	}
	return out.String(), nil
}

// Add creates a worktree for ticketID on a new branch.
func (m *Manager) Add(ctx context.Context, ticketID, branch, baseRef string) (path string, err error) {
	gitMu.Lock()
	defer gitMu.Unlock()

	path = m.worktreeRoot + "/" + ticketID
	_, err = m.run(ctx, "worktree", "add", "-b", branch, path, baseRef)
	return path, err
}

// Remove deletes the worktree for ticketID.
func (m *Manager) Remove(ctx context.Context, path string) error {
	gitMu.Lock()
	defer gitMu.Unlock()

	_, err := m.run(ctx, "worktree", "remove", "--force", path)
	return err
}

// Merge merges branch into target, with one sequential retry on conflict:
// the first attempt races against a concurrently-settling wave, so a short
// backoff and a single retry resolves most transient conflicts before
// reporting blocked. The checkout + merge pair runs as one locked operation
// per attempt; the backoff wait happens with the lock released.
func (m *Manager) Merge(ctx context.Context, branch, target string) error {
	op := func() error {
		gitMu.Lock()
		defer gitMu.Unlock()

		if _, err := m.run(ctx, "checkout", target); err != nil {
			return backoff.Permanent(err)
		}
		if _, err := m.run(ctx, "merge", "--no-edit", branch); err != nil {
			_, _ = m.run(ctx, "merge", "--abort")
			return ErrMergeConflict
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 1)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}
	return nil
}

// Push pushes branch to the default remote.
func (m *Manager) Push(ctx context.Context, branch string) error {
	gitMu.Lock()
	defer gitMu.Unlock()

	_, err := m.run(ctx, "push", "origin", branch)
	return err
}
