package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// stateDirs are all subdirectories wheelhouse init creates under the
// repository-relative state directory.
var stateDirs = []string{
	"runs",
	"worktrees",
	"artifacts/diffs",
	"artifacts/executions",
	"artifacts/violations",
	"spool",
	"goals",
}

var initStealth bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize wheelhouse state in the current repository",
	Long: `Set up a repository for wheelhouse: the state directory, a default
config, and git protection for state that should never be committed.

This creates:
  <state-dir>/runs/                 per-run state and event logs
  <state-dir>/worktrees/            per-ticket git worktrees (milestone/pr modes)
  <state-dir>/artifacts/{diffs,executions,violations}/
  <state-dir>/spool/                bounded NDJSON spool files
  <state-dir>/goals/                user goal definitions
  <state-dir>/config.yaml           session defaults, if absent

Git protection:
  .gitignore                        <state-dir>/ entry appended (or --stealth
                                     for .git/info/exclude)

Safe to run multiple times (idempotent).`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initStealth, "stealth", false, "Use .git/info/exclude instead of .gitignore")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	stateDir := filepath.Join(cwd, GetConfig().StateDir)
	for _, dir := range stateDirs {
		target := filepath.Join(stateDir, dir)
		if dryRun {
			if _, err := os.Stat(target); os.IsNotExist(err) {
				fmt.Printf("[dry-run] Would create %s\n", dir)
			}
			continue
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if isGitRepository(cwd) {
		if err := setupGitignore(cwd, GetConfig().StateDir, dryRun, initStealth); err != nil {
			return fmt.Errorf("setup gitignore: %w", err)
		}
	} else {
		VerbosePrintf("not a git repo — skipping gitignore setup\n")
	}

	if !dryRun {
		fmt.Printf("wheelhouse initialized in %s\n", GetConfig().StateDir)
	}
	return nil
}

func isGitRepository(cwd string) bool {
	cmd := exec.Command("git", "-C", cwd, "rev-parse", "--is-inside-work-tree")
	return cmd.Run() == nil
}

func setupGitignore(cwd, stateDir string, dryRun, stealth bool) error {
	entry := stateDir + "/"
	if stealth {
		return appendIfMissing(filepath.Join(cwd, ".git", "info", "exclude"), entry, dryRun)
	}
	return appendIfMissing(filepath.Join(cwd, ".gitignore"), entry, dryRun)
}

func appendIfMissing(path, entry string, dryRun bool) error {
	if containsLine(path, entry) {
		return nil
	}
	if dryRun {
		fmt.Printf("[dry-run] Would append %q to %s\n", entry, path)
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\n", entry)
	return err
}

func containsLine(path, line string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == strings.TrimSpace(line) {
			return true
		}
	}
	return false
}
