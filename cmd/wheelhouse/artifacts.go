package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/retention"
)

var artifactsPrune bool

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect and prune run artifacts",
	Long: `List the diffs, executions, and violations recorded under
<state-dir>/artifacts/, or run a full bounded retention pass with --prune.`,
	RunE: runArtifacts,
}

func init() {
	artifactsCmd.Flags().BoolVar(&artifactsPrune, "prune", false, "Run the bounded retention pass instead of listing")
	rootCmd.AddCommand(artifactsCmd)
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if artifactsPrune {
		report, err := retention.Run(cfg.StateDir, retention.Options{
			KeepRuns:              cfg.Retention.KeepRuns,
			KeepHistoryLines:      cfg.Retention.KeepHistoryLines,
			KeepMetricsLines:      cfg.Retention.KeepMetricsLines,
			KeepArtifactsPerRun:   cfg.Retention.KeepArtifactsPerRun,
			KeepSpoolArchives:     cfg.Retention.KeepSpoolArchives,
			MaxLogBytes:           int64(cfg.Retention.MaxLogBytes),
			MaxArtifactAgeDays:    cfg.Retention.MaxArtifactAgeDays,
			KeepDeferredProposals: cfg.Retention.KeepDeferredProposals,
			DryRun:                dryRun,
		})
		if err != nil {
			return fmt.Errorf("run retention pass: %w", err)
		}
		fmt.Printf("removed %d runs, %d artifacts, %d spool archives\n",
			len(report.RunsRemoved), len(report.ArtifactsRemoved), len(report.SpoolRemoved))
		return nil
	}

	return listArtifacts(cfg.StateDir)
}

// artifactCategories are the subdirectories under <state-dir>/artifacts/
// the "artifacts" command lists.
var artifactCategories = []string{"diffs", "executions", "violations"}

// listArtifacts prints a CATEGORY/FILE/MODIFIED table of everything under
// <state-dir>/artifacts/, one tab-aligned row per file, category in
// artifactCategories order and files sorted by name within a category.
// Prints nothing if no artifacts are found.
func listArtifacts(stateDir string) error {
	type row struct {
		category, file, modified string
	}
	var rows []row

	for _, category := range artifactCategories {
		dir := filepath.Join(stateDir, "artifacts", category)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", dir, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			rows = append(rows, row{category, e.Name(), info.ModTime().Format("2006-01-02 15:04")})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tFILE\tMODIFIED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.category, r.file, r.modified)
	}
	return w.Flush()
}
