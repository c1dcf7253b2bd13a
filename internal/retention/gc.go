package retention

import (
	"path/filepath"
	"sync"

	"github.com/wheelhouse-dev/wheelhouse/internal/store"
)

// Run performs one full bounded-GC pass over a state directory. Every
// sub-prune is independently bounded and dry-run-capable.
func Run(stateDir string, opts Options) (Report, error) {
	var report Report

	removed, err := PruneRuns(filepath.Join(stateDir, "runs"), opts.KeepRuns, opts.DryRun)
	if err != nil {
		return report, err
	}
	report.RunsRemoved = removed

	if err := PruneHistory(filepath.Join(stateDir, "history.ndjson"), opts.KeepHistoryLines, opts.DryRun); err != nil {
		return report, err
	}
	report.HistoryTrimmed = opts.KeepHistoryLines > 0 && !opts.DryRun

	if err := PruneMetrics(filepath.Join(stateDir, "metrics.ndjson"), opts.KeepMetricsLines, opts.DryRun); err != nil {
		return report, err
	}
	report.MetricsTrimmed = opts.KeepMetricsLines > 0 && !opts.DryRun

	perRunRemoved, err := PruneRunArtifacts(filepath.Join(stateDir, "runs"), opts.KeepArtifactsPerRun, opts.DryRun)
	if err != nil {
		return report, err
	}
	report.ArtifactsRemoved = append(report.ArtifactsRemoved, perRunRemoved...)

	if err := PruneDeferredProposals(filepath.Join(stateDir, "spool", "deferred-proposals.ndjson"), opts.KeepDeferredProposals, opts.DryRun); err != nil {
		return report, err
	}

	spoolRemoved, err := PruneSpoolArchives(filepath.Join(stateDir, "spool"), opts.KeepSpoolArchives, opts.DryRun)
	if err != nil {
		return report, err
	}
	report.SpoolRemoved = spoolRemoved

	rotated, err := RotateLog(filepath.Join(stateDir, "tui.log"), opts.MaxLogBytes, opts.DryRun)
	if err != nil {
		return report, err
	}
	report.LogRotated = rotated

	ageRemoved, err := PruneArtifactsByAge(filepath.Join(stateDir, "artifacts"), opts.MaxArtifactAgeDays, opts.DryRun)
	if err != nil {
		return report, err
	}
	report.ArtifactsRemoved = append(report.ArtifactsRemoved, ageRemoved...)

	return report, nil
}

// qaBaselineWarnOnce guards the single non-fatal warning per session for the
// best-effort qa-baseline.json write: failures are swallowed, but the first
// one in a process is surfaced once.
var qaBaselineWarnOnce sync.Once

// WriteQABaselineBestEffort writes qa-baseline.json, swallowing all errors
// except surfacing one warning (via onWarn) the first time a write fails in
// this process.
func WriteQABaselineBestEffort(stateDir string, baseline any, onWarn func(error)) {
	path := filepath.Join(stateDir, "qa-baseline.json")
	if err := store.WriteJSON(path, baseline); err != nil {
		qaBaselineWarnOnce.Do(func() {
			if onWarn != nil {
				onWarn(err)
			}
		})
	}
}
