package retention

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/internal/store"
)

// Options configures one prune pass. Every field is "keep
// newest N"; 0 or negative means "no pruning for this category".
type Options struct {
	KeepRuns              int
	KeepHistoryLines      int
	KeepMetricsLines      int
	KeepArtifactsPerRun   int
	KeepSpoolArchives     int
	MaxLogBytes           int64
	MaxArtifactAgeDays    int
	KeepDeferredProposals int
	DryRun                bool
}

// Report summarizes what a prune pass did (or would do, under DryRun).
type Report struct {
	RunsRemoved      []string
	ArtifactsRemoved []string
	SpoolRemoved     []string
	HistoryTrimmed   bool
	MetricsTrimmed   bool
	LogRotated       bool
}

// PruneRuns keeps the newest N run folders by mtime under runsDir.
func PruneRuns(runsDir string, keep int, dryRun bool) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type named struct {
		name    string
		modTime time.Time
	}
	var dirs []named
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, named{name: e.Name(), modTime: info.ModTime()})
	}
	if len(dirs) <= keep {
		return nil, nil
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime.After(dirs[j].modTime) })

	var removed []string
	for _, d := range dirs[keep:] {
		removed = append(removed, d.name)
		if !dryRun {
			if err := os.RemoveAll(filepath.Join(runsDir, d.name)); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// PruneArtifactsByCount keeps the newest N files in dir.
func PruneArtifactsByCount(dir string, keep int, dryRun bool) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type named struct {
		name    string
		modTime time.Time
	}
	var files []named
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, named{name: e.Name(), modTime: info.ModTime()})
	}
	if len(files) <= keep {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	var removed []string
	for _, f := range files[keep:] {
		removed = append(removed, f.name)
		if !dryRun {
			if err := os.Remove(filepath.Join(dir, f.name)); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// PruneSpoolArchives keeps the newest N files matching "*.archived.ndjson".
func PruneSpoolArchives(spoolDir string, keep int, dryRun bool) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(spoolDir, "*.archived.ndjson"))
	if err != nil {
		return nil, err
	}
	if keep <= 0 || len(matches) <= keep {
		return nil, nil
	}

	type named struct {
		path    string
		modTime time.Time
	}
	var files []named
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, named{path: m, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	var removed []string
	for _, f := range files[keep:] {
		removed = append(removed, f.path)
		if !dryRun {
			if err := os.Remove(f.path); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// RotateLog renames logPath to logPath+".1" (overwriting any prior backup)
// when it exceeds maxBytes.
func RotateLog(logPath string, maxBytes int64, dryRun bool) (rotated bool, err error) {
	info, err := os.Stat(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.Size() <= maxBytes {
		return false, nil
	}
	if dryRun {
		return true, nil
	}
	backupPath := logPath + ".1"
	if err := os.Rename(logPath, backupPath); err != nil {
		return false, err
	}
	return true, nil
}

// PruneArtifactsByAge removes files under dir older than maxDays and any
// subdirectories left empty afterward.
func PruneArtifactsByAge(dir string, maxDays int, dryRun bool) ([]string, error) {
	if maxDays <= 0 {
		return nil, nil
	}
	cutoff := time.Now().AddDate(0, 0, -maxDays)

	var removed []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // a single unreadable entry must not abort the whole GC pass
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			return nil
		}
		removed = append(removed, path)
		if !dryRun {
			return os.Remove(path)
		}
		return nil
	})
	if err != nil {
		return removed, err
	}
	if !dryRun {
		removeEmptyDirs(dir)
	}
	return removed, nil
}

func removeEmptyDirs(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(root, e.Name())
		removeEmptyDirs(sub)
		remaining, err := os.ReadDir(sub)
		if err == nil && len(remaining) == 0 {
			_ = os.Remove(sub)
		}
	}
}

// PruneRunArtifacts keeps the newest N files in each run folder's artifacts/
// subdirectory.
func PruneRunArtifacts(runsDir string, keepPerRun int, dryRun bool) ([]string, error) {
	if keepPerRun <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(runsDir, e.Name(), "artifacts")
		names, err := PruneArtifactsByCount(dir, keepPerRun, dryRun)
		if err != nil {
			return removed, err
		}
		for _, n := range names {
			removed = append(removed, filepath.Join(e.Name(), "artifacts", n))
		}
	}
	return removed, nil
}

// PruneDeferredProposals trims the deferred-proposals buffer to its newest
// keep lines.
func PruneDeferredProposals(path string, keep int, dryRun bool) error {
	if keep <= 0 || dryRun {
		return nil
	}
	return store.TrimNDJSONLines(path, keep)
}

// PruneHistory trims history.ndjson to the newest keep lines.
func PruneHistory(path string, keep int, dryRun bool) error {
	if keep <= 0 || dryRun {
		return nil
	}
	return store.TrimNDJSONLines(path, keep)
}

// PruneMetrics trims metrics.ndjson to the newest keep lines.
func PruneMetrics(path string, keep int, dryRun bool) error {
	if keep <= 0 || dryRun {
		return nil
	}
	return store.TrimNDJSONLines(path, keep)
}
