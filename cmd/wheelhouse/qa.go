package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/learnings"
	"github.com/wheelhouse-dev/wheelhouse/internal/store"
)

var qaTimeout time.Duration

var qaCmd = &cobra.Command{
	Use:   "qa <command>",
	Short: "Run a QA command and record its calibrated pass-rate statistics",
	Long: `Run the given shell command (via "sh -c") under a timeout, record its
pass/fail outcome to qa-stats.json, and recalibrate the command's
confidence anchor once the observed pass rate drifts outside the
hysteresis band.`,
	Args: cobra.ExactArgs(1),
	RunE: runQA,
}

func init() {
	qaCmd.Flags().DurationVar(&qaTimeout, "timeout", 30*time.Second, "Command timeout")
	rootCmd.AddCommand(qaCmd)
}

// qaStatsFile is the per-command statistics persisted across runs.
type qaStatsFile struct {
	Commands map[string]*qaCommandStats `json:"commands"`
}

type qaCommandStats struct {
	PassCount int                         `json:"pass_count"`
	FailCount int                         `json:"fail_count"`
	Anchor    learnings.CalibrationAnchor `json:"anchor"`
}

func qaStatsPath() string {
	return filepath.Join(GetConfig().StateDir, "qa-stats.json")
}

func runQA(cmd *cobra.Command, args []string) error {
	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), qaTimeout)
	defer cancel()

	execCmd := exec.CommandContext(ctx, "sh", "-c", command)
	var out bytes.Buffer
	execCmd.Stdout = &out
	execCmd.Stderr = &out
	runErr := execCmd.Run()
	passed := runErr == nil

	stats, err := loadQAStats()
	if err != nil {
		return fmt.Errorf("load qa stats: %w", err)
	}
	entry := recordQAOutcome(stats, command, passed)

	if err := store.WriteJSON(qaStatsPath(), stats); err != nil {
		return fmt.Errorf("write qa stats: %w", err)
	}

	if GetOutput() == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
			"command":         command,
			"passed":          passed,
			"pass_count":      entry.PassCount,
			"fail_count":      entry.FailCount,
			"calibrated_rate": entry.Anchor.LastCalibratedRate,
			"stdout":          out.String(),
		})
	}

	status := "PASS"
	if !passed {
		status = "FAIL"
	}
	fmt.Printf("%s  %s  (calibrated rate %.2f)\n", status, command, entry.Anchor.LastCalibratedRate)
	if !passed {
		fmt.Print(out.String())
		return fmt.Errorf("qa command failed")
	}
	return nil
}

func loadQAStats() (*qaStatsFile, error) {
	stats := &qaStatsFile{Commands: map[string]*qaCommandStats{}}
	ok, err := store.ReadJSON(qaStatsPath(), stats)
	if err != nil {
		return nil, err
	}
	if !ok || stats.Commands == nil {
		stats.Commands = map[string]*qaCommandStats{}
	}
	return stats, nil
}

func recordQAOutcome(stats *qaStatsFile, command string, passed bool) *qaCommandStats {
	entry, ok := stats.Commands[command]
	if !ok {
		entry = &qaCommandStats{Anchor: learnings.CalibrationAnchor{Command: command}}
		stats.Commands[command] = entry
	}
	if passed {
		entry.PassCount++
	} else {
		entry.FailCount++
	}
	total := entry.PassCount + entry.FailCount
	observedRate := float64(entry.PassCount) / float64(total)
	entry.Anchor = learnings.CalibrateConfidence(entry.Anchor, observedRate, GetConfig().Scope.HysteresisBand)
	return entry
}
