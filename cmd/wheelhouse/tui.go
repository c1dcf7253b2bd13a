package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/eventlog"
	"github.com/wheelhouse-dev/wheelhouse/internal/retention"
)

const tuiLogMaxBytes = 5 * 1024 * 1024

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive status view of the current run",
	Long: `Poll the most recently modified run's state.json and render its digest
(phase, budget remaining, spindle risk, tickets completed/failed) as a
live-updating terminal view. Press q or Ctrl-C to exit.`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logPath := filepath.Join(cfg.StateDir, "tui.log")
	if _, err := retention.RotateLog(logPath, tuiLogMaxBytes, dryRun); err != nil {
		VerbosePrintf("rotate tui.log: %v\n", err)
	}

	m := newTuiModel(cfg.StateDir, logPath)
	p := tea.NewProgram(m)
	_, err := p.Run()
	return err
}

type tuiTickMsg time.Time

type tuiModel struct {
	stateDir string
	logPath  string
	digest   eventlog.Digest
	runID    string
	found    bool
	err      error
}

func newTuiModel(stateDir, logPath string) tuiModel {
	return tuiModel{stateDir: stateDir, logPath: logPath}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(m.pollCmd(), tuiTick())
}

func tuiTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tuiTickMsg(t) })
}

func (m tuiModel) pollCmd() tea.Cmd {
	stateDir := m.stateDir
	logPath := m.logPath
	return func() tea.Msg {
		runID, digest, found, err := latestDigest(stateDir)
		if err == nil {
			appendTuiLog(logPath, runID, digest, found)
		}
		return tuiPollMsg{runID: runID, digest: digest, found: found, err: err}
	}
}

type tuiPollMsg struct {
	runID  string
	digest eventlog.Digest
	found  bool
	err    error
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tuiTickMsg:
		return m, tea.Batch(m.pollCmd(), tuiTick())
	case tuiPollMsg:
		m.runID = msg.runID
		m.digest = msg.digest
		m.found = msg.found
		m.err = msg.err
	}
	return m, nil
}

var (
	tuiTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tuiRiskStyle  = map[eventlog.SpindleRisk]lipgloss.Style{
		eventlog.SpindleRiskNone:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		eventlog.SpindleRiskLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		eventlog.SpindleRiskMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		eventlog.SpindleRiskHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

func (m tuiModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("wheelhouse tui: %v\n(q to quit)\n", m.err)
	}
	if !m.found {
		return "no run state found yet — waiting for a session to start\n(q to quit)\n"
	}

	risk := tuiRiskStyle[m.digest.SpindleRisk].Render(string(m.digest.SpindleRisk))
	var b string
	b += tuiTitleStyle.Render("wheelhouse — "+m.runID) + "\n\n"
	b += tuiLabelStyle.Render("phase:                    ") + m.digest.Phase + "\n"
	b += tuiLabelStyle.Render("step:                     ") + fmt.Sprintf("%d", m.digest.Step) + "\n"
	b += tuiLabelStyle.Render("tickets completed/failed: ") + fmt.Sprintf("%d / %d", m.digest.TicketsCompleted, m.digest.TicketsFailed) + "\n"
	b += tuiLabelStyle.Render("budget remaining:         ") + fmt.Sprintf("%d", m.digest.BudgetRemaining) + "\n"
	b += tuiLabelStyle.Render("ticket budget remaining:  ") + fmt.Sprintf("%d", m.digest.TicketBudgetRemaining) + "\n"
	b += tuiLabelStyle.Render("spindle risk:             ") + risk + "\n"
	b += tuiLabelStyle.Render("time remaining:           ") + time.Duration(m.digest.TimeRemainingMS*int64(time.Millisecond)).Round(time.Second).String() + "\n"
	b += "\n(q to quit)\n"
	return b
}

// latestDigest finds the most recently modified run folder under
// <stateDir>/runs and returns its state's digest.
func latestDigest(stateDir string) (runID string, digest eventlog.Digest, found bool, err error) {
	runsDir := filepath.Join(stateDir, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", eventlog.Digest{}, false, nil
		}
		return "", eventlog.Digest{}, false, err
	}

	type candidate struct {
		id      string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{id: e.Name(), modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", eventlog.Digest{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })

	log := eventlog.NewLog(stateDir, candidates[0].id)
	state, ok, err := log.ReadState()
	if err != nil {
		return candidates[0].id, eventlog.Digest{}, false, err
	}
	if !ok {
		return candidates[0].id, eventlog.Digest{}, false, nil
	}
	return candidates[0].id, eventlog.BuildDigest(state), true, nil
}

func appendTuiLog(logPath, runID string, digest eventlog.Digest, found bool) {
	if !found {
		return
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s run=%s phase=%s step=%d tickets=%d/%d risk=%s\n",
		time.Now().UTC().Format(time.RFC3339), runID, digest.Phase, digest.Step,
		digest.TicketsCompleted, digest.TicketsFailed, digest.SpindleRisk)
}
