package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/config"
)

var (
	// Global flags
	dryRun  bool
	verbose bool
	output  string
	cfgFile string

	// loadedConfig is populated by PersistentPreRunE and read by subcommands.
	loadedConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "wheelhouse",
	Short: "Autonomous code-improvement orchestrator",
	Long: `wheelhouse drives continuous, scoped, test-gated code changes against a
repository: it scouts proposals, schedules conflict-free waves of tickets,
runs each through plan/execute/QA, and lands them as commits or pull
requests, all while staying inside step, PR, and time budgets.

Core Commands:
  init       Initialize wheelhouse state in the current repository
  auto       Run autonomous cycles (ci|work|default modes)
  run        Run a single ticket by ID
  qa         Run a QA command and record calibrated pass-rate statistics
  tui        Interactive status view of the current run
  artifacts  Inspect and prune run artifacts`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadRootConfig()
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .wheelhouse/config.yaml)")
}

func loadRootConfig() error {
	syncConfigFlagToEnv()

	flagOverrides := &config.Config{}
	if output != "" {
		flagOverrides.Output = output
	}
	flagOverrides.Verbose = verbose

	cfg, err := config.Load(flagOverrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loadedConfig = cfg
	return nil
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("WHEELHOUSE_CONFIG", path)
}

// GetDryRun returns the dry-run flag value for use by subcommands.
func GetDryRun() bool { return dryRun }

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool { return verbose }

// GetOutput returns the output format for use by subcommands.
func GetOutput() string { return output }

// GetConfig returns the resolved configuration, loaded in PersistentPreRunE.
func GetConfig() *config.Config {
	if loadedConfig == nil {
		return config.Default()
	}
	return loadedConfig
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func main() {
	Execute()
}
