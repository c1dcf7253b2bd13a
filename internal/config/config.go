// Package config provides configuration management for wheelhouse.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (WHEELHOUSE_*)
// 3. Project config (.wheelhouse/config.yaml in cwd)
// 4. Home config (~/.wheelhouse/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all wheelhouse configuration.
type Config struct {
	// Output controls the default output format (table, json).
	Output string `yaml:"output" json:"output"`

	// StateDir is the repository-relative state directory (default: .wheelhouse).
	StateDir string `yaml:"state_dir" json:"state_dir"`

	// Verbose enables verbose diagnostics.
	Verbose bool `yaml:"verbose" json:"verbose"`

	Session   SessionConfig   `yaml:"session" json:"session"`
	Wave      WaveConfig      `yaml:"wave" json:"wave"`
	Spindle   SpindleConfig   `yaml:"spindle" json:"spindle"`
	Scope     ScopeConfig     `yaml:"scope" json:"scope"`
	Retention RetentionConfig `yaml:"retention" json:"retention"`
	Cycle     CycleConfig     `yaml:"cycle" json:"cycle"`
	Learnings LearningsConfig `yaml:"learnings" json:"learnings"`
}

// SessionConfig holds session-level defaults.
type SessionConfig struct {
	StepBudget    int    `yaml:"step_budget" json:"step_budget"`
	MaxPRs        int    `yaml:"max_prs" json:"max_prs"`
	MaxCycles     int    `yaml:"max_cycles" json:"max_cycles"`
	RunMode       string `yaml:"run_mode" json:"run_mode"`
	DeliveryMode  string `yaml:"delivery_mode" json:"delivery_mode"`
	MilestoneMode bool   `yaml:"milestone_mode" json:"milestone_mode"`
	BatchSize     int    `yaml:"batch_size" json:"batch_size"`
	ParallelLimit int    `yaml:"parallel_limit" json:"parallel_limit"`
	MaxLinesPerTk int    `yaml:"max_lines_per_ticket" json:"max_lines_per_ticket"`
}

// WaveConfig holds wave-scheduler settings.
type WaveConfig struct {
	// Sensitivity is one of relaxed, normal, strict.
	Sensitivity string `yaml:"sensitivity" json:"sensitivity"`
}

// SpindleConfig holds loop-detector thresholds.
type SpindleConfig struct {
	TokenBudgetAbort    int     `yaml:"token_budget_abort" json:"token_budget_abort"`
	TokenBudgetWarning  int     `yaml:"token_budget_warning" json:"token_budget_warning"`
	MaxStallIterations  int     `yaml:"max_stall_iterations" json:"max_stall_iterations"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	MaxSimilarOutputs   int     `yaml:"max_similar_outputs" json:"max_similar_outputs"`
	VerbosityThreshold  float64 `yaml:"verbosity_threshold" json:"verbosity_threshold"`
	MaxQaPingPong       int     `yaml:"max_qa_ping_pong" json:"max_qa_ping_pong"`
	MaxCommandFailures  int     `yaml:"max_command_failures" json:"max_command_failures"`
	MaxFileEdits        int     `yaml:"max_file_edits" json:"max_file_edits"`
}

// ScopeConfig holds scope-policy defaults.
type ScopeConfig struct {
	MaxFiles             int     `yaml:"max_files" json:"max_files"`
	DedupThreshold       float64 `yaml:"dedup_threshold" json:"dedup_threshold"`
	HysteresisBand       float64 `yaml:"hysteresis_band" json:"hysteresis_band"`
	RecentTitleCacheSize int     `yaml:"recent_title_cache_size" json:"recent_title_cache_size"`
}

// RetentionConfig holds pruning bounds.
type RetentionConfig struct {
	KeepRuns              int `yaml:"keep_runs" json:"keep_runs"`
	KeepHistoryLines      int `yaml:"keep_history_lines" json:"keep_history_lines"`
	KeepMetricsLines      int `yaml:"keep_metrics_lines" json:"keep_metrics_lines"`
	KeepArtifactsPerRun   int `yaml:"keep_artifacts_per_run" json:"keep_artifacts_per_run"`
	KeepSpoolArchives     int `yaml:"keep_spool_archives" json:"keep_spool_archives"`
	MaxLogBytes           int `yaml:"max_log_bytes" json:"max_log_bytes"`
	MaxArtifactAgeDays    int `yaml:"max_artifact_age_days" json:"max_artifact_age_days"`
	KeepDeferredProposals int `yaml:"keep_deferred_proposals" json:"keep_deferred_proposals"`
	KeepGoalMeasurements  int `yaml:"keep_goal_measurements" json:"keep_goal_measurements"`
}

// CycleConfig holds cycle-planner cadence settings.
type CycleConfig struct {
	DocsAuditEvery   int `yaml:"docs_audit_every" json:"docs_audit_every"`
	DocsAuditBackoff int `yaml:"docs_audit_backoff" json:"docs_audit_backoff"`
	DeepEveryCycles  int `yaml:"deep_every_cycles" json:"deep_every_cycles"`
}

// LearningsConfig holds learnings-store decay settings.
type LearningsConfig struct {
	DecayRatePerRun float64 `yaml:"decay_rate_per_run" json:"decay_rate_per_run"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput   = "table"
	defaultStateDir = ".wheelhouse"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:   defaultOutput,
		StateDir: defaultStateDir,
		Verbose:  false,
		Session: SessionConfig{
			StepBudget:    500,
			MaxPRs:        10,
			MaxCycles:     20,
			RunMode:       "auto",
			DeliveryMode:  "pr",
			MilestoneMode: false,
			BatchSize:     5,
			ParallelLimit: 2,
			MaxLinesPerTk: 400,
		},
		Wave: WaveConfig{
			Sensitivity: "normal",
		},
		Spindle: SpindleConfig{
			TokenBudgetAbort:    140000,
			TokenBudgetWarning:  100000,
			MaxStallIterations:  5,
			SimilarityThreshold: 0.8,
			MaxSimilarOutputs:   3,
			VerbosityThreshold:  10,
			MaxQaPingPong:       3,
			MaxCommandFailures:  3,
			MaxFileEdits:        3,
		},
		Scope: ScopeConfig{
			MaxFiles:             10,
			DedupThreshold:       0.6,
			HysteresisBand:       0.15,
			RecentTitleCacheSize: 200,
		},
		Retention: RetentionConfig{
			KeepRuns:              20,
			KeepHistoryLines:      2000,
			KeepMetricsLines:      2000,
			KeepArtifactsPerRun:   100,
			KeepSpoolArchives:     10,
			MaxLogBytes:           5 * 1024 * 1024,
			MaxArtifactAgeDays:    30,
			KeepDeferredProposals: 50,
			KeepGoalMeasurements:  500,
		},
		Cycle: CycleConfig{
			DocsAuditEvery:   3,
			DocsAuditBackoff: 10,
			DeepEveryCycles:  7,
		},
		Learnings: LearningsConfig{
			DecayRatePerRun: 0.02,
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeConfig, _ := loadFromPath(homeConfigPath()); homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	if projectConfig, _ := loadFromPath(projectConfigPath()); projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".wheelhouse", "config.yaml")
}

func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("WHEELHOUSE_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".wheelhouse", "config.yaml")
}

// loadFromPath loads config from a YAML file. A missing or malformed file is
// treated as "no overrides" rather than a fatal error: malformed config keys
// fall back to defaults.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil //nolint:nilerr // malformed config falls back to defaults, not fatal
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("WHEELHOUSE_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("WHEELHOUSE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("WHEELHOUSE_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("WHEELHOUSE_MAX_PRS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.MaxPRs = n
		}
	}
	if v := os.Getenv("WHEELHOUSE_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.ParallelLimit = n
		}
	}
	if v := os.Getenv("WHEELHOUSE_DELIVERY_MODE"); v != "" {
		cfg.Session.DeliveryMode = v
	}
	if v := os.Getenv("WHEELHOUSE_WAVE_SENSITIVITY"); v != "" {
		cfg.Wave.Sensitivity = v
	}
	return cfg
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.StateDir != "" {
		dst.StateDir = src.StateDir
	}
	if src.Verbose {
		dst.Verbose = true
	}
	if src.Session.StepBudget != 0 {
		dst.Session.StepBudget = src.Session.StepBudget
	}
	if src.Session.MaxPRs != 0 {
		dst.Session.MaxPRs = src.Session.MaxPRs
	}
	if src.Session.MaxCycles != 0 {
		dst.Session.MaxCycles = src.Session.MaxCycles
	}
	if src.Session.RunMode != "" {
		dst.Session.RunMode = src.Session.RunMode
	}
	if src.Session.DeliveryMode != "" {
		dst.Session.DeliveryMode = src.Session.DeliveryMode
	}
	if src.Session.MilestoneMode {
		dst.Session.MilestoneMode = true
	}
	if src.Session.BatchSize != 0 {
		dst.Session.BatchSize = src.Session.BatchSize
	}
	if src.Session.ParallelLimit != 0 {
		dst.Session.ParallelLimit = src.Session.ParallelLimit
	}
	if src.Session.MaxLinesPerTk != 0 {
		dst.Session.MaxLinesPerTk = src.Session.MaxLinesPerTk
	}
	if src.Wave.Sensitivity != "" {
		dst.Wave.Sensitivity = src.Wave.Sensitivity
	}
	if src.Spindle.TokenBudgetAbort != 0 {
		dst.Spindle.TokenBudgetAbort = src.Spindle.TokenBudgetAbort
	}
	if src.Spindle.TokenBudgetWarning != 0 {
		dst.Spindle.TokenBudgetWarning = src.Spindle.TokenBudgetWarning
	}
	if src.Spindle.MaxStallIterations != 0 {
		dst.Spindle.MaxStallIterations = src.Spindle.MaxStallIterations
	}
	if src.Spindle.SimilarityThreshold != 0 {
		dst.Spindle.SimilarityThreshold = src.Spindle.SimilarityThreshold
	}
	if src.Spindle.MaxSimilarOutputs != 0 {
		dst.Spindle.MaxSimilarOutputs = src.Spindle.MaxSimilarOutputs
	}
	if src.Spindle.VerbosityThreshold != 0 {
		dst.Spindle.VerbosityThreshold = src.Spindle.VerbosityThreshold
	}
	if src.Spindle.MaxQaPingPong != 0 {
		dst.Spindle.MaxQaPingPong = src.Spindle.MaxQaPingPong
	}
	if src.Spindle.MaxCommandFailures != 0 {
		dst.Spindle.MaxCommandFailures = src.Spindle.MaxCommandFailures
	}
	if src.Spindle.MaxFileEdits != 0 {
		dst.Spindle.MaxFileEdits = src.Spindle.MaxFileEdits
	}
	if src.Scope.MaxFiles != 0 {
		dst.Scope.MaxFiles = src.Scope.MaxFiles
	}
	if src.Scope.DedupThreshold != 0 {
		dst.Scope.DedupThreshold = src.Scope.DedupThreshold
	}
	if src.Scope.HysteresisBand != 0 {
		dst.Scope.HysteresisBand = src.Scope.HysteresisBand
	}
	if src.Scope.RecentTitleCacheSize != 0 {
		dst.Scope.RecentTitleCacheSize = src.Scope.RecentTitleCacheSize
	}
	if src.Retention.KeepRuns != 0 {
		dst.Retention.KeepRuns = src.Retention.KeepRuns
	}
	if src.Retention.KeepHistoryLines != 0 {
		dst.Retention.KeepHistoryLines = src.Retention.KeepHistoryLines
	}
	if src.Retention.KeepMetricsLines != 0 {
		dst.Retention.KeepMetricsLines = src.Retention.KeepMetricsLines
	}
	if src.Retention.KeepArtifactsPerRun != 0 {
		dst.Retention.KeepArtifactsPerRun = src.Retention.KeepArtifactsPerRun
	}
	if src.Retention.KeepSpoolArchives != 0 {
		dst.Retention.KeepSpoolArchives = src.Retention.KeepSpoolArchives
	}
	if src.Retention.MaxLogBytes != 0 {
		dst.Retention.MaxLogBytes = src.Retention.MaxLogBytes
	}
	if src.Retention.MaxArtifactAgeDays != 0 {
		dst.Retention.MaxArtifactAgeDays = src.Retention.MaxArtifactAgeDays
	}
	if src.Retention.KeepDeferredProposals != 0 {
		dst.Retention.KeepDeferredProposals = src.Retention.KeepDeferredProposals
	}
	if src.Retention.KeepGoalMeasurements != 0 {
		dst.Retention.KeepGoalMeasurements = src.Retention.KeepGoalMeasurements
	}
	if src.Cycle.DocsAuditEvery != 0 {
		dst.Cycle.DocsAuditEvery = src.Cycle.DocsAuditEvery
	}
	if src.Cycle.DocsAuditBackoff != 0 {
		dst.Cycle.DocsAuditBackoff = src.Cycle.DocsAuditBackoff
	}
	if src.Cycle.DeepEveryCycles != 0 {
		dst.Cycle.DeepEveryCycles = src.Cycle.DeepEveryCycles
	}
	if src.Learnings.DecayRatePerRun != 0 {
		dst.Learnings.DecayRatePerRun = src.Learnings.DecayRatePerRun
	}

	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.wheelhouse/config.yaml"
	SourceProject Source = ".wheelhouse/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

type resolved struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
}

// ResolvedConfig shows config values with their sources, for `wheelhouse init
// --show-config`-style diagnostics.
type ResolvedConfig struct {
	Output   resolved `json:"output"`
	StateDir resolved `json:"state_dir"`
	Verbose  resolved `json:"verbose"`
}

func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "true" || v == "1" {
		return true, true
	}
	return false, false
}

func resolveStringField(home, project, env, flag, def string) resolved {
	result := resolved{Value: def, Source: SourceDefault}
	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// Resolve returns configuration with source tracking, using the precedence
// chain flags > env > project > home > defaults.
func Resolve(flagOutput, flagStateDir string, flagVerbose bool) *ResolvedConfig {
	homeConfig, _ := loadFromPath(homeConfigPath())
	projectConfig, _ := loadFromPath(projectConfigPath())

	var homeOutput, homeStateDir string
	var homeVerbose bool
	if homeConfig != nil {
		homeOutput = homeConfig.Output
		homeStateDir = homeConfig.StateDir
		homeVerbose = homeConfig.Verbose
	}

	var projectOutput, projectStateDir string
	var projectVerbose bool
	if projectConfig != nil {
		projectOutput = projectConfig.Output
		projectStateDir = projectConfig.StateDir
		projectVerbose = projectConfig.Verbose
	}

	envOutput, _ := getEnvString("WHEELHOUSE_OUTPUT")
	envStateDir, _ := getEnvString("WHEELHOUSE_STATE_DIR")
	envVerbose, envVerboseSet := getEnvBool("WHEELHOUSE_VERBOSE")

	rc := &ResolvedConfig{
		Output:   resolveStringField(homeOutput, projectOutput, envOutput, flagOutput, defaultOutput),
		StateDir: resolveStringField(homeStateDir, projectStateDir, envStateDir, flagStateDir, defaultStateDir),
		Verbose:  resolved{Value: false, Source: SourceDefault},
	}

	if homeVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceHome}
	}
	if projectVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceProject}
	}
	if envVerboseSet && envVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceEnv}
	}
	if flagVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceFlag}
	}

	return rc
}
