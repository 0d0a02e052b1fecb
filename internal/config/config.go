// Package config loads ralph's layered configuration: compiled defaults,
// then .ralph/config.yaml, then RALPH_* environment variables. Command-line
// flags are applied by the CLI layer on top of what Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ralphloop/ralph/internal/types"
)

// ConfigDir is the workspace-relative directory ralph keeps its state in
const ConfigDir = ".ralph"

// FileName is the config file name inside ConfigDir
const FileName = "config.yaml"

// Duration wraps time.Duration so YAML values like "20m" or "1h30m" decode
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"20m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AgentConfig selects and tunes the external coding agent CLI
type AgentConfig struct {
	// Kind is claude, amp, or custom
	Kind types.AgentKind `yaml:"kind"`
	// Command is the argv for custom agents; ignored for claude/amp
	Command []string `yaml:"command,omitempty"`
	// ExtraArgs are appended to the built-in command line
	ExtraArgs []string `yaml:"extra_args,omitempty"`
	// Timeout bounds a single agent invocation
	Timeout Duration `yaml:"timeout"`
	// MinVersion is the lowest agent version doctor accepts (semver, "v" optional)
	MinVersion string `yaml:"min_version,omitempty"`
}

// LoopConfig tunes the iteration loop itself
type LoopConfig struct {
	// MaxIterations bounds the loop; the run stops here if nothing completes it
	MaxIterations int `yaml:"max_iterations"`
	// RetryLimit is how many times one iteration re-spawns a failing agent
	RetryLimit int `yaml:"retry_limit"`
	// RetryBackoff is the base delay between retries (doubles per attempt)
	RetryBackoff Duration `yaml:"retry_backoff"`
	// SpawnInterval is the minimum spacing between agent launches
	SpawnInterval Duration `yaml:"spawn_interval"`
	// StallWindow is how many consecutive no-progress iterations stop the run
	StallWindow int `yaml:"stall_window"`
	// StallClaims is how many consecutive unconfirmed completion claims stop it
	StallClaims int `yaml:"stall_claims"`
}

// FilesConfig names the operator-owned files the loop reads
type FilesConfig struct {
	// Prompt is the prompt template fed to the agent each iteration
	Prompt string `yaml:"prompt"`
	// Plan is the markdown checkbox file tracking remaining work ("" disables)
	Plan string `yaml:"plan"`
	// Marker is the literal completion string scanned for in agent output
	Marker string `yaml:"marker"`
}

// GatesConfig lists verification commands run after each iteration
type GatesConfig struct {
	// Commands maps gate name to a shell command run in the workspace
	Commands map[string]string `yaml:"commands,omitempty"`
	// Timeout bounds the whole gate batch
	Timeout Duration `yaml:"timeout"`
	// Required makes a failing gate veto completion, whether claimed by
	// marker or by a fully checked plan
	Required bool `yaml:"required"`
}

// BudgetConfig caps what a run may spend. Zero means unlimited.
type BudgetConfig struct {
	// MaxCostUSD caps cumulative agent-reported cost
	MaxCostUSD float64 `yaml:"max_cost_usd"`
	// MaxWallClock caps total run duration
	MaxWallClock Duration `yaml:"max_wall_clock"`
	// AlertThreshold is the budget fraction that triggers a warning event
	AlertThreshold float64 `yaml:"alert_threshold"`
}

// StoreConfig locates the run-history database
type StoreConfig struct {
	// Path is the sqlite database file, relative to the workspace
	Path string `yaml:"path"`
	// RetainRuns is how many finished runs prune keeps
	RetainRuns int `yaml:"retain_runs"`
	// RetainAge is how old a finished run must be before prune may drop it
	RetainAge Duration `yaml:"retain_age"`
}

// LogConfig controls the per-run JSONL event log
type LogConfig struct {
	// Dir holds run logs, relative to the workspace
	Dir string `yaml:"dir"`
	// Level is the zerolog level name (debug, info, warn, error)
	Level string `yaml:"level"`
}

// Config is the full ralph configuration
type Config struct {
	Agent  AgentConfig  `yaml:"agent"`
	Loop   LoopConfig   `yaml:"loop"`
	Files  FilesConfig  `yaml:"files"`
	Gates  GatesConfig  `yaml:"gates"`
	Budget BudgetConfig `yaml:"budget"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// DefaultConfig returns the compiled-in defaults
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Kind:    types.AgentClaudeCode,
			Timeout: Duration(20 * time.Minute),
		},
		Loop: LoopConfig{
			MaxIterations: 25,
			RetryLimit:    3,
			RetryBackoff:  Duration(10 * time.Second),
			SpawnInterval: Duration(5 * time.Second),
			StallWindow:   5,
			StallClaims:   3,
		},
		Files: FilesConfig{
			Prompt: "PROMPT.md",
			Plan:   "fix_plan.md",
			Marker: "RALPH_DONE",
		},
		Gates: GatesConfig{
			Timeout: Duration(10 * time.Minute),
		},
		Budget: BudgetConfig{
			AlertThreshold: 0.80,
		},
		Store: StoreConfig{
			Path:       filepath.Join(ConfigDir, "ralph.db"),
			RetainRuns: 50,
			RetainAge:  Duration(30 * 24 * time.Hour),
		},
		Log: LogConfig{
			Dir:   filepath.Join(ConfigDir, "logs"),
			Level: "info",
		},
	}
}

// Load builds the effective config for a workspace: defaults, overlaid by
// .ralph/config.yaml when present, overlaid by RALPH_* environment
// variables. A missing config file is fine; a malformed one is an error.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ConfigDir, FileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays RALPH_* environment variables. Unparsable values are
// ignored so a stray export never bricks the loop.
func (c *Config) applyEnv() {
	if val := os.Getenv("RALPH_AGENT"); val != "" {
		kind := types.AgentKind(val)
		if kind.IsValid() {
			c.Agent.Kind = kind
		}
	}
	if val := os.Getenv("RALPH_AGENT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			c.Agent.Timeout = Duration(d)
		}
	}
	if val := os.Getenv("RALPH_MAX_ITERATIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 1 {
			c.Loop.MaxIterations = n
		}
	}
	if val := os.Getenv("RALPH_RETRY_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			c.Loop.RetryLimit = n
		}
	}
	if val := os.Getenv("RALPH_SPAWN_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d >= 0 {
			c.Loop.SpawnInterval = Duration(d)
		}
	}
	if val := os.Getenv("RALPH_PROMPT"); val != "" {
		c.Files.Prompt = val
	}
	if val := os.Getenv("RALPH_PLAN"); val != "" {
		c.Files.Plan = val
	}
	if val := os.Getenv("RALPH_MARKER"); val != "" {
		c.Files.Marker = val
	}
	if val := os.Getenv("RALPH_MAX_COST_USD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 {
			c.Budget.MaxCostUSD = f
		}
	}
	if val := os.Getenv("RALPH_MAX_WALL_CLOCK"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d >= 0 {
			c.Budget.MaxWallClock = Duration(d)
		}
	}
	if val := os.Getenv("RALPH_DB_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("RALPH_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if !c.Agent.Kind.IsValid() {
		return fmt.Errorf("agent.kind must be claude, amp, or custom (got %q)", c.Agent.Kind)
	}
	if c.Agent.Kind == types.AgentCustom && len(c.Agent.Command) == 0 {
		return fmt.Errorf("agent.command is required when agent.kind is custom")
	}
	if c.Agent.Timeout.Std() <= 0 {
		return fmt.Errorf("agent.timeout must be positive, got %v", c.Agent.Timeout.Std())
	}
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be at least 1, got %d", c.Loop.MaxIterations)
	}
	if c.Loop.RetryLimit < 0 {
		return fmt.Errorf("loop.retry_limit must be non-negative, got %d", c.Loop.RetryLimit)
	}
	if c.Loop.SpawnInterval.Std() < 0 {
		return fmt.Errorf("loop.spawn_interval must be non-negative, got %v", c.Loop.SpawnInterval.Std())
	}
	if c.Loop.StallWindow < 0 {
		return fmt.Errorf("loop.stall_window must be non-negative, got %d", c.Loop.StallWindow)
	}
	if c.Loop.StallClaims < 0 {
		return fmt.Errorf("loop.stall_claims must be non-negative, got %d", c.Loop.StallClaims)
	}
	if c.Files.Prompt == "" {
		return fmt.Errorf("files.prompt is required")
	}
	if c.Files.Marker == "" {
		return fmt.Errorf("files.marker is required")
	}
	if c.Gates.Timeout.Std() <= 0 {
		return fmt.Errorf("gates.timeout must be positive, got %v", c.Gates.Timeout.Std())
	}
	if c.Budget.MaxCostUSD < 0 {
		return fmt.Errorf("budget.max_cost_usd must be non-negative, got %.2f", c.Budget.MaxCostUSD)
	}
	if c.Budget.MaxWallClock.Std() < 0 {
		return fmt.Errorf("budget.max_wall_clock must be non-negative, got %v", c.Budget.MaxWallClock.Std())
	}
	if c.Budget.AlertThreshold <= 0 || c.Budget.AlertThreshold > 1.0 {
		return fmt.Errorf("budget.alert_threshold must be between 0 and 1, got %.2f", c.Budget.AlertThreshold)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.RetainRuns < 0 {
		return fmt.Errorf("store.retain_runs must be non-negative, got %d", c.Store.RetainRuns)
	}
	return nil
}
