// ralph runs an AI coding agent in a fixed-iteration loop until a plan
// file is fully checked off or the agent prints the completion marker.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/store"
)

// version is stamped by the release build; "dev" otherwise
var version = "dev"

var (
	flagDir     string
	flagNoColor bool
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Run an AI coding agent in a loop until the work is done",
	Long: `ralph drives an external coding agent (claude, amp, or any command you
configure) in a bounded loop: render the prompt, run the agent, check
the plan file, repeat. The loop stops when the plan is fully checked
off, the agent's completion claim is confirmed, or a safety rail trips
(iteration cap, stall detection, budget, interrupt).

State lives under .ralph/ in the workspace: config.yaml, the run
history database, and per-run JSONL logs.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagNoColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDir, "dir", "C", ".", "workspace directory")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the absolute workspace directory from --dir
func resolveWorkspace() (string, error) {
	abs, err := filepath.Abs(flagDir)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		return "", fmt.Errorf("workspace %s is not a directory", abs)
	}
	return abs, nil
}

// loadWorkspace resolves --dir and loads its layered configuration
func loadWorkspace() (string, *config.Config, error) {
	workspace, err := resolveWorkspace()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return "", nil, err
	}
	return workspace, cfg, nil
}

// openStore opens the workspace's run history database
func openStore(workspace string, cfg *config.Config) (*store.Store, error) {
	path := cfg.Store.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	return store.New(path)
}

// stateDir is the workspace's .ralph directory
func stateDir(workspace string) string {
	return filepath.Join(workspace, config.ConfigDir)
}

// shortID abbreviates a run ID for display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// planPath resolves the configured plan file, "" when none
func planPath(workspace string, cfg *config.Config) string {
	if cfg.Files.Plan == "" {
		return ""
	}
	if filepath.IsAbs(cfg.Files.Plan) {
		return cfg.Files.Plan
	}
	return filepath.Join(workspace, cfg.Files.Plan)
}
