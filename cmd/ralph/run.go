package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/loop"
	"github.com/ralphloop/ralph/internal/types"
)

var (
	runIterations int
	runAgent      string
	runPrompt     string
	runPlan       string
	runMarker     string
	runMaxCost    float64
	runMaxTime    time.Duration
	runEcho       bool
	runDryRun     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the loop",
	Long: `Run the agent loop in the workspace until it completes or a rail trips.

Exit codes:
  0  the run completed (plan done or marker confirmed)
  1  setup failed before the loop started
  2  the run stopped without completing (cap, stall, budget, interrupt)
  3  the run failed (agent kept failing past the retry limit)`,
	Run: func(cmd *cobra.Command, args []string) {
		workspace, cfg, err := loadWorkspace()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		applyRunFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
			os.Exit(1)
		}

		eng, err := loop.New(loop.Options{
			Config:        cfg,
			Workspace:     workspace,
			Version:       version,
			Echo:          runEcho,
			HandleSignals: !runDryRun,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		if runDryRun {
			if err := eng.DryRun(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		run, err := eng.Run(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		switch run.State {
		case types.StateCompleted:
			os.Exit(0)
		case types.StateFailed:
			os.Exit(3)
		default:
			os.Exit(2)
		}
	},
}

// applyRunFlags overlays explicitly-set flags onto the loaded config,
// the top layer over file and environment
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("iterations") {
		cfg.Loop.MaxIterations = runIterations
	}
	if cmd.Flags().Changed("agent") {
		cfg.Agent.Kind = types.AgentKind(runAgent)
	}
	if cmd.Flags().Changed("prompt") {
		cfg.Files.Prompt = runPrompt
	}
	if cmd.Flags().Changed("plan") {
		cfg.Files.Plan = runPlan
	}
	if cmd.Flags().Changed("marker") {
		cfg.Files.Marker = runMarker
	}
	if cmd.Flags().Changed("max-cost") {
		cfg.Budget.MaxCostUSD = runMaxCost
	}
	if cmd.Flags().Changed("max-time") {
		cfg.Budget.MaxWallClock = config.Duration(runMaxTime)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVarP(&runIterations, "iterations", "n", 0, "maximum loop iterations")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "agent kind: claude, amp, or custom")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "prompt file (workspace-relative)")
	runCmd.Flags().StringVar(&runPlan, "plan", "", "plan file (workspace-relative, empty disables)")
	runCmd.Flags().StringVar(&runMarker, "marker", "", "completion marker string")
	runCmd.Flags().Float64Var(&runMaxCost, "max-cost", 0, "cost ceiling in USD (0 = unlimited)")
	runCmd.Flags().DurationVar(&runMaxTime, "max-time", 0, "wall clock ceiling (0 = unlimited)")
	runCmd.Flags().BoolVar(&runEcho, "echo", false, "mirror agent output to the console")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "verify the setup without spawning an agent")
}
