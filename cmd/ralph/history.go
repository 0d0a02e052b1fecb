package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/store"
	"github.com/ralphloop/ralph/internal/types"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs, or show one run's iterations",
	Long: `Without arguments, lists recent runs newest first. With a run ID
(or unique prefix), shows that run's per-iteration breakdown: exit codes,
plan progress, diff size, and cost.

Examples:
  ralph history           # last 20 runs
  ralph history -n 50     # last 50 runs
  ralph history 3f2a      # iterations of the run whose ID starts with 3f2a`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workspace, cfg, err := loadWorkspace()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := openStore(workspace, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: open run history: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()
		if len(args) == 1 {
			if err := showRunDetail(ctx, st, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		runs, err := st.ListRuns(ctx, historyLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(runs) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("\n%s no runs recorded yet\n\n", gray("·"))
			return
		}

		bold := color.New(color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s (%d)\n\n", bold("runs"), len(runs))
		for _, run := range runs {
			reason := string(run.Reason)
			if reason == "" {
				reason = "-"
			}
			fmt.Printf("  %s %s  %-9s %-16s %2d iters  $%.2f  %s\n",
				runBadge(run.State), shortID(run.ID), run.State, reason,
				run.Iterations, run.TotalCostUSD,
				gray(run.StartedAt.Format("2006-01-02 15:04")))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
}

// findRunByPrefix resolves an exact ID or a unique prefix to a stored run.
func findRunByPrefix(ctx context.Context, st *store.Store, id string) (*types.Run, error) {
	if run, err := st.GetRun(ctx, id); err == nil {
		return run, nil
	}
	runs, err := st.ListRuns(ctx, 200)
	if err != nil {
		return nil, err
	}
	var matches []*types.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no run matches %q", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d runs, give more of the ID", id, len(matches))
	}
}

func showRunDetail(ctx context.Context, st *store.Store, id string) error {
	run, err := findRunByPrefix(ctx, st, id)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	reason := string(run.Reason)
	if reason == "" {
		reason = "-"
	}
	fmt.Printf("\n%s %s %s  %s  %s\n", runBadge(run.State), bold(shortID(run.ID)), run.State, reason,
		gray(run.StartedAt.Format("2006-01-02 15:04:05")))
	fmt.Printf("  agent %s  iterations %d/%d  cost $%.2f  changes ±%d lines  took %s\n",
		run.Agent, run.Iterations, run.MaxIterations, run.TotalCostUSD, run.TotalDiff,
		run.Duration(time.Now()).Round(time.Second))

	iters, err := st.ListIterations(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(iters) == 0 {
		fmt.Printf("\n  %s\n\n", gray("no iterations recorded"))
		return nil
	}

	fmt.Println()
	var prev *types.Iteration
	for _, it := range iters {
		line := fmt.Sprintf("  #%-3d exit %d  attempts %d", it.Seq, it.ExitCode, it.Attempts)
		if it.BoxesTotal > 0 {
			line += fmt.Sprintf("  plan %d/%d", it.BoxesChecked, it.BoxesTotal)
			if delta := it.PlanProgress(prev); delta != 0 && prev != nil {
				line += fmt.Sprintf(" (%+d)", delta)
			}
		}
		if it.DiffLines > 0 {
			line += fmt.Sprintf("  ±%d", it.DiffLines)
		}
		if it.CostUSD > 0 {
			line += fmt.Sprintf("  $%.2f", it.CostUSD)
		}
		if it.GatesRan > 0 {
			line += fmt.Sprintf("  gates %d/%d", it.GatesRan-it.GatesFailed, it.GatesRan)
		}
		if it.MarkerSeen {
			line += "  [marker]"
		}
		if it.Failure != types.FailureNone {
			line += "  " + red(string(it.Failure))
		}
		fmt.Println(line)
		prev = it
	}
	fmt.Println()
	return nil
}

// runBadge returns a one-glyph colored state indicator.
func runBadge(state types.RunState) string {
	switch state {
	case types.StateCompleted:
		return color.New(color.FgGreen).Sprint("✓")
	case types.StateFailed:
		return color.New(color.FgRed).Sprint("✗")
	case types.StateRunning:
		return color.New(color.FgCyan).Sprint("▸")
	default:
		return color.New(color.FgYellow).Sprint("⚠")
	}
}
