package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/lock"
	"github.com/ralphloop/ralph/internal/plan"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest run, plan progress, and lock state",
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
		run, err := st.LatestRun(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		bold := color.New(color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Println()
		if run == nil {
			fmt.Printf("%s no runs yet; start one with %s\n", gray("·"), cyan("ralph run"))
		} else {
			fmt.Printf("%s %s %s", runBadge(run.State), bold(shortID(run.ID)), run.State)
			if run.Reason != "" {
				fmt.Printf(" (%s)", run.Reason)
			}
			fmt.Println()
			fmt.Printf("  iterations  %d of %d\n", run.Iterations, run.MaxIterations)
			fmt.Printf("  duration    %s\n", run.Duration(time.Now()).Round(time.Second))
			if run.TotalCostUSD > 0 {
				if max := cfg.Budget.MaxCostUSD; max > 0 {
					fmt.Printf("  cost        $%.2f of $%.2f\n", run.TotalCostUSD, max)
				} else {
					fmt.Printf("  cost        $%.2f\n", run.TotalCostUSD)
				}
			}
			if run.TotalDiff > 0 {
				fmt.Printf("  changes     %d lines\n", run.TotalDiff)
			}
			fmt.Printf("  started     %s\n", gray(run.StartedAt.Format(time.RFC3339)))
		}

		if pp := planPath(workspace, cfg); pp != "" {
			if p, err := plan.Load(pp); err != nil {
				fmt.Printf("%s plan %s unreadable: %v\n", yellow("⚠"), cfg.Files.Plan, err)
			} else {
				total, checked := p.Stats()
				fmt.Printf("  plan        %d/%d boxes checked\n", checked, total)
			}
		}

		sd := stateDir(workspace)
		switch {
		case !lock.Held(sd):
			fmt.Printf("  lock        free\n")
		case lock.HolderAlive(sd):
			info, _ := lock.Read(sd)
			if info != nil {
				fmt.Printf("  lock        held by PID %d since %s\n", info.PID, info.StartedAt.Format(time.RFC3339))
			} else {
				fmt.Printf("  lock        held\n")
			}
		default:
			fmt.Printf("  lock        %s (holder is gone; %s)\n", yellow("stale"), cyan("ralph unlock"))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
