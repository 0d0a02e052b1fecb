package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/lock"
)

var unlockForce bool

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release a stale loop lock",
	Long: `Remove the lock a crashed loop left behind. Refuses to evict a lock
whose holder is still alive unless --force is given; forcing out a live
loop leaves two processes fighting over the same workspace.`,
	Run: func(cmd *cobra.Command, args []string) {
		workspace, err := resolveWorkspace()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		sd := stateDir(workspace)

		gray := color.New(color.FgHiBlack).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()

		if !lock.Held(sd) {
			fmt.Printf("%s workspace is not locked\n", gray("·"))
			return
		}

		if lock.HolderAlive(sd) && !unlockForce {
			info, _ := lock.Read(sd)
			if info != nil {
				fmt.Fprintf(os.Stderr, "Error: a loop is still running (PID %d since %s); use --force to evict it\n",
					info.PID, info.StartedAt.Format(time.RFC3339))
			} else {
				fmt.Fprintln(os.Stderr, "Error: a loop is still running; use --force to evict it")
			}
			os.Exit(1)
		}

		info, err := lock.ForceRelease(sd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if info != nil {
			fmt.Printf("%s released lock held by PID %d\n", green("✓"), info.PID)
		} else {
			fmt.Printf("%s released lock\n", green("✓"))
		}
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
	unlockCmd.Flags().BoolVar(&unlockForce, "force", false, "evict the lock even if its holder is alive")
}
