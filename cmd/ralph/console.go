package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/console"
)

var consoleCmd = &cobra.Command{
	Use:     "console",
	Aliases: []string{"shell"},
	Short:   "Open an interactive console over the run history",
	Long: `Start an interactive shell for poking at the workspace: run history,
iteration detail, the event journal, plan progress, and the loop lock.
Type 'help' inside the console for the command list.`,
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

		c, err := console.New(&console.Config{
			Store:     st,
			Workspace: workspace,
			PlanPath:  planPath(workspace, cfg),
			StateDir:  stateDir(workspace),
			Version:   rootCmd.Version,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := c.Run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
