package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/prompt"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a workspace for the loop",
	Long: `Create the files a loop needs in the workspace:

  PROMPT.md            prompt template fed to the agent each iteration
  fix_plan.md          plan file with one checkbox per task
  .ralph/config.yaml   configuration, pre-filled with the defaults

Existing files are left alone unless --force is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		workspace, err := resolveWorkspace()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		defaults := config.DefaultConfig()

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		files := []struct {
			path    string
			content []byte
		}{
			{filepath.Join(workspace, defaults.Files.Prompt), []byte(prompt.DefaultPrompt())},
			{filepath.Join(workspace, defaults.Files.Plan), []byte(prompt.DefaultPlan())},
			{filepath.Join(stateDir(workspace), config.FileName), []byte(prompt.DefaultConfigYAML())},
		}

		fmt.Println()
		for _, f := range files {
			if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if _, err := os.Stat(f.path); err == nil && !initForce {
				fmt.Printf("  %s %s (exists, skipped)\n", gray("·"), rel(workspace, f.path))
				continue
			}
			if err := os.WriteFile(f.path, f.content, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Error: write %s: %v\n", f.path, err)
				os.Exit(1)
			}
			fmt.Printf("  %s %s\n", green("✓"), rel(workspace, f.path))
		}

		fmt.Println()
		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("edit PROMPT.md and fix_plan.md for your project"))
		fmt.Printf("  %s\n", gray("ralph run --dry-run"))
		fmt.Printf("  %s\n", gray("ralph run"))
		fmt.Println()
	},
}

// rel shortens path for display when it sits under base
func rel(base, path string) string {
	if r, err := filepath.Rel(base, path); err == nil {
		return r
	}
	return path
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
}
