package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/ralphloop/ralph/internal/agent"
	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/lock"
	"github.com/ralphloop/ralph/internal/plan"
	"github.com/ralphloop/ralph/internal/prompt"
)

var doctorVerbose bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the workspace and environment before looping",
	Long: `Run health checks against the workspace: configuration, prompt and plan
files, the agent binary and its version, the run history database, git,
and the loop lock.

Exit codes:
  0 - ready to run (warnings allowed)
  1 - something is off; the loop may behave poorly
  2 - the loop cannot start until this is fixed`,
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Checking workspace health...\n\n")

		var critical, failures, warnings []string

		workspace, err := resolveWorkspace()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}

		// Configuration
		fmt.Printf("%s Configuration\n", cyan("→"))
		cfgPath := filepath.Join(stateDir(workspace), config.FileName)
		cfg, err := config.Load(workspace)
		if err != nil {
			critical = append(critical, fmt.Sprintf("configuration: %v", err))
			fmt.Printf("  %s %v\n", red("✗"), err)
			printDoctorSummary(critical, failures, warnings)
			return
		}
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			fmt.Printf("  %s loaded %s\n", green("✓"), cfgPath)
		} else {
			fmt.Printf("  %s no config file, using defaults (%s)\n", green("✓"), cyan("ralph init"))
		}

		// Prompt file
		fmt.Printf("%s Prompt file\n", cyan("→"))
		promptPath := cfg.Files.Prompt
		if !filepath.IsAbs(promptPath) {
			promptPath = filepath.Join(workspace, promptPath)
		}
		if _, err := os.Stat(promptPath); err != nil {
			critical = append(critical, fmt.Sprintf("prompt file %s missing (run 'ralph init')", cfg.Files.Prompt))
			fmt.Printf("  %s %s not found\n", red("✗"), cfg.Files.Prompt)
		} else {
			rendered, err := prompt.Render(promptPath, &prompt.Context{
				Iteration:     1,
				MaxIterations: cfg.Loop.MaxIterations,
				Marker:        cfg.Files.Marker,
				PlanPath:      cfg.Files.Plan,
			})
			if err != nil {
				failures = append(failures, fmt.Sprintf("prompt template: %v", err))
				fmt.Printf("  %s template error: %v\n", red("✗"), err)
			} else {
				fmt.Printf("  %s %s renders (%d bytes)\n", green("✓"), cfg.Files.Prompt, len(rendered))
				if !strings.Contains(rendered, cfg.Files.Marker) {
					warnings = append(warnings, fmt.Sprintf("rendered prompt never mentions the marker %q", cfg.Files.Marker))
					fmt.Printf("  %s prompt never tells the agent to print %q\n", yellow("⚠"), cfg.Files.Marker)
				}
			}
		}

		// Plan file
		fmt.Printf("%s Plan file\n", cyan("→"))
		if pp := planPath(workspace, cfg); pp == "" {
			warnings = append(warnings, "no plan file configured; the marker alone will end the run")
			fmt.Printf("  %s no plan configured\n", yellow("⚠"))
		} else if p, err := plan.Load(pp); err != nil {
			warnings = append(warnings, fmt.Sprintf("plan %s unreadable: %v", cfg.Files.Plan, err))
			fmt.Printf("  %s %s: %v\n", yellow("⚠"), cfg.Files.Plan, err)
		} else {
			total, checked := p.Stats()
			if total == 0 {
				warnings = append(warnings, fmt.Sprintf("plan %s has no checkboxes; it can never confirm completion", cfg.Files.Plan))
				fmt.Printf("  %s %s has no checkboxes\n", yellow("⚠"), cfg.Files.Plan)
			} else {
				fmt.Printf("  %s %s: %d/%d boxes checked\n", green("✓"), cfg.Files.Plan, checked, total)
			}
		}

		// Agent binary and version
		fmt.Printf("%s Agent binary\n", cyan("→"))
		binary := agent.BinaryName(cfg.Agent.Kind, cfg.Agent.Command)
		if binary == "" {
			critical = append(critical, "no agent command configured")
			fmt.Printf("  %s no agent command configured\n", red("✗"))
		} else if path, err := exec.LookPath(binary); err != nil {
			critical = append(critical, fmt.Sprintf("agent binary %q not found in PATH", binary))
			fmt.Printf("  %s %q not found in PATH\n", red("✗"), binary)
		} else {
			fmt.Printf("  %s %s\n", green("✓"), path)
			checkAgentVersion(binary, cfg.Agent.MinVersion, &failures, &warnings)
		}

		// Run history store
		fmt.Printf("%s Run history\n", cyan("→"))
		if st, err := openStore(workspace, cfg); err != nil {
			failures = append(failures, fmt.Sprintf("run history database: %v", err))
			fmt.Printf("  %s cannot open database: %v\n", red("✗"), err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			runs, err := st.ListRuns(ctx, 1)
			cancel()
			st.Close()
			if err != nil {
				failures = append(failures, fmt.Sprintf("run history query: %v", err))
				fmt.Printf("  %s database unreadable: %v\n", red("✗"), err)
			} else if len(runs) == 0 {
				fmt.Printf("  %s database ready (no runs yet)\n", green("✓"))
			} else {
				fmt.Printf("  %s database ready, last run %s\n", green("✓"), shortID(runs[0].ID))
			}
		}

		// Git repository
		fmt.Printf("%s Git repository\n", cyan("→"))
		if _, err := os.Stat(filepath.Join(workspace, ".git")); err != nil {
			warnings = append(warnings, "not a git repository; diff stats fall back to file mtimes")
			fmt.Printf("  %s not a git repository\n", yellow("⚠"))
		} else {
			fmt.Printf("  %s git repository detected\n", green("✓"))
		}

		// Loop lock
		fmt.Printf("%s Loop lock\n", cyan("→"))
		sd := stateDir(workspace)
		switch {
		case !lock.Held(sd):
			fmt.Printf("  %s free\n", green("✓"))
		case lock.HolderAlive(sd):
			info, _ := lock.Read(sd)
			pid := 0
			if info != nil {
				pid = info.PID
			}
			warnings = append(warnings, fmt.Sprintf("a loop is already running (PID %d)", pid))
			fmt.Printf("  %s held by running PID %d\n", yellow("⚠"), pid)
		default:
			warnings = append(warnings, "stale lock left behind; 'ralph unlock' clears it")
			fmt.Printf("  %s stale (holder is gone); run %s\n", yellow("⚠"), cyan("ralph unlock"))
		}

		printDoctorSummary(critical, failures, warnings)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "show raw version output and extra detail")
}

// versionRe pulls a dotted version out of arbitrary --version output.
var versionRe = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z.-]+)?`)

// checkAgentVersion runs "<binary> --version" and compares against the
// configured minimum. Agents that do not support --version only warn.
func checkAgentVersion(binary, minVersion string, failures, warnings *[]string) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "--version").CombinedOutput()
	if err != nil {
		if minVersion != "" {
			*warnings = append(*warnings, fmt.Sprintf("%s --version failed; cannot verify min_version %s", binary, minVersion))
			fmt.Printf("  %s --version failed: %v\n", yellow("⚠"), err)
		}
		return
	}
	if doctorVerbose {
		fmt.Printf("    %s\n", strings.TrimSpace(string(out)))
	}

	raw := versionRe.FindString(string(out))
	if raw == "" {
		if minVersion != "" {
			*warnings = append(*warnings, fmt.Sprintf("cannot parse %s version output; min_version %s unverified", binary, minVersion))
			fmt.Printf("  %s version output unparsable\n", yellow("⚠"))
		}
		return
	}

	have := "v" + raw
	fmt.Printf("  %s version %s\n", green("✓"), raw)

	if minVersion == "" {
		return
	}
	want := "v" + strings.TrimPrefix(minVersion, "v")
	if !semver.IsValid(want) {
		*warnings = append(*warnings, fmt.Sprintf("min_version %q is not valid semver", minVersion))
		fmt.Printf("  %s min_version %q is not valid semver\n", yellow("⚠"), minVersion)
		return
	}
	if semver.Compare(have, want) < 0 {
		*failures = append(*failures, fmt.Sprintf("%s %s is older than required %s", binary, raw, minVersion))
		fmt.Printf("  %s %s is older than required %s\n", red("✗"), raw, minVersion)
	}
}

func printDoctorSummary(critical, failures, warnings []string) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("\n%s\n", strings.Repeat("─", 60))

	if len(critical) == 0 && len(failures) == 0 && len(warnings) == 0 {
		fmt.Printf("%s All checks passed, ready to run.\n", green("✓"))
		os.Exit(0)
	}

	if len(critical) > 0 {
		fmt.Printf("\n%s Blocking (%d):\n", red("✗"), len(critical))
		for _, c := range critical {
			fmt.Printf("  • %s\n", c)
		}
	}
	if len(failures) > 0 {
		fmt.Printf("\n%s Failures (%d):\n", red("✗"), len(failures))
		for _, f := range failures {
			fmt.Printf("  • %s\n", f)
		}
	}
	if len(warnings) > 0 {
		fmt.Printf("\n%s Warnings (%d):\n", yellow("⚠"), len(warnings))
		for _, w := range warnings {
			fmt.Printf("  • %s\n", w)
		}
	}

	switch {
	case len(critical) > 0:
		fmt.Printf("\n%s The loop cannot start until the blocking issues are fixed.\n", red("✗"))
		os.Exit(2)
	case len(failures) > 0:
		fmt.Printf("\n%s The loop may not behave well; address the failures above.\n", yellow("⚠"))
		os.Exit(1)
	default:
		fmt.Printf("\n%s Ready to run, with warnings.\n", green("✓"))
		os.Exit(0)
	}
}
