// Package console is the interactive shell for poking at a workspace's
// run history: status, past runs, the event stream, the plan, the lock.
// It reads the same store the loop writes, so it works while a run is in
// flight.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/ralphloop/ralph/internal/store"
)

// Config holds console configuration
type Config struct {
	Store     *store.Store
	Workspace string
	// PlanPath is the absolute plan file path, "" when none is configured
	PlanPath string
	// StateDir is the workspace's .ralph directory
	StateDir string
	Version  string
	// Out receives command output; defaults to stdout
	Out io.Writer
}

// handler executes one console command
type handler func(args []string) error

// Console is the interactive shell
type Console struct {
	store     *store.Store
	workspace string
	planPath  string
	stateDir  string
	version   string

	out      io.Writer
	rl       *readline.Instance
	ctx      context.Context
	commands map[string]handler
}

// New creates a console. The store is required; everything else has
// sensible defaults.
func New(cfg *Config) (*Console, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	c := &Console{
		store:     cfg.Store,
		workspace: cfg.Workspace,
		planPath:  cfg.PlanPath,
		stateDir:  cfg.StateDir,
		version:   cfg.Version,
		out:       out,
		commands:  make(map[string]handler),
	}
	c.registerCommands()
	return c, nil
}

func (c *Console) registerCommands() {
	c.commands["help"] = c.cmdHelp
	c.commands["?"] = c.cmdHelp
	c.commands["status"] = c.cmdStatus
	c.commands["runs"] = c.cmdRuns
	c.commands["show"] = c.cmdShow
	c.commands["events"] = c.cmdEvents
	c.commands["plan"] = c.cmdPlan
	c.commands["unlock"] = c.cmdUnlock
	c.commands["exit"] = c.cmdExit
	c.commands["quit"] = c.cmdExit
}

// Run starts the console loop and blocks until exit
func (c *Console) Run(ctx context.Context) error {
	c.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	historyFile := ""
	if c.stateDir != "" {
		historyFile = filepath.Join(c.stateDir, "console_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("ralph> "),
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	c.rl = rl

	c.printWelcome()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(c.out, "bye")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := c.processInput(line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(c.out, "%s %v\n", red("error:"), err)
		}
	}
}

// processInput dispatches one line of input
func (c *Console) processInput(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	if h, ok := c.commands[parts[0]]; ok {
		return h(parts[1:])
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(c.out, "%s unknown command %q; try 'help'\n", yellow("?"), parts[0])
	return nil
}

func (c *Console) printWelcome() {
	bold := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(c.out, "\n%s\n", bold("ralph console"))
	fmt.Fprintf(c.out, "workspace: %s\n", c.workspace)
	fmt.Fprintln(c.out, "type 'help' for commands, 'exit' to quit")
	fmt.Fprintln(c.out)
}

func (c *Console) cmdHelp(args []string) error {
	green := color.New(color.FgGreen).SprintFunc()

	commands := []struct {
		name string
		desc string
	}{
		{"status", "latest run, plan progress, and lock state"},
		{"runs [n]", "list recent runs (default 10)"},
		{"show <run>", "iteration detail for one run (ID prefix is enough)"},
		{"events [n]", "recent events across runs (default 20)"},
		{"plan", "current plan checkboxes"},
		{"unlock [force]", "release the workspace lock"},
		{"help, ?", "this message"},
		{"exit, quit", "leave the console"},
	}

	fmt.Fprintln(c.out)
	for _, cmd := range commands {
		fmt.Fprintf(c.out, "  %s %s\n", green(fmt.Sprintf("%-15s", cmd.name)), cmd.desc)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *Console) cmdExit(args []string) error {
	fmt.Fprintln(c.out, "bye")
	return io.EOF
}
