package loop

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/ralphloop/ralph/internal/agent"
	"github.com/ralphloop/ralph/internal/plan"
	"github.com/ralphloop/ralph/internal/types"
)

var (
	boldText   = color.New(color.Bold)
	okText     = color.New(color.FgGreen)
	warnText   = color.New(color.FgYellow)
	failText   = color.New(color.FgRed)
	mutedText  = color.New(color.Faint)
	labelWidth = 11
)

func (e *Engine) printBanner() {
	boldText.Fprintf(e.out, "ralph loop · %s agent · up to %d iterations\n",
		e.run.Agent, e.run.MaxIterations)
	e.printField("workspace", e.workspace)
	e.printField("prompt", e.cfg.Files.Prompt)
	if e.cfg.Files.Plan != "" {
		e.printField("plan", e.cfg.Files.Plan)
	}
	e.printField("marker", fmt.Sprintf("%q", e.run.Marker))
	if e.cfg.Budget.MaxCostUSD > 0 || e.cfg.Budget.MaxWallClock.Std() > 0 {
		e.printField("budget", budgetLine(e.cfg.Budget.MaxCostUSD, e.cfg.Budget.MaxWallClock.Std()))
	}
	if e.gates != nil {
		e.printField("gates", fmt.Sprintf("%d configured", len(e.cfg.Gates.Commands)))
	}
	if !e.observer.InGit() {
		mutedText.Fprintf(e.out, "  (not a git repository; progress tracked by file changes)\n")
	}
}

func (e *Engine) printField(label, value string) {
	mutedText.Fprintf(e.out, "  %-*s", labelWidth, label)
	fmt.Fprintf(e.out, " %s\n", value)
}

func budgetLine(maxCost float64, maxClock time.Duration) string {
	switch {
	case maxCost > 0 && maxClock > 0:
		return fmt.Sprintf("$%.2f / %s", maxCost, maxClock)
	case maxCost > 0:
		return fmt.Sprintf("$%.2f", maxCost)
	default:
		return maxClock.String()
	}
}

func (e *Engine) printIterationHeader(seq int, p *plan.Plan) {
	boldText.Fprintf(e.out, "\n— iteration %d/%d", seq, e.cfg.Loop.MaxIterations)
	if p != nil {
		total, checked := p.Stats()
		mutedText.Fprintf(e.out, " · plan %d/%d", checked, total)
	}
	fmt.Fprintln(e.out)
}

func (e *Engine) printAgentExit(outcome *agent.RunOutcome) {
	line := fmt.Sprintf("agent exited %d in %s",
		outcome.ExitCode, outcome.Result.Duration.Round(time.Second))
	if outcome.CLIResult != nil && outcome.CLIResult.TotalCostUSD > 0 {
		line += fmt.Sprintf(" ($%.2f)", outcome.CLIResult.TotalCostUSD)
	}
	if outcome.Attempts > 1 {
		line += fmt.Sprintf(" after %d attempts", outcome.Attempts)
	}
	okText.Fprintf(e.out, "✓ %s\n", line)
}

func (e *Engine) printSummary() {
	r := e.run

	fmt.Fprintln(e.out)
	switch r.State {
	case types.StateCompleted:
		okText.Fprintf(e.out, "✓ completed")
	case types.StateFailed:
		failText.Fprintf(e.out, "✗ failed")
	default:
		warnText.Fprintf(e.out, "⚠ stopped")
	}
	fmt.Fprintf(e.out, " — %s\n", r.Reason)

	e.printField("run", shortID(r.ID))
	e.printField("iterations", fmt.Sprintf("%d of %d", r.Iterations, r.MaxIterations))
	e.printField("duration", r.Duration(time.Now()).Round(time.Second).String())
	if r.TotalCostUSD > 0 {
		e.printField("cost", fmt.Sprintf("$%.2f", r.TotalCostUSD))
	}
	if r.TotalDiff > 0 {
		e.printField("changes", fmt.Sprintf("%d lines", r.TotalDiff))
	}
	if e.log != nil && e.log.Path() != "" {
		e.printField("log", e.log.Path())
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
