package console

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ralphloop/ralph/internal/events"
	"github.com/ralphloop/ralph/internal/lock"
	"github.com/ralphloop/ralph/internal/plan"
	"github.com/ralphloop/ralph/internal/types"
)

// cmdStatus shows the latest run, plan progress, and the lock
func (c *Console) cmdStatus(args []string) error {
	run, err := c.store.LatestRun(c.ctx)
	if err != nil {
		return fmt.Errorf("failed to load latest run: %w", err)
	}

	bold := color.New(color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintln(c.out)
	if run == nil {
		fmt.Fprintln(c.out, "no runs recorded yet")
	} else {
		fmt.Fprintf(c.out, "%s %s\n", bold("latest run"), shortID(run.ID))
		fmt.Fprintf(c.out, "  %s %s", stateBadge(run.State), run.State)
		if run.Reason != "" {
			fmt.Fprintf(c.out, " (%s)", run.Reason)
		}
		fmt.Fprintln(c.out)
		fmt.Fprintf(c.out, "  iterations  %d of %d\n", run.Iterations, run.MaxIterations)
		fmt.Fprintf(c.out, "  duration    %s\n", run.Duration(time.Now()).Round(time.Second))
		if run.TotalCostUSD > 0 {
			fmt.Fprintf(c.out, "  cost        $%.2f\n", run.TotalCostUSD)
		}
		if run.TotalDiff > 0 {
			fmt.Fprintf(c.out, "  changes     %d lines\n", run.TotalDiff)
		}
		fmt.Fprintf(c.out, "  started     %s\n", gray(run.StartedAt.Format(time.RFC3339)))
	}

	if c.planPath != "" {
		if p, err := plan.Load(c.planPath); err != nil {
			fmt.Fprintf(c.out, "plan: unreadable (%v)\n", err)
		} else {
			total, checked := p.Stats()
			fmt.Fprintf(c.out, "plan: %d/%d boxes checked\n", checked, total)
		}
	}

	c.printLockState()
	fmt.Fprintln(c.out)
	return nil
}

func (c *Console) printLockState() {
	if c.stateDir == "" || !lock.Held(c.stateDir) {
		fmt.Fprintln(c.out, "lock: free")
		return
	}
	info, err := lock.Read(c.stateDir)
	if err != nil {
		fmt.Fprintln(c.out, "lock: held (metadata unreadable)")
		return
	}
	if lock.HolderAlive(c.stateDir) {
		fmt.Fprintf(c.out, "lock: held by PID %d on %s since %s\n",
			info.PID, info.Hostname, info.StartedAt.Format(time.RFC3339))
	} else {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(c.out, "lock: %s left by PID %d (holder is gone)\n", yellow("stale"), info.PID)
	}
}

// cmdRuns lists recent runs, newest first
func (c *Console) cmdRuns(args []string) error {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("runs takes a positive count, got %q", args[0])
		}
		limit = n
	}

	runs, err := c.store.ListRuns(c.ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "no runs recorded yet")
		return nil
	}

	fmt.Fprintln(c.out)
	for _, run := range runs {
		reason := string(run.Reason)
		if reason == "" {
			reason = "…"
		}
		fmt.Fprintf(c.out, "%s %s  %-9s %-16s %2d iters  %7s  %s\n",
			stateBadge(run.State), shortID(run.ID), run.State, reason,
			run.Iterations, fmt.Sprintf("$%.2f", run.TotalCostUSD),
			run.StartedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(c.out)
	return nil
}

// cmdShow prints iteration detail for one run. A unique ID prefix is
// enough.
func (c *Console) cmdShow(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: show <run-id>")
	}

	run, err := c.findRun(args[0])
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(c.out, "\n%s %s  %s", bold("run"), shortID(run.ID), run.State)
	if run.Reason != "" {
		fmt.Fprintf(c.out, " (%s)", run.Reason)
	}
	fmt.Fprintf(c.out, "  %s agent\n", run.Agent)

	its, err := c.store.ListIterations(c.ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to list iterations: %w", err)
	}
	if len(its) == 0 {
		fmt.Fprintln(c.out, "no iterations recorded")
		fmt.Fprintln(c.out)
		return nil
	}

	var prev *types.Iteration
	for _, it := range its {
		line := fmt.Sprintf("  #%-3d exit %-3d", it.Seq, it.ExitCode)
		if it.Attempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", it.Attempts)
		}
		if it.BoxesTotal > 0 {
			line += fmt.Sprintf("  plan %d/%d", it.BoxesChecked, it.BoxesTotal)
			if d := it.PlanProgress(prev); d != 0 && prev != nil {
				line += fmt.Sprintf(" (%+d)", d)
			}
		}
		if it.DiffLines > 0 {
			line += fmt.Sprintf("  ±%d lines", it.DiffLines)
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
			red := color.New(color.FgRed).SprintFunc()
			line += "  " + red(string(it.Failure))
		}
		fmt.Fprintln(c.out, line)
		prev = it
	}
	fmt.Fprintln(c.out)
	return nil
}

// findRun resolves a run ID or unique prefix
func (c *Console) findRun(idOrPrefix string) (*types.Run, error) {
	if run, err := c.store.GetRun(c.ctx, idOrPrefix); err == nil {
		return run, nil
	}

	runs, err := c.store.ListRuns(c.ctx, 200)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var matches []*types.Run
	for _, run := range runs {
		if strings.HasPrefix(run.ID, idOrPrefix) {
			matches = append(matches, run)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no run matches %q", idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d runs; use more of the ID", idOrPrefix, len(matches))
	}
}

// cmdEvents shows the newest events across all runs
func (c *Console) cmdEvents(args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("events takes a positive count, got %q", args[0])
		}
		limit = n
	}

	evs, err := c.store.RecentEvents(c.ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	if len(evs) == 0 {
		fmt.Fprintln(c.out, "no events recorded yet")
		return nil
	}

	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Fprintln(c.out)
	for _, ev := range evs {
		fmt.Fprintf(c.out, "%s %s %-20s #%-3d %s\n",
			gray(ev.Timestamp.Format("15:04:05")),
			severityBadge(ev.Severity), ev.Type, ev.Iteration, ev.Message)
	}
	fmt.Fprintln(c.out)
	return nil
}

// cmdPlan prints the plan file's checkboxes
func (c *Console) cmdPlan(args []string) error {
	if c.planPath == "" {
		fmt.Fprintln(c.out, "no plan configured")
		return nil
	}
	p, err := plan.Load(c.planPath)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	total, checked := p.Stats()
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Fprintf(c.out, "\n%s %d/%d checked\n", bold("plan"), checked, total)
	for _, item := range p.Items {
		if item.Checked {
			fmt.Fprintf(c.out, "  %s %s\n", green("[x]"), item.Text)
		} else {
			fmt.Fprintf(c.out, "  [ ] %s\n", item.Text)
		}
	}
	fmt.Fprintln(c.out)
	return nil
}

// cmdUnlock releases the workspace lock. Refuses while the holder is
// alive unless forced.
func (c *Console) cmdUnlock(args []string) error {
	if c.stateDir == "" || !lock.Held(c.stateDir) {
		fmt.Fprintln(c.out, "workspace is not locked")
		return nil
	}

	force := len(args) > 0 && args[0] == "force"
	if lock.HolderAlive(c.stateDir) && !force {
		info, _ := lock.Read(c.stateDir)
		if info != nil {
			return fmt.Errorf("a loop is still running (PID %d); use 'unlock force' to evict it", info.PID)
		}
		return fmt.Errorf("a loop is still running; use 'unlock force' to evict it")
	}

	info, err := lock.ForceRelease(c.stateDir)
	if err != nil {
		return err
	}
	if info != nil {
		fmt.Fprintf(c.out, "released lock held by PID %d\n", info.PID)
	} else {
		fmt.Fprintln(c.out, "released lock")
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func stateBadge(s types.RunState) string {
	switch s {
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

func severityBadge(sev events.Severity) string {
	switch sev {
	case events.SeverityError:
		return color.New(color.FgRed).Sprint("E")
	case events.SeverityWarning:
		return color.New(color.FgYellow).Sprint("W")
	default:
		return color.New(color.FgHiBlack).Sprint("·")
	}
}
