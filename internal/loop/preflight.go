package loop

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/ralphloop/ralph/internal/agent"
	"github.com/ralphloop/ralph/internal/gitops"
	"github.com/ralphloop/ralph/internal/lock"
	"github.com/ralphloop/ralph/internal/plan"
	"github.com/ralphloop/ralph/internal/prompt"
)

// DryRun verifies the workspace is ready for a run without spawning an
// agent: the prompt renders, the plan parses, and the agent binary is on
// PATH. Returns an error when any hard check fails so callers can exit
// nonzero.
func (e *Engine) DryRun(ctx context.Context) error {
	failed := 0

	boldText.Fprintf(e.out, "ralph dry run\n")
	e.printField("workspace", e.workspace)

	// Prompt must exist and render with a representative first-iteration
	// context.
	pctx := &prompt.Context{
		Iteration:     1,
		MaxIterations: e.cfg.Loop.MaxIterations,
		Marker:        e.cfg.Files.Marker,
		PlanPath:      e.cfg.Files.Plan,
	}
	if rendered, err := prompt.Render(e.promptPath, pctx); err != nil {
		failText.Fprintf(e.out, "✗ prompt: %v\n", err)
		failed++
	} else {
		okText.Fprintf(e.out, "✓ prompt %s renders (%d bytes)\n", e.cfg.Files.Prompt, len(rendered))
	}

	// A broken plan degrades the loop to marker-only completion, so it is
	// a warning here rather than a failure.
	if e.planPath == "" {
		mutedText.Fprintf(e.out, "· no plan configured; the marker alone ends the run\n")
	} else if p, err := plan.Load(e.planPath); err != nil {
		warnText.Fprintf(e.out, "⚠ plan %s unreadable: %v (marker alone would end the run)\n", e.cfg.Files.Plan, err)
	} else {
		total, checked := p.Stats()
		okText.Fprintf(e.out, "✓ plan %s parses (%d/%d boxes checked)\n", e.cfg.Files.Plan, checked, total)
		if total == 0 {
			warnText.Fprintf(e.out, "⚠ plan has no checkboxes; it can never confirm or veto completion\n")
		}
	}

	bin := agent.BinaryName(e.cfg.Agent.Kind, e.cfg.Agent.Command)
	if bin == "" {
		failText.Fprintf(e.out, "✗ agent: custom kind with no command configured\n")
		failed++
	} else if path, err := exec.LookPath(bin); err != nil {
		failText.Fprintf(e.out, "✗ agent binary %q not found in PATH\n", bin)
		failed++
	} else {
		okText.Fprintf(e.out, "✓ agent binary %s → %s\n", bin, path)
	}

	obs := gitops.NewObserver(ctx, e.workspace)
	if obs.InGit() {
		okText.Fprintf(e.out, "✓ git repository; diffs measured with git\n")
	} else {
		mutedText.Fprintf(e.out, "· not a git repository; progress tracked by file changes\n")
	}

	if lock.Held(e.stateDir()) && lock.HolderAlive(e.stateDir()) {
		warnText.Fprintf(e.out, "⚠ another loop holds the lock; `ralph run` would refuse to start\n")
	}

	if failed > 0 {
		return fmt.Errorf("%d preflight check(s) failed", failed)
	}
	return nil
}
