package loop

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ralphloop/ralph/internal/agent"
	"github.com/ralphloop/ralph/internal/budget"
	"github.com/ralphloop/ralph/internal/events"
	"github.com/ralphloop/ralph/internal/gates"
	"github.com/ralphloop/ralph/internal/plan"
	"github.com/ralphloop/ralph/internal/prompt"
	"github.com/ralphloop/ralph/internal/types"
	"github.com/ralphloop/ralph/internal/watchdog"
)

// iterate runs one pass of the loop. It returns the stop reason that
// ends the run, or "" to continue.
func (e *Engine) iterate(ctx context.Context, seq int) types.StopReason {
	if e.interrupted.Load() {
		return types.ReasonInterrupted
	}

	// Wall clock can run out between iterations
	if e.budget.Check() == budget.Exceeded {
		e.printf("✗ %s\n", e.budget.Reason())
		return types.ReasonBudgetExceeded
	}

	e.noteOperatorEdits(seq)

	planBefore := e.loadPlan()
	if planBefore != nil && planBefore.Complete() {
		e.printf("✓ plan is fully checked off\n")
		return types.ReasonPlanComplete
	}

	// Spawn pacing
	if err := e.limiter.Wait(ctx); err != nil {
		return types.ReasonInterrupted
	}

	e.printIterationHeader(seq, planBefore)
	e.scanner.BeginIteration(seq)

	// Iterations counts started iterations only, matching the persisted rows
	e.run.Iterations = seq

	it := &types.Iteration{
		RunID:     e.run.ID,
		Seq:       seq,
		StartedAt: time.Now(),
		Attempts:  1,
	}
	if e.store != nil {
		if err := e.store.AddIteration(ctx, it); err != nil {
			e.printf("⚠ failed to record iteration: %v\n", err)
		}
	}
	e.emit(events.New(e.run.ID, seq, events.TypeIterationStarted, events.SeverityInfo,
		fmt.Sprintf("iteration %d of %d", seq, e.cfg.Loop.MaxIterations)))

	before := e.observer.Snapshot(ctx)

	outcome, runErr := e.invokeAgent(ctx, seq)

	if outcome != nil && outcome.Result != nil {
		it.Attempts = outcome.Attempts
		it.ExitCode = outcome.ExitCode
		it.Failure = outcome.Failure
		if outcome.CLIResult != nil {
			it.CostUSD = outcome.CLIResult.TotalCostUSD
		}
	}

	change, _ := e.observer.Measure(ctx, before)
	it.DiffLines = change.DiffLines
	e.run.TotalDiff += change.DiffLines

	beforeChecked := 0
	if planBefore != nil {
		_, beforeChecked = planBefore.Stats()
	}
	planAfter := e.loadPlan()
	if planAfter != nil {
		it.BoxesTotal, it.BoxesChecked = planAfter.Stats()
	}

	markerSeen := false
	if outcome != nil && outcome.Result != nil {
		markerSeen = agent.ContainsMarker(outcome.Output, e.run.Marker) ||
			agent.ContainsMarker(outcome.Errors, e.run.Marker)
	}
	it.MarkerSeen = markerSeen

	if runErr != nil {
		if ctx.Err() != nil || e.interrupted.Load() {
			e.closeIteration(it)
			return types.ReasonInterrupted
		}
		e.printf("✗ agent failed after %d attempt(s): %v\n", it.Attempts, runErr)
		e.emit(events.New(e.run.ID, seq, events.TypeAgentExited, events.SeverityError,
			fmt.Sprintf("agent failed: %v", runErr)).
			WithData("exit_code", fmt.Sprintf("%d", it.ExitCode)).
			WithData("failure", string(it.Failure)).
			WithData("attempts", fmt.Sprintf("%d", it.Attempts)))
		e.closeIteration(it)
		return types.ReasonAgentFailure
	}

	e.printAgentExit(outcome)
	e.emit(events.New(e.run.ID, seq, events.TypeAgentExited, events.SeverityInfo,
		fmt.Sprintf("agent exited %d in %s", outcome.ExitCode, outcome.Result.Duration.Round(time.Second))).
		WithData("cost_usd", fmt.Sprintf("%.4f", it.CostUSD)).
		WithData("attempts", fmt.Sprintf("%d", it.Attempts)))

	gateResults := e.runGates(ctx, seq, it)

	reason, confirmed := e.evaluateCompletion(seq, markerSeen, planAfter, gateResults)

	delta := 0
	if planAfter != nil {
		delta = it.BoxesChecked - beforeChecked
		if delta < 0 {
			// Unchecking boxes is a plan rewrite, not progress; the file
			// edit itself already counts through DiffLines
			delta = 0
		}
	}
	verdict := e.monitor.Record(watchdog.Sample{
		Seq:            seq,
		BoxesChecked:   delta,
		DiffLines:      change.DiffLines,
		MarkerClaimed:  markerSeen,
		ClaimConfirmed: confirmed,
	})

	status := e.budget.AddCost(it.CostUSD)

	e.closeIteration(it)

	if reason != "" {
		return reason
	}

	if e.budget.WarnOnce(status) {
		cost, elapsed := e.budget.Spent()
		e.printf("⚠ budget warning: $%.2f spent, %s elapsed\n", cost, elapsed.Round(time.Second))
		e.emit(events.New(e.run.ID, seq, events.TypeBudgetWarning, events.SeverityWarning,
			"approaching budget limit").
			WithData("cost_usd", fmt.Sprintf("%.4f", cost)).
			WithData("elapsed", elapsed.Round(time.Second).String()))
	}
	if status == budget.Exceeded {
		e.printf("✗ %s\n", e.budget.Reason())
		return types.ReasonBudgetExceeded
	}

	if verdict.Stalled {
		e.printf("✗ stall detected: %s\n", verdict.Reason)
		e.emit(events.New(e.run.ID, seq, events.TypeStallWarning, events.SeverityError, verdict.Reason))
		return types.ReasonStalled
	}
	if verdict.Warning {
		e.printf("⚠ %s\n", verdict.Reason)
		e.emit(events.New(e.run.ID, seq, events.TypeStallWarning, events.SeverityWarning, verdict.Reason))
	}

	return ""
}

// invokeAgent runs the agent for one iteration, retries included
func (e *Engine) invokeAgent(ctx context.Context, seq int) (*agent.RunOutcome, error) {
	agentCfg := agent.Config{
		Kind:       e.cfg.Agent.Kind,
		WorkingDir: e.workspace,
		Command:    e.cfg.Agent.Command,
		ExtraArgs:  e.cfg.Agent.ExtraArgs,
		Timeout:    e.cfg.Agent.Timeout.Std(),
		Echo:       e.echo,
		LineHook: func(line string, isStderr bool) {
			if ev := e.scanner.ScanLine(line, isStderr); ev != nil {
				e.bufferScanned(ev)
			}
		},
	}

	runner := &agent.Runner{
		Config:     agentCfg,
		RetryLimit: e.cfg.Loop.RetryLimit,
		Backoff:    e.cfg.Loop.RetryBackoff.Std(),
		OnRetry: func(attempt int, cause error, wait time.Duration) {
			e.printf("⚠ attempt %d failed (%v); retrying in %s\n", attempt, cause, wait.Round(time.Second))
			e.emit(events.New(e.run.ID, seq, events.TypeRetryScheduled, events.SeverityWarning,
				fmt.Sprintf("attempt %d failed; retrying in %s", attempt, wait.Round(time.Second))).
				WithData("cause", cause.Error()))
		},
	}

	e.emit(events.New(e.run.ID, seq, events.TypeAgentSpawned, events.SeverityInfo,
		fmt.Sprintf("spawning %s agent", e.cfg.Agent.Kind)))

	return runner.Run(ctx, func(attempt int) (string, error) {
		return e.buildPrompt(seq)
	})
}

// buildPrompt renders the prompt template against current plan state.
// Called once per attempt so retries see fresh plan contents.
func (e *Engine) buildPrompt(seq int) (string, error) {
	pctx := &prompt.Context{
		Iteration:     seq,
		MaxIterations: e.cfg.Loop.MaxIterations,
		Marker:        e.run.Marker,
		PlanPath:      e.cfg.Files.Plan,
		LastFailure:   e.lastDigest,
	}

	if p := e.loadPlan(); p != nil {
		for _, item := range p.Remaining() {
			pctx.Remaining = append(pctx.Remaining, item.Text)
		}
		pctx.RemainingList = p.Summary(20)
	}

	return prompt.Render(e.promptPath, pctx)
}

// loadPlan reads the plan file if one is configured. A missing or
// unreadable plan demotes the run to marker-only completion, warned once.
func (e *Engine) loadPlan() *plan.Plan {
	if e.planPath == "" {
		return nil
	}
	p, err := plan.Load(e.planPath)
	if err != nil {
		if !e.planWarned {
			e.planWarned = true
			e.printf("⚠ plan file unreadable, relying on the marker alone: %v\n", err)
			if e.log != nil {
				e.log.Warn().Err(err).Str("plan", e.planPath).Msg("plan file unreadable")
			}
		}
		return nil
	}
	return p
}

// noteOperatorEdits reports watched files the operator changed since the
// last iteration
func (e *Engine) noteOperatorEdits(seq int) {
	if e.watcher == nil {
		return
	}
	for _, path := range e.watcher.TakeChanged() {
		name := filepath.Base(path)
		e.printf("↻ %s changed on disk; the next prompt will use the new content\n", name)
		e.emit(events.New(e.run.ID, seq, events.TypePlanReloaded, events.SeverityInfo,
			fmt.Sprintf("%s edited by operator", name)).WithData("path", path))
	}
}

// runGates executes configured gates and folds the results into the
// iteration record and the next prompt's failure digest
func (e *Engine) runGates(ctx context.Context, seq int, it *types.Iteration) []gates.Result {
	if e.gates == nil {
		return nil
	}

	results := e.gates.Run(ctx)
	for _, res := range results {
		switch {
		case res.Skipped:
			e.printf("⊘ gate %s skipped: %s\n", res.Name, res.Output)
			if e.log != nil {
				e.log.Warn().Str("gate", res.Name).Msg("gate skipped")
			}
		case res.Passed:
			e.printf("✓ gate %s passed (%s)\n", res.Name, res.Duration.Round(time.Millisecond))
			e.emit(events.New(e.run.ID, seq, events.TypeGatePassed, events.SeverityInfo,
				fmt.Sprintf("gate %s passed", res.Name)).
				WithData("gate", res.Name).
				WithData("duration", res.Duration.Round(time.Millisecond).String()))
		default:
			e.printf("✗ gate %s failed (%s)\n", res.Name, res.Duration.Round(time.Millisecond))
			e.emit(events.New(e.run.ID, seq, events.TypeGateFailed, events.SeverityWarning,
				fmt.Sprintf("gate %s failed", res.Name)).
				WithData("gate", res.Name).
				WithData("duration", res.Duration.Round(time.Millisecond).String()))
		}
	}

	it.GatesRan, it.GatesFailed = gates.Counts(results)
	if it.GatesFailed > 0 {
		e.lastDigest = gates.FailureDigest(results, 40)
	} else {
		e.lastDigest = ""
	}
	return results
}

// evaluateCompletion decides whether this iteration ends the run.
// The marker is the trigger; the plan is the verifier. A claim the plan
// does not back is noted and the loop continues.
func (e *Engine) evaluateCompletion(seq int, markerSeen bool, p *plan.Plan, gateResults []gates.Result) (types.StopReason, bool) {
	gatesVeto := e.cfg.Gates.Required && gateResults != nil && !gates.AllPassed(gateResults)

	if markerSeen {
		total, checked := 0, 0
		if p != nil {
			total, checked = p.Stats()
		}

		switch {
		case p != nil && total == 0:
			e.unconfirmedClaim(seq, "completion claimed but the plan has no checkable items")
			return "", false
		case p != nil && checked < total:
			e.unconfirmedClaim(seq, fmt.Sprintf("completion claimed but %d of %d boxes remain unchecked",
				total-checked, total))
			return "", false
		case gatesVeto:
			e.unconfirmedClaim(seq, "completion claimed but required gates failed")
			return "", false
		default:
			e.printf("✓ completion marker confirmed\n")
			return types.ReasonMarkerConfirmed, true
		}
	}

	if p != nil && p.Complete() {
		if gatesVeto {
			e.unconfirmedClaim(seq, "plan is fully checked but required gates failed")
			return "", false
		}
		e.printf("✓ plan is fully checked off\n")
		return types.ReasonPlanComplete, false
	}

	return "", false
}

func (e *Engine) unconfirmedClaim(seq int, msg string) {
	e.printf("⚠ %s; continuing\n", msg)
	e.emit(events.New(e.run.ID, seq, events.TypeCompletionClaimed, events.SeverityWarning, msg).
		WithData("confirmed", "false"))
}

// closeIteration stamps the end time and persists the final record
func (e *Engine) closeIteration(it *types.Iteration) {
	now := time.Now()
	it.EndedAt = &now

	e.emit(events.New(e.run.ID, it.Seq, events.TypeIterationCompleted, events.SeverityInfo,
		fmt.Sprintf("iteration %d done in %s", it.Seq, it.Duration(now).Round(time.Second))).
		WithData("boxes", fmt.Sprintf("%d/%d", it.BoxesChecked, it.BoxesTotal)).
		WithData("diff_lines", fmt.Sprintf("%d", it.DiffLines)).
		WithData("cost_usd", fmt.Sprintf("%.4f", it.CostUSD)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if e.store != nil {
		if err := e.store.UpdateIteration(ctx, it); err != nil {
			e.printf("⚠ failed to record iteration outcome: %v\n", err)
		}
	}
	e.flushEvents(ctx)
}
