package loop

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/lock"
	"github.com/ralphloop/ralph/internal/store"
	"github.com/ralphloop/ralph/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testConfig builds a config that drives /bin/sh -c script as the agent.
// Retries and pacing are tightened so tests run in milliseconds.
func testConfig(script string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agent.Kind = types.AgentCustom
	cfg.Agent.Command = []string{"/bin/sh", "-c", script}
	cfg.Agent.Timeout = config.Duration(time.Minute)
	cfg.Loop.MaxIterations = 3
	cfg.Loop.RetryLimit = 0
	cfg.Loop.RetryBackoff = config.Duration(10 * time.Millisecond)
	cfg.Loop.SpawnInterval = 0
	return cfg
}

// testWorkspace creates a workspace with a prompt and, when plan is
// non-empty, a plan file
func testWorkspace(t *testing.T, plan string) string {
	t.Helper()
	dir := t.TempDir()

	prompt := "Work the plan at {{.PlanPath}}. Print {{.Marker}} when everything is done.\n"
	if err := os.WriteFile(filepath.Join(dir, "PROMPT.md"), []byte(prompt), 0644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	if plan != "" {
		if err := os.WriteFile(filepath.Join(dir, "fix_plan.md"), []byte(plan), 0644); err != nil {
			t.Fatalf("write plan: %v", err)
		}
	}
	return dir
}

// runLoop builds an engine and runs it to completion
func runLoop(t *testing.T, cfg *config.Config, workspace string) (*types.Run, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	eng, err := New(Options{Config: cfg, Workspace: workspace, Version: "test", Out: &out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	run, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v\noutput:\n%s", err, out.String())
	}
	return run, &out
}

func openStore(t *testing.T, workspace string) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(workspace, ".ralph", "ralph.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests drive /bin/sh agents")
	}
}

func TestRunMarkerOnlyCompletes(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "")
	cfg := testConfig("echo RALPH_DONE")
	cfg.Files.Plan = ""

	run, _ := runLoop(t, cfg, ws)

	if run.State != types.StateCompleted {
		t.Errorf("expected state %s, got %s", types.StateCompleted, run.State)
	}
	if run.Reason != types.ReasonMarkerConfirmed {
		t.Errorf("expected reason %s, got %s", types.ReasonMarkerConfirmed, run.Reason)
	}
	if run.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", run.Iterations)
	}
	if run.EndedAt == nil {
		t.Error("expected EndedAt to be set")
	}

	// The run and its events survive in the store
	ctx := context.Background()
	st := openStore(t, ws)
	stored, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.State != types.StateCompleted {
		t.Errorf("stored state = %s, want %s", stored.State, types.StateCompleted)
	}
	if stored.Reason != types.ReasonMarkerConfirmed {
		t.Errorf("stored reason = %s, want %s", stored.Reason, types.ReasonMarkerConfirmed)
	}

	evs, err := st.RunEvents(ctx, run.ID)
	if err != nil {
		t.Fatalf("RunEvents: %v", err)
	}
	seen := map[string]bool{}
	for _, ev := range evs {
		seen[string(ev.Type)] = true
	}
	for _, want := range []string{"run_started", "iteration_started", "agent_spawned", "agent_exited", "iteration_completed", "run_completed"} {
		if !seen[want] {
			t.Errorf("missing %s event in store (have %v)", want, seen)
		}
	}
}

func TestRunStopsWhenPlanAlreadyComplete(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "# Plan\n\n- [x] ship it\n- [x] test it\n")
	cfg := testConfig("echo should-not-run")

	run, _ := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonPlanComplete {
		t.Errorf("expected reason %s, got %s", types.ReasonPlanComplete, run.Reason)
	}
	if run.State != types.StateCompleted {
		t.Errorf("expected state %s, got %s", types.StateCompleted, run.State)
	}

	// The agent never ran: no iteration was recorded
	st := openStore(t, ws)
	its, err := st.ListIterations(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListIterations: %v", err)
	}
	if len(its) != 0 {
		t.Errorf("expected 0 iterations, got %d", len(its))
	}
}

func TestRunMarkerConfirmedByPlan(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "- [ ] ship it\n")
	cfg := testConfig(`printf '%s\n' '- [x] ship it' > fix_plan.md && echo RALPH_DONE`)

	run, _ := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonMarkerConfirmed {
		t.Errorf("expected reason %s, got %s", types.ReasonMarkerConfirmed, run.Reason)
	}
	if run.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", run.Iterations)
	}

	st := openStore(t, ws)
	its, err := st.ListIterations(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListIterations: %v", err)
	}
	if len(its) != 1 {
		t.Fatalf("expected 1 iteration, got %d", len(its))
	}
	if !its[0].MarkerSeen {
		t.Error("expected marker_seen on the iteration record")
	}
	if its[0].BoxesChecked != 1 || its[0].BoxesTotal != 1 {
		t.Errorf("expected 1/1 boxes, got %d/%d", its[0].BoxesChecked, its[0].BoxesTotal)
	}
}

func TestRunUnconfirmedClaimContinues(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "- [ ] never done\n")
	cfg := testConfig("echo RALPH_DONE")
	cfg.Loop.MaxIterations = 2
	cfg.Loop.StallClaims = 5 // out of reach in two iterations

	run, out := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonMaxIterations {
		t.Errorf("expected reason %s, got %s", types.ReasonMaxIterations, run.Reason)
	}
	if run.State != types.StateStopped {
		t.Errorf("expected state %s, got %s", types.StateStopped, run.State)
	}
	if !strings.Contains(out.String(), "remain unchecked") {
		t.Errorf("expected unconfirmed-claim warning in output:\n%s", out.String())
	}
}

func TestRunStallsOnRepeatedClaims(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "- [ ] never done\n")
	cfg := testConfig("echo RALPH_DONE")
	cfg.Loop.MaxIterations = 10
	cfg.Loop.StallClaims = 2

	run, out := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonStalled {
		t.Errorf("expected reason %s, got %s", types.ReasonStalled, run.Reason)
	}
	if run.Iterations != 2 {
		t.Errorf("expected stall at iteration 2, got %d", run.Iterations)
	}
	if !strings.Contains(out.String(), "claimed completion") {
		t.Errorf("expected claim-streak reason in output:\n%s", out.String())
	}
}

func TestRunStallsWhenIdle(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "- [ ] untouched\n")
	cfg := testConfig("echo thinking about it")
	cfg.Loop.MaxIterations = 10
	cfg.Loop.StallWindow = 2

	run, out := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonStalled {
		t.Errorf("expected reason %s, got %s", types.ReasonStalled, run.Reason)
	}
	if run.Iterations != 2 {
		t.Errorf("expected stall at iteration 2, got %d", run.Iterations)
	}
	if !strings.Contains(out.String(), "no plan progress") {
		t.Errorf("expected idle-stall reason in output:\n%s", out.String())
	}
}

func TestRunPlanProgressDefeatsStall(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "- [ ] task a\n- [ ] task b\n- [ ] task c\n")
	// Check one box per pass
	script := `awk '!done && /\[ \]/ { sub(/\[ \]/, "[x]"); done=1 } { print }' fix_plan.md > fix_plan.tmp && mv fix_plan.tmp fix_plan.md`
	cfg := testConfig(script)
	cfg.Loop.MaxIterations = 10
	cfg.Loop.StallWindow = 2

	run, _ := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonPlanComplete {
		t.Errorf("expected reason %s, got %s", types.ReasonPlanComplete, run.Reason)
	}
	if run.State != types.StateCompleted {
		t.Errorf("expected state %s, got %s", types.StateCompleted, run.State)
	}
	if run.Iterations != 3 {
		t.Errorf("expected completion on iteration 3, got %d", run.Iterations)
	}
}

func TestRunMaxIterations(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "- [ ] item one\n- [ ] item two\n")
	cfg := testConfig("echo still working")
	cfg.Loop.MaxIterations = 2

	run, _ := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonMaxIterations {
		t.Errorf("expected reason %s, got %s", types.ReasonMaxIterations, run.Reason)
	}
	if run.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", run.Iterations)
	}
}

func TestRunAgentBinaryMissing(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "")
	cfg := testConfig("unused")
	cfg.Agent.Command = []string{"ralph-test-no-such-agent"}
	cfg.Files.Plan = ""

	run, out := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonAgentFailure {
		t.Errorf("expected reason %s, got %s", types.ReasonAgentFailure, run.Reason)
	}
	if run.State != types.StateFailed {
		t.Errorf("expected state %s, got %s", types.StateFailed, run.State)
	}
	if run.Iterations != 1 {
		t.Errorf("missing binary should fail without retries, got %d iterations", run.Iterations)
	}
	if !strings.Contains(out.String(), "agent failed") {
		t.Errorf("expected failure message in output:\n%s", out.String())
	}
}

func TestRunRetriesThenFails(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "")
	cfg := testConfig("exit 7")
	cfg.Files.Plan = ""
	cfg.Loop.RetryLimit = 1

	run, out := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonAgentFailure {
		t.Errorf("expected reason %s, got %s", types.ReasonAgentFailure, run.Reason)
	}
	if !strings.Contains(out.String(), "retrying in") {
		t.Errorf("expected retry notice in output:\n%s", out.String())
	}

	st := openStore(t, ws)
	its, err := st.ListIterations(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListIterations: %v", err)
	}
	if len(its) != 1 {
		t.Fatalf("expected 1 iteration, got %d", len(its))
	}
	if its[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", its[0].Attempts)
	}
	if its[0].ExitCode != 7 {
		t.Errorf("expected exit code 7, got %d", its[0].ExitCode)
	}
	if its[0].Failure != types.FailureTransient {
		t.Errorf("expected transient failure, got %s", its[0].Failure)
	}
}

func TestRunBudgetExceeded(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "")
	cfg := testConfig(`printf '%s\n' '{"result":"working","total_cost_usd":5.0}'`)
	cfg.Files.Plan = ""
	cfg.Loop.MaxIterations = 10
	cfg.Budget.MaxCostUSD = 8

	run, out := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonBudgetExceeded {
		t.Errorf("expected reason %s, got %s", types.ReasonBudgetExceeded, run.Reason)
	}
	if run.Iterations != 2 {
		t.Errorf("expected budget to run out on iteration 2, got %d", run.Iterations)
	}
	if run.TotalCostUSD < 9.9 || run.TotalCostUSD > 10.1 {
		t.Errorf("expected ~$10 total cost, got %.2f", run.TotalCostUSD)
	}
	if !strings.Contains(out.String(), "cost budget exceeded") {
		t.Errorf("expected budget message in output:\n%s", out.String())
	}
}

func TestRunRequiredGateVetoesMarker(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "")
	cfg := testConfig("echo RALPH_DONE")
	cfg.Files.Plan = ""
	cfg.Loop.MaxIterations = 2
	cfg.Gates.Commands = map[string]string{"check": "false"}
	cfg.Gates.Required = true

	run, out := runLoop(t, cfg, ws)

	if run.State == types.StateCompleted {
		t.Error("failing required gate must not allow completion")
	}
	if run.Reason != types.ReasonMaxIterations {
		t.Errorf("expected reason %s, got %s", types.ReasonMaxIterations, run.Reason)
	}
	if !strings.Contains(out.String(), "required gates failed") {
		t.Errorf("expected gate veto message in output:\n%s", out.String())
	}

	st := openStore(t, ws)
	its, err := st.ListIterations(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListIterations: %v", err)
	}
	if len(its) == 0 {
		t.Fatal("expected recorded iterations")
	}
	if its[0].GatesRan != 1 || its[0].GatesFailed != 1 {
		t.Errorf("expected gates 1 ran / 1 failed, got %d/%d", its[0].GatesRan, its[0].GatesFailed)
	}
}

func TestRunPassingGateAllowsMarker(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "")
	cfg := testConfig("echo RALPH_DONE")
	cfg.Files.Plan = ""
	cfg.Gates.Commands = map[string]string{"check": "true"}
	cfg.Gates.Required = true

	run, _ := runLoop(t, cfg, ws)

	if run.Reason != types.ReasonMarkerConfirmed {
		t.Errorf("expected reason %s, got %s", types.ReasonMarkerConfirmed, run.Reason)
	}
}

func TestRunRefusesSecondLoop(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "")
	cfg := testConfig("echo RALPH_DONE")
	cfg.Files.Plan = ""

	lk, err := lock.Acquire(filepath.Join(ws, ".ralph"), "test")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = lk.Release() }()

	var out bytes.Buffer
	eng, err := New(Options{Config: cfg, Workspace: ws, Version: "test", Out: &out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := eng.Run(context.Background()); err == nil {
		t.Fatal("expected lock contention error")
	} else if !strings.Contains(err.Error(), "already running") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunCanceledContext(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "")
	cfg := testConfig("echo hi")
	cfg.Files.Plan = ""

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	eng, err := New(Options{Config: cfg, Workspace: ws, Version: "test", Out: &out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	run, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Reason != types.ReasonInterrupted {
		t.Errorf("expected reason %s, got %s", types.ReasonInterrupted, run.Reason)
	}
	if run.State != types.StateStopped {
		t.Errorf("expected state %s, got %s", types.StateStopped, run.State)
	}
}

func TestRunMissingPrompt(t *testing.T) {
	ws := t.TempDir()
	cfg := testConfig("echo hi")

	eng, err := New(Options{Config: cfg, Workspace: ws, Version: "test", Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := eng.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing prompt file")
	} else if !strings.Contains(err.Error(), "ralph init") {
		t.Errorf("error should hint at init, got: %v", err)
	}
}

func TestNewRejectsBadWorkspace(t *testing.T) {
	cfg := testConfig("echo hi")
	if _, err := New(Options{Config: cfg, Workspace: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected error for nonexistent workspace")
	}
	if _, err := New(Options{Workspace: t.TempDir()}); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestDryRun(t *testing.T) {
	skipWithoutShell(t)

	ws := testWorkspace(t, "- [ ] one thing\n")
	cfg := testConfig("echo hi")

	var out bytes.Buffer
	eng, err := New(Options{Config: cfg, Workspace: ws, Version: "test", Out: &out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.DryRun(context.Background()); err != nil {
		t.Fatalf("DryRun: %v\noutput:\n%s", err, out.String())
	}
	for _, want := range []string{"renders", "parses", "agent binary"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in dry run output:\n%s", want, out.String())
		}
	}
}

func TestDryRunMissingAgent(t *testing.T) {
	ws := testWorkspace(t, "")
	cfg := testConfig("unused")
	cfg.Agent.Command = []string{"ralph-test-no-such-agent"}
	cfg.Files.Plan = ""

	var out bytes.Buffer
	eng, err := New(Options{Config: cfg, Workspace: ws, Version: "test", Out: &out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.DryRun(context.Background()); err == nil {
		t.Fatal("expected dry run failure for missing agent binary")
	}
	if !strings.Contains(out.String(), "not found in PATH") {
		t.Errorf("expected PATH message in output:\n%s", out.String())
	}
}
