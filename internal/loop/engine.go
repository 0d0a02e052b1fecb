// Package loop drives the fixed-iteration agent loop: render the prompt,
// spawn the agent, scan its output, verify completion against the plan,
// run gates, repeat until something stops the run.
package loop

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ralphloop/ralph/internal/budget"
	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/events"
	"github.com/ralphloop/ralph/internal/gates"
	"github.com/ralphloop/ralph/internal/gitops"
	"github.com/ralphloop/ralph/internal/lock"
	"github.com/ralphloop/ralph/internal/plan"
	"github.com/ralphloop/ralph/internal/runlog"
	"github.com/ralphloop/ralph/internal/store"
	"github.com/ralphloop/ralph/internal/types"
	"github.com/ralphloop/ralph/internal/watchdog"
)

// Options configures an Engine
type Options struct {
	Config    *config.Config
	Workspace string
	Version   string
	// Echo mirrors agent output to the console as it arrives
	Echo bool
	// Out receives ralph's own status lines; defaults to stdout
	Out io.Writer
	// HandleSignals installs the two-stage SIGINT/SIGTERM handler:
	// first signal finishes the current iteration, second kills the agent
	HandleSignals bool
}

// Engine runs the loop for one workspace
type Engine struct {
	cfg       *config.Config
	workspace string
	version   string
	echo      bool
	out       io.Writer
	signals   bool

	promptPath string
	planPath   string // empty when no plan is configured

	// Per-run components, assembled in Run
	run      *types.Run
	store    *store.Store
	log      *runlog.Logger
	scanner  *events.Scanner
	monitor  *watchdog.Monitor
	budget   *budget.Tracker
	observer *gitops.Observer
	limiter  *rate.Limiter
	watcher  *plan.Watcher
	gates    *gates.Runner

	interrupted atomic.Bool
	planWarned  bool
	lastDigest  string

	pendingMu sync.Mutex
	pending   []*events.Event
}

// New creates an engine. The workspace must exist; everything else is
// created on demand.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	workspace, err := filepath.Abs(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if fi, err := os.Stat(workspace); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", workspace)
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	e := &Engine{
		cfg:       opts.Config,
		workspace: workspace,
		version:   opts.Version,
		echo:      opts.Echo,
		out:       out,
		signals:   opts.HandleSignals,

		promptPath: filepath.Join(workspace, opts.Config.Files.Prompt),
	}
	if opts.Config.Files.Plan != "" {
		e.planPath = filepath.Join(workspace, opts.Config.Files.Plan)
	}
	return e, nil
}

// stateDir is the workspace's .ralph directory
func (e *Engine) stateDir() string {
	return filepath.Join(e.workspace, config.ConfigDir)
}

// resolve turns a workspace-relative config path into an absolute one
func (e *Engine) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workspace, path)
}

// Run executes the loop until completion, exhaustion, or interruption.
// The returned run is terminal; the error covers setup failures only
// (a run that stopped or failed is still a successful Run call).
func (e *Engine) Run(ctx context.Context) (*types.Run, error) {
	if _, err := os.Stat(e.promptPath); err != nil {
		return nil, fmt.Errorf("prompt file %s not found (run `ralph init`?)", e.promptPath)
	}

	lk, err := lock.Acquire(e.stateDir(), e.version)
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	if lk.TookOverFrom != nil {
		e.printf("⚠ replaced stale lock left by PID %d\n", lk.TookOverFrom.PID)
	}

	e.run = &types.Run{
		ID:            uuid.New().String(),
		Workspace:     e.workspace,
		Agent:         e.cfg.Agent.Kind,
		PromptPath:    e.cfg.Files.Prompt,
		PlanPath:      e.cfg.Files.Plan,
		Marker:        e.cfg.Files.Marker,
		MaxIterations: e.cfg.Loop.MaxIterations,
		State:         types.StateRunning,
		StartedAt:     time.Now(),
	}
	if e.cfg.Agent.Kind == types.AgentCustom && len(e.cfg.Agent.Command) > 0 {
		e.run.AgentCommand = e.cfg.Agent.Command[0]
	}

	e.openComponents(ctx)
	defer e.closeComponents()

	hardCtx, hardCancel := context.WithCancel(ctx)
	defer hardCancel()
	if e.signals {
		stop := e.installSignalHandler(hardCancel)
		defer stop()
	}

	e.printBanner()
	e.emit(events.New(e.run.ID, 0, events.TypeRunStarted, events.SeverityInfo,
		fmt.Sprintf("run started with %s agent", e.run.Agent)).
		WithData("marker", e.run.Marker).
		WithData("max_iterations", fmt.Sprintf("%d", e.run.MaxIterations)))

	var final types.StopReason
	for seq := 1; seq <= e.cfg.Loop.MaxIterations; seq++ {
		if reason := e.iterate(hardCtx, seq); reason != "" {
			final = reason
			break
		}
		if e.interrupted.Load() || hardCtx.Err() != nil {
			final = types.ReasonInterrupted
			break
		}
	}
	if final == "" {
		final = types.ReasonMaxIterations
	}

	e.finishRun(final)
	return e.run, nil
}

// openComponents assembles the per-run machinery. Each failure degrades
// rather than aborting: a loop that cannot journal still loops.
func (e *Engine) openComponents(ctx context.Context) {
	st, err := store.New(e.resolve(e.cfg.Store.Path))
	if err != nil {
		e.printf("⚠ run history disabled: %v\n", err)
	} else {
		e.store = st
	}

	e.log = runlog.Open(runlog.Options{
		Dir:   e.resolve(e.cfg.Log.Dir),
		RunID: e.run.ID,
		Level: e.cfg.Log.Level,
	})

	if e.store != nil {
		if err := e.store.CreateRun(ctx, e.run); err != nil {
			e.printf("⚠ failed to record run: %v\n", err)
		}
	}

	watchPaths := []string{e.promptPath}
	if e.planPath != "" {
		watchPaths = append(watchPaths, e.planPath)
	}
	w, err := plan.NewWatcher(watchPaths...)
	if err != nil {
		e.printf("⚠ file watching disabled: %v\n", err)
	} else {
		e.watcher = w
	}

	interval := e.cfg.Loop.SpawnInterval.Std()
	if interval > 0 {
		e.limiter = rate.NewLimiter(rate.Every(interval), 1)
	} else {
		e.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	e.scanner = events.NewScanner(e.run.ID, e.run.Marker)
	e.monitor = watchdog.NewMonitor(&watchdog.Config{
		WindowSize: e.cfg.Loop.StallWindow,
		ClaimLimit: e.cfg.Loop.StallClaims,
	})
	e.budget = budget.NewTracker(budget.Config{
		MaxCostUSD:     e.cfg.Budget.MaxCostUSD,
		MaxWallClock:   e.cfg.Budget.MaxWallClock.Std(),
		AlertThreshold: e.cfg.Budget.AlertThreshold,
	})
	e.observer = gitops.NewObserver(ctx, e.workspace)
	if len(e.cfg.Gates.Commands) > 0 {
		e.gates = &gates.Runner{
			WorkDir:  e.workspace,
			Commands: e.cfg.Gates.Commands,
			Timeout:  e.cfg.Gates.Timeout.Std(),
		}
	}
}

func (e *Engine) closeComponents() {
	if e.watcher != nil {
		e.watcher.Close()
	}
	if e.log != nil {
		e.log.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
}

// installSignalHandler wires the two-stage interrupt: the first signal
// lets the current iteration finish, the second kills the agent.
func (e *Engine) installSignalHandler(hardCancel context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-done:
			return
		case <-sigCh:
			e.interrupted.Store(true)
			e.printf("\n⚠ interrupt received: finishing current iteration (press again to kill the agent)\n")
		}
		select {
		case <-done:
		case <-sigCh:
			e.printf("⚠ second interrupt: killing agent\n")
			hardCancel()
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// finishRun settles the run record, flushes, prunes, and prints the
// summary
func (e *Engine) finishRun(reason types.StopReason) {
	cost, _ := e.budget.Spent()
	e.run.TotalCostUSD = cost

	if err := e.run.Finish(reason, time.Now()); err != nil {
		// Already terminal; nothing to settle
		e.printf("⚠ %v\n", err)
	}

	sev := events.SeverityInfo
	if e.run.State == types.StateFailed {
		sev = events.SeverityError
	}
	e.emit(events.New(e.run.ID, e.run.Iterations, events.TypeRunCompleted, sev,
		fmt.Sprintf("run ended: %s", reason)).
		WithData("state", string(e.run.State)).
		WithData("iterations", fmt.Sprintf("%d", e.run.Iterations)).
		WithData("cost_usd", fmt.Sprintf("%.4f", e.run.TotalCostUSD)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.store != nil {
		if err := e.store.UpdateRun(ctx, e.run); err != nil {
			e.printf("⚠ failed to record run outcome: %v\n", err)
		}
	}
	e.flushEvents(ctx)

	// Post-run housekeeping, best-effort
	if e.store != nil && e.cfg.Store.RetainRuns > 0 {
		cutoff := time.Now().Add(-e.cfg.Store.RetainAge.Std())
		if n, err := e.store.Prune(ctx, e.cfg.Store.RetainRuns, cutoff); err == nil && n > 0 {
			e.log.Debug().Int("pruned", n).Msg("pruned old runs")
		}
	}

	e.printSummary()
}

// emit journals an event immediately and queues it for the store
func (e *Engine) emit(ev *events.Event) {
	if e.log != nil {
		e.log.LogEvent(*ev)
	}
	e.pendingMu.Lock()
	e.pending = append(e.pending, ev)
	e.pendingMu.Unlock()
}

// bufferScanned queues a scanner-produced event without re-journaling
// it; scanner events go to the journal at debug level to keep the log
// readable
func (e *Engine) bufferScanned(ev *events.Event) {
	if e.log != nil {
		e.log.Debug().
			Str("event", string(ev.Type)).
			Int("iteration", ev.Iteration).
			Msg(ev.Message)
	}
	e.pendingMu.Lock()
	e.pending = append(e.pending, ev)
	e.pendingMu.Unlock()
}

// flushEvents writes queued events to the store in one batch
func (e *Engine) flushEvents(ctx context.Context) {
	e.pendingMu.Lock()
	batch := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	if e.store == nil || len(batch) == 0 {
		return
	}
	if err := e.store.AddEvents(ctx, batch); err != nil {
		e.printf("⚠ failed to record %d events: %v\n", len(batch), err)
	}
}

func (e *Engine) printf(format string, args ...interface{}) {
	fmt.Fprintf(e.out, format, args...)
}
