package types

import (
	"fmt"
	"time"
)

// AgentKind identifies which external coding agent CLI the loop drives
type AgentKind string

const (
	// AgentClaudeCode is the Claude Code CLI ("claude")
	AgentClaudeCode AgentKind = "claude"
	// AgentAmp is the Sourcegraph Amp CLI ("amp")
	AgentAmp AgentKind = "amp"
	// AgentCustom is an operator-supplied command line
	AgentCustom AgentKind = "custom"
)

// IsValid checks if the agent kind value is valid
func (a AgentKind) IsValid() bool {
	switch a {
	case AgentClaudeCode, AgentAmp, AgentCustom:
		return true
	}
	return false
}

// RunState represents the lifecycle state of a loop run
type RunState string

const (
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateStopped   RunState = "stopped"
	StateFailed    RunState = "failed"
)

// IsValid checks if the run state value is valid
func (s RunState) IsValid() bool {
	switch s {
	case StateRunning, StateCompleted, StateStopped, StateFailed:
		return true
	}
	return false
}

// IsTerminal returns true once a run can no longer change state
func (s RunState) IsTerminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateFailed
}

// StopReason records why a run ended
type StopReason string

const (
	// ReasonPlanComplete: every box in the plan file is checked
	ReasonPlanComplete StopReason = "plan-complete"
	// ReasonMarkerConfirmed: the agent printed the completion marker and the
	// plan (if any) had no unchecked boxes left
	ReasonMarkerConfirmed StopReason = "marker-confirmed"
	// ReasonMaxIterations: the iteration limit was reached without completion
	ReasonMaxIterations StopReason = "max-iterations"
	// ReasonStalled: the watchdog saw no progress across its window
	ReasonStalled StopReason = "stalled"
	// ReasonBudgetExceeded: cost or wall-clock budget ran out
	ReasonBudgetExceeded StopReason = "budget-exceeded"
	// ReasonInterrupted: the operator stopped the loop (signal)
	ReasonInterrupted StopReason = "interrupted"
	// ReasonAgentFailure: the agent kept failing past the retry limit
	ReasonAgentFailure StopReason = "agent-failure"
)

// IsValid checks if the stop reason value is valid
func (r StopReason) IsValid() bool {
	switch r {
	case ReasonPlanComplete, ReasonMarkerConfirmed, ReasonMaxIterations,
		ReasonStalled, ReasonBudgetExceeded, ReasonInterrupted, ReasonAgentFailure:
		return true
	}
	return false
}

// State maps a stop reason to the terminal run state it implies
func (r StopReason) State() RunState {
	switch r {
	case ReasonPlanComplete, ReasonMarkerConfirmed:
		return StateCompleted
	case ReasonAgentFailure:
		return StateFailed
	default:
		return StateStopped
	}
}

// Run represents one invocation of the loop from start to finish
type Run struct {
	ID            string     `json:"id"`
	Workspace     string     `json:"workspace"`
	Agent         AgentKind  `json:"agent"`
	AgentCommand  string     `json:"agent_command,omitempty"`
	PromptPath    string     `json:"prompt_path"`
	PlanPath      string     `json:"plan_path,omitempty"`
	Marker        string     `json:"marker"`
	MaxIterations int        `json:"max_iterations"`
	State         RunState   `json:"state"`
	Reason        StopReason `json:"reason,omitempty"`
	Iterations    int        `json:"iterations"`
	TotalCostUSD  float64    `json:"total_cost_usd"`
	TotalDiff     int        `json:"total_diff_lines"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Validate checks if the run has valid field values
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if !r.Agent.IsValid() {
		return fmt.Errorf("invalid agent kind: %s", r.Agent)
	}
	if r.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1 (got %d)", r.MaxIterations)
	}
	if !r.State.IsValid() {
		return fmt.Errorf("invalid run state: %s", r.State)
	}
	if r.State == StateRunning && r.Reason != "" {
		return fmt.Errorf("running run cannot carry a stop reason (got %s)", r.Reason)
	}
	if r.State.IsTerminal() && !r.Reason.IsValid() {
		return fmt.Errorf("terminal run requires a stop reason")
	}
	return nil
}

// Finish transitions the run to the terminal state implied by reason.
// Returns an error if the run is already terminal.
func (r *Run) Finish(reason StopReason, at time.Time) error {
	if r.State.IsTerminal() {
		return fmt.Errorf("run %s already ended (%s)", r.ID, r.State)
	}
	if !reason.IsValid() {
		return fmt.Errorf("invalid stop reason: %s", reason)
	}
	r.State = reason.State()
	r.Reason = reason
	r.EndedAt = &at
	return nil
}

// Duration returns elapsed wall-clock time, using now for unfinished runs
func (r *Run) Duration(now time.Time) time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}
