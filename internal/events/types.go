// Package events defines the structured event stream a run produces and
// the scanner that lifts events out of raw agent output.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes events in the run stream
type EventType string

const (
	// Run lifecycle
	TypeRunStarted   EventType = "run_started"
	TypeRunCompleted EventType = "run_completed"

	// Iteration lifecycle
	TypeIterationStarted   EventType = "iteration_started"
	TypeIterationCompleted EventType = "iteration_completed"

	// Agent process lifecycle
	TypeAgentSpawned   EventType = "agent_spawned"
	TypeAgentExited    EventType = "agent_exited"
	TypeRetryScheduled EventType = "retry_scheduled"

	// Completion detection
	TypeCompletionClaimed EventType = "completion_claimed"

	// Scanned from agent output
	TypeFileModified  EventType = "file_modified"
	TypeTestsRun      EventType = "tests_run"
	TypeBuildResult   EventType = "build_result"
	TypeErrorDetected EventType = "error_detected"

	// Loop machinery
	TypePlanReloaded  EventType = "plan_reloaded"
	TypeGatePassed    EventType = "gate_passed"
	TypeGateFailed    EventType = "gate_failed"
	TypeStallWarning  EventType = "stall_warning"
	TypeBudgetWarning EventType = "budget_warning"
)

// Severity indicates how important an event is
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one entry in a run's event stream
type Event struct {
	ID        string            `json:"id"`
	RunID     string            `json:"run_id"`
	Iteration int               `json:"iteration"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
}

// New creates an event with a fresh ID and timestamp
func New(runID string, iteration int, t EventType, sev Severity, msg string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		RunID:     runID,
		Iteration: iteration,
		Type:      t,
		Severity:  sev,
		Timestamp: time.Now(),
		Message:   msg,
	}
}

// WithData attaches a key/value pair, allocating the map lazily
func (e *Event) WithData(key, value string) *Event {
	if e.Data == nil {
		e.Data = make(map[string]string)
	}
	e.Data[key] = value
	return e
}
