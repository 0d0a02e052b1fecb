package types

import (
	"fmt"
	"time"
)

// FailureKind classifies how an agent invocation failed
type FailureKind string

const (
	// FailureNone means the agent exited zero
	FailureNone FailureKind = ""
	// FailureTransient covers nonzero exits and spawn errors worth retrying
	FailureTransient FailureKind = "transient"
	// FailureTimeout means the per-iteration deadline expired
	FailureTimeout FailureKind = "timeout"
	// FailureFatal covers unrecoverable conditions (agent binary missing)
	FailureFatal FailureKind = "fatal"
)

// IsValid checks if the failure kind value is valid
func (f FailureKind) IsValid() bool {
	switch f {
	case FailureNone, FailureTransient, FailureTimeout, FailureFatal:
		return true
	}
	return false
}

// Retryable returns true for failures the loop may retry
func (f FailureKind) Retryable() bool {
	return f == FailureTransient || f == FailureTimeout
}

// Iteration records one pass of the loop: a single agent invocation plus
// the completion check and gate results that followed it
type Iteration struct {
	RunID        string      `json:"run_id"`
	Seq          int         `json:"seq"`
	StartedAt    time.Time   `json:"started_at"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	Attempts     int         `json:"attempts"`
	ExitCode     int         `json:"exit_code"`
	Failure      FailureKind `json:"failure,omitempty"`
	MarkerSeen   bool        `json:"marker_seen"`
	BoxesTotal   int         `json:"boxes_total"`
	BoxesChecked int         `json:"boxes_checked"`
	DiffLines    int         `json:"diff_lines"`
	CostUSD      float64     `json:"cost_usd"`
	GatesRan     int         `json:"gates_ran"`
	GatesFailed  int         `json:"gates_failed"`
}

// Validate checks if the iteration has valid field values
func (i *Iteration) Validate() error {
	if i.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if i.Seq < 1 {
		return fmt.Errorf("seq must be at least 1 (got %d)", i.Seq)
	}
	if i.Attempts < 1 {
		return fmt.Errorf("attempts must be at least 1 (got %d)", i.Attempts)
	}
	if !i.Failure.IsValid() {
		return fmt.Errorf("invalid failure kind: %s", i.Failure)
	}
	if i.BoxesChecked > i.BoxesTotal {
		return fmt.Errorf("boxes_checked %d exceeds boxes_total %d", i.BoxesChecked, i.BoxesTotal)
	}
	if i.GatesFailed > i.GatesRan {
		return fmt.Errorf("gates_failed %d exceeds gates_ran %d", i.GatesFailed, i.GatesRan)
	}
	return nil
}

// PlanProgress returns checked-box delta against a prior iteration.
// A negative delta means the agent unchecked boxes (or rewrote the plan).
func (i *Iteration) PlanProgress(prev *Iteration) int {
	if prev == nil {
		return i.BoxesChecked
	}
	return i.BoxesChecked - prev.BoxesChecked
}

// Duration returns elapsed time for the iteration, using now when still open
func (i *Iteration) Duration(now time.Time) time.Duration {
	if i.EndedAt != nil {
		return i.EndedAt.Sub(i.StartedAt)
	}
	return now.Sub(i.StartedAt)
}
