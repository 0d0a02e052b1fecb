// Package budget enforces spend ceilings on a run: cumulative agent cost
// in USD and total wall-clock time. Either ceiling can be disabled by
// leaving it at zero.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current budget state
type Status int

const (
	// Healthy indicates normal operation, under budget limits
	Healthy Status = iota
	// Warning indicates the run is approaching a limit
	Warning
	// Exceeded indicates a limit has been crossed
	Exceeded
)

// String returns a human-readable string representation of the status
func (s Status) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Warning:
		return "WARNING"
	case Exceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Config holds budget ceilings
type Config struct {
	// MaxCostUSD is the cumulative agent spend ceiling; 0 disables it
	MaxCostUSD float64
	// MaxWallClock is the total run duration ceiling; 0 disables it
	MaxWallClock time.Duration
	// AlertThreshold is the fraction of either ceiling that moves the
	// status to Warning
	// Default: 0.8
	AlertThreshold float64
}

// Tracker accumulates run spend against the configured ceilings
type Tracker struct {
	mu sync.Mutex

	maxCost   float64
	maxClock  time.Duration
	threshold float64

	start    time.Time
	costUsed float64
	warned   bool

	now func() time.Time
}

// NewTracker creates a budget tracker and starts the wall clock
func NewTracker(cfg Config) *Tracker {
	if cfg.AlertThreshold <= 0 || cfg.AlertThreshold > 1 {
		cfg.AlertThreshold = 0.8
	}

	t := &Tracker{
		maxCost:   cfg.MaxCostUSD,
		maxClock:  cfg.MaxWallClock,
		threshold: cfg.AlertThreshold,
		now:       time.Now,
	}
	t.start = t.now()
	return t
}

// AddCost records agent spend from one iteration and returns the
// resulting status
func (t *Tracker) AddCost(usd float64) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if usd > 0 {
		t.costUsed += usd
	}
	return t.statusLocked()
}

// Check returns the current status without recording spend. Wall-clock
// ceilings can trip between iterations, so callers should check before
// spawning as well as after recording.
func (t *Tracker) Check() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

// Spent returns the accumulated cost and elapsed wall-clock time
func (t *Tracker) Spent() (costUSD float64, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.costUsed, t.now().Sub(t.start)
}

// WarnOnce returns true the first time the status reaches Warning or
// worse; later calls return false so the loop alerts once per run
func (t *Tracker) WarnOnce(status Status) bool {
	if status < Warning {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.warned {
		return false
	}
	t.warned = true
	return true
}

// Reason describes which ceiling tripped, for the operator
func (t *Tracker) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxCost > 0 && t.costUsed >= t.maxCost {
		return fmt.Sprintf("cost budget exceeded ($%.2f of $%.2f spent)", t.costUsed, t.maxCost)
	}
	if elapsed := t.now().Sub(t.start); t.maxClock > 0 && elapsed >= t.maxClock {
		return fmt.Sprintf("wall clock budget exceeded (%s of %s elapsed)",
			elapsed.Round(time.Second), t.maxClock)
	}
	return ""
}

// statusLocked computes the status; caller must hold the mutex
func (t *Tracker) statusLocked() Status {
	elapsed := t.now().Sub(t.start)

	if t.maxCost > 0 && t.costUsed >= t.maxCost {
		return Exceeded
	}
	if t.maxClock > 0 && elapsed >= t.maxClock {
		return Exceeded
	}

	if t.maxCost > 0 && t.costUsed >= t.threshold*t.maxCost {
		return Warning
	}
	if t.maxClock > 0 && float64(elapsed) >= t.threshold*float64(t.maxClock) {
		return Warning
	}

	return Healthy
}
