// Package watchdog watches iteration-over-iteration progress and decides
// when the loop is spinning without getting anywhere. It maintains a
// sliding window of recent iteration samples and renders a verdict after
// each one.
package watchdog

import (
	"fmt"
	"sync"
)

// Sample captures the progress signals from one loop iteration
type Sample struct {
	// Seq is the iteration number
	Seq int
	// BoxesChecked is how many plan boxes were newly checked this iteration
	BoxesChecked int
	// DiffLines is the size of the workspace change this iteration
	DiffLines int
	// MarkerClaimed indicates the agent printed the completion marker
	MarkerClaimed bool
	// ClaimConfirmed indicates the plan agreed with the claim
	ClaimConfirmed bool
	// AgentFailed indicates the iteration ended in an agent failure
	AgentFailed bool
}

// progressed reports whether the iteration moved the work forward
func (s Sample) progressed() bool {
	return s.BoxesChecked > 0 || s.DiffLines > 0
}

// Verdict is the watchdog's opinion after recording an iteration
type Verdict struct {
	// Stalled means the loop should stop; continuing would burn passes
	// without progress
	Stalled bool
	// Warning means the loop is one iteration away from a stall verdict
	Warning bool
	// Reason describes the verdict for the operator
	Reason string
}

// Config holds watchdog thresholds
type Config struct {
	// WindowSize is the number of consecutive iterations with no plan or
	// diff movement before the loop is declared stalled
	// Default: 5
	WindowSize int
	// ClaimLimit is the number of consecutive unconfirmed completion
	// claims tolerated before stopping
	// Default: 3
	ClaimLimit int
}

// DefaultConfig returns default watchdog thresholds
func DefaultConfig() *Config {
	return &Config{
		WindowSize: 5,
		ClaimLimit: 3,
	}
}

// Monitor keeps a sliding window of iteration samples and decides when
// the loop has stopped making progress
type Monitor struct {
	mu sync.Mutex

	// window stores recent samples (bounded by windowSize)
	window     []Sample
	windowSize int

	// claimStreak counts consecutive unconfirmed completion claims
	claimStreak int
	claimLimit  int
}

// NewMonitor creates a progress monitor
func NewMonitor(cfg *Config) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 5
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 3
	}

	return &Monitor{
		window:     make([]Sample, 0, cfg.WindowSize),
		windowSize: cfg.WindowSize,
		claimLimit: cfg.ClaimLimit,
	}
}

// Record adds an iteration sample and returns the resulting verdict
func (m *Monitor) Record(s Sample) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = append(m.window, s)

	// Enforce sliding window
	if len(m.window) > m.windowSize {
		copy(m.window, m.window[len(m.window)-m.windowSize:])
		m.window = m.window[:m.windowSize]
	}

	if s.MarkerClaimed && !s.ClaimConfirmed {
		m.claimStreak++
	} else {
		m.claimStreak = 0
	}

	if m.claimStreak >= m.claimLimit {
		return Verdict{
			Stalled: true,
			Reason: fmt.Sprintf("agent claimed completion %d times in a row without the plan agreeing",
				m.claimStreak),
		}
	}

	streak := m.idleStreakLocked()
	switch {
	case streak >= m.windowSize:
		return Verdict{
			Stalled: true,
			Reason:  fmt.Sprintf("no plan progress and no workspace changes for %d iterations", streak),
		}
	case streak == m.windowSize-1:
		return Verdict{
			Warning: true,
			Reason: fmt.Sprintf("no progress for %d iterations; one more idle pass will stop the loop",
				streak),
		}
	}

	return Verdict{}
}

// idleStreakLocked counts the trailing run of samples with no progress.
// Caller must hold the mutex.
func (m *Monitor) idleStreakLocked() int {
	streak := 0
	for i := len(m.window) - 1; i >= 0; i-- {
		if m.window[i].progressed() {
			break
		}
		streak++
	}
	return streak
}

// ClaimStreak returns the current run of unconfirmed completion claims
func (m *Monitor) ClaimStreak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimStreak
}

// Window returns a copy of the recent samples, oldest first
func (m *Monitor) Window() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Sample, len(m.window))
	copy(result, m.window)
	return result
}

// Reset clears all recorded state (useful between runs)
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = make([]Sample, 0, m.windowSize)
	m.claimStreak = 0
}
