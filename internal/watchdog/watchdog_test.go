package watchdog

import (
	"strings"
	"testing"
)

func TestRecordProgressNoVerdict(t *testing.T) {
	m := NewMonitor(&Config{WindowSize: 3, ClaimLimit: 3})

	for seq := 1; seq <= 10; seq++ {
		v := m.Record(Sample{Seq: seq, BoxesChecked: 1, DiffLines: 20})
		if v.Stalled || v.Warning {
			t.Fatalf("iteration %d: unexpected verdict %+v", seq, v)
		}
	}
}

func TestStallAfterWindow(t *testing.T) {
	m := NewMonitor(&Config{WindowSize: 3, ClaimLimit: 10})

	v := m.Record(Sample{Seq: 1})
	if v.Stalled || v.Warning {
		t.Fatalf("one idle iteration should not trigger anything, got %+v", v)
	}

	v = m.Record(Sample{Seq: 2})
	if !v.Warning {
		t.Error("expected warning one iteration before the stall verdict")
	}
	if v.Stalled {
		t.Error("should not be stalled yet")
	}

	v = m.Record(Sample{Seq: 3})
	if !v.Stalled {
		t.Fatalf("expected stall after 3 idle iterations, got %+v", v)
	}
	if !strings.Contains(v.Reason, "no plan progress") {
		t.Errorf("unexpected stall reason: %q", v.Reason)
	}
}

func TestProgressResetsIdleStreak(t *testing.T) {
	m := NewMonitor(&Config{WindowSize: 3, ClaimLimit: 10})

	m.Record(Sample{Seq: 1})
	m.Record(Sample{Seq: 2})

	// Diff movement alone counts as progress even with no boxes checked.
	v := m.Record(Sample{Seq: 3, DiffLines: 5})
	if v.Stalled || v.Warning {
		t.Fatalf("progressing iteration should clear the streak, got %+v", v)
	}

	v = m.Record(Sample{Seq: 4})
	if v.Stalled {
		t.Error("streak should have restarted from zero")
	}
}

func TestFailedIterationCountsAsIdle(t *testing.T) {
	m := NewMonitor(&Config{WindowSize: 2, ClaimLimit: 10})

	m.Record(Sample{Seq: 1, AgentFailed: true})
	v := m.Record(Sample{Seq: 2, AgentFailed: true})
	if !v.Stalled {
		t.Error("failed iterations with no output should count toward the stall window")
	}
}

func TestUnconfirmedClaimStreak(t *testing.T) {
	m := NewMonitor(&Config{WindowSize: 50, ClaimLimit: 3})

	// Claims with plan progress still count: the agent says done, the
	// plan says otherwise.
	m.Record(Sample{Seq: 1, MarkerClaimed: true, BoxesChecked: 1, DiffLines: 10})
	m.Record(Sample{Seq: 2, MarkerClaimed: true, BoxesChecked: 1, DiffLines: 10})
	if got := m.ClaimStreak(); got != 2 {
		t.Fatalf("expected claim streak 2, got %d", got)
	}

	v := m.Record(Sample{Seq: 3, MarkerClaimed: true, DiffLines: 10})
	if !v.Stalled {
		t.Fatalf("expected stall after 3 unconfirmed claims, got %+v", v)
	}
	if !strings.Contains(v.Reason, "claimed completion 3 times") {
		t.Errorf("unexpected claim-streak reason: %q", v.Reason)
	}
}

func TestClaimStreakResets(t *testing.T) {
	m := NewMonitor(&Config{WindowSize: 50, ClaimLimit: 3})

	m.Record(Sample{Seq: 1, MarkerClaimed: true, DiffLines: 1})
	m.Record(Sample{Seq: 2, MarkerClaimed: true, DiffLines: 1})

	// An iteration without a claim breaks the streak.
	m.Record(Sample{Seq: 3, DiffLines: 1})
	if got := m.ClaimStreak(); got != 0 {
		t.Errorf("expected streak reset, got %d", got)
	}

	m.Record(Sample{Seq: 4, MarkerClaimed: true, DiffLines: 1})
	v := m.Record(Sample{Seq: 5, MarkerClaimed: true, DiffLines: 1})
	if v.Stalled {
		t.Error("two claims after a reset should not trip the limit of 3")
	}
}

func TestConfirmedClaimDoesNotCount(t *testing.T) {
	m := NewMonitor(&Config{WindowSize: 50, ClaimLimit: 1})

	v := m.Record(Sample{Seq: 1, MarkerClaimed: true, ClaimConfirmed: true, DiffLines: 1})
	if v.Stalled {
		t.Error("a confirmed claim is success, not a stall signal")
	}
}

func TestWindowBounded(t *testing.T) {
	m := NewMonitor(&Config{WindowSize: 4, ClaimLimit: 10})

	for seq := 1; seq <= 20; seq++ {
		m.Record(Sample{Seq: seq, BoxesChecked: 1})
	}

	window := m.Window()
	if len(window) != 4 {
		t.Fatalf("expected window of 4 samples, got %d", len(window))
	}
	if window[0].Seq != 17 || window[3].Seq != 20 {
		t.Errorf("expected samples 17..20, got %d..%d", window[0].Seq, window[3].Seq)
	}
}

func TestReset(t *testing.T) {
	m := NewMonitor(&Config{WindowSize: 2, ClaimLimit: 2})

	m.Record(Sample{Seq: 1, MarkerClaimed: true})
	m.Reset()

	if got := m.ClaimStreak(); got != 0 {
		t.Errorf("expected zero claim streak after reset, got %d", got)
	}
	if got := len(m.Window()); got != 0 {
		t.Errorf("expected empty window after reset, got %d samples", got)
	}

	v := m.Record(Sample{Seq: 2})
	if v.Stalled {
		t.Error("one idle iteration after reset should not stall")
	}
}

func TestNilConfigDefaults(t *testing.T) {
	m := NewMonitor(nil)
	if m.windowSize != 5 {
		t.Errorf("expected default window size 5, got %d", m.windowSize)
	}
	if m.claimLimit != 3 {
		t.Errorf("expected default claim limit 3, got %d", m.claimLimit)
	}
}
