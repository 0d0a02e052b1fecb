package budget

import (
	"strings"
	"testing"
	"time"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{Healthy, "HEALTHY"},
		{Warning, "WARNING"},
		{Exceeded, "EXCEEDED"},
		{Status(42), "UNKNOWN(42)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestCostCeiling(t *testing.T) {
	tr := NewTracker(Config{MaxCostUSD: 10.0, AlertThreshold: 0.8})

	if status := tr.AddCost(5.0); status != Healthy {
		t.Errorf("at $5 of $10 expected HEALTHY, got %s", status)
	}
	if status := tr.AddCost(3.5); status != Warning {
		t.Errorf("at $8.50 of $10 expected WARNING, got %s", status)
	}
	if status := tr.AddCost(2.0); status != Exceeded {
		t.Errorf("at $10.50 of $10 expected EXCEEDED, got %s", status)
	}

	reason := tr.Reason()
	if !strings.Contains(reason, "cost budget exceeded") {
		t.Errorf("unexpected reason: %q", reason)
	}
	if !strings.Contains(reason, "$10.50") {
		t.Errorf("reason should include spend, got %q", reason)
	}
}

func TestWallClockCeiling(t *testing.T) {
	tr := NewTracker(Config{MaxWallClock: time.Hour, AlertThreshold: 0.8})

	// Drive the clock by hand.
	elapsed := time.Duration(0)
	tr.now = func() time.Time { return tr.start.Add(elapsed) }

	if status := tr.Check(); status != Healthy {
		t.Errorf("at start expected HEALTHY, got %s", status)
	}

	elapsed = 50 * time.Minute
	if status := tr.Check(); status != Warning {
		t.Errorf("at 50m of 1h expected WARNING, got %s", status)
	}

	elapsed = 61 * time.Minute
	if status := tr.Check(); status != Exceeded {
		t.Errorf("at 61m of 1h expected EXCEEDED, got %s", status)
	}
	if !strings.Contains(tr.Reason(), "wall clock budget exceeded") {
		t.Errorf("unexpected reason: %q", tr.Reason())
	}
}

func TestDisabledCeilings(t *testing.T) {
	tr := NewTracker(Config{})

	if status := tr.AddCost(1_000_000); status != Healthy {
		t.Errorf("with no ceilings expected HEALTHY, got %s", status)
	}
	if reason := tr.Reason(); reason != "" {
		t.Errorf("expected empty reason, got %q", reason)
	}
}

func TestSpent(t *testing.T) {
	tr := NewTracker(Config{MaxCostUSD: 100})
	tr.AddCost(1.25)
	tr.AddCost(0.75)
	tr.AddCost(-5) // garbage from a malformed result is ignored

	cost, elapsed := tr.Spent()
	if cost != 2.0 {
		t.Errorf("expected $2.00 spent, got $%.2f", cost)
	}
	if elapsed < 0 {
		t.Errorf("elapsed should be non-negative, got %v", elapsed)
	}
}

func TestWarnOnce(t *testing.T) {
	tr := NewTracker(Config{MaxCostUSD: 10, AlertThreshold: 0.5})

	if tr.WarnOnce(Healthy) {
		t.Error("healthy status should never warn")
	}

	status := tr.AddCost(6.0)
	if status != Warning {
		t.Fatalf("expected WARNING, got %s", status)
	}
	if !tr.WarnOnce(status) {
		t.Error("first warning should fire")
	}
	if tr.WarnOnce(status) {
		t.Error("second warning should be suppressed")
	}

	// Crossing into Exceeded does not re-arm the alert.
	status = tr.AddCost(10.0)
	if tr.WarnOnce(status) {
		t.Error("warning should stay suppressed after exceeding")
	}
}

func TestThresholdDefault(t *testing.T) {
	for _, bad := range []float64{0, -1, 2.5} {
		tr := NewTracker(Config{MaxCostUSD: 10, AlertThreshold: bad})
		if tr.threshold != 0.8 {
			t.Errorf("AlertThreshold %v: expected default 0.8, got %v", bad, tr.threshold)
		}
	}

	// 1.0 means "warn only at the limit" and is kept as configured
	tr := NewTracker(Config{MaxCostUSD: 10, AlertThreshold: 1.0})
	if tr.threshold != 1.0 {
		t.Errorf("expected threshold 1.0 to be honored, got %v", tr.threshold)
	}
}
