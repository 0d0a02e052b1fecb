package gates

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("gate tests need a POSIX shell")
	}
}

func TestRunMixedResults(t *testing.T) {
	skipWithoutShell(t)

	r := &Runner{
		WorkDir: t.TempDir(),
		Commands: map[string]string{
			"build": "true",
			"test":  "echo failing output; false",
			"lint":  "echo clean",
		},
		Timeout: 30 * time.Second,
	}

	results := r.Run(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	// Results come back in gate-name order regardless of finish order.
	wantNames := []string{"build", "lint", "test"}
	for i, want := range wantNames {
		if results[i].Name != want {
			t.Errorf("result %d: expected name %q, got %q", i, want, results[i].Name)
		}
	}

	byName := make(map[string]Result)
	for _, res := range results {
		byName[res.Name] = res
	}
	if !byName["build"].Passed {
		t.Error("build gate should pass")
	}
	if !byName["lint"].Passed {
		t.Error("lint gate should pass")
	}
	if byName["test"].Passed {
		t.Error("test gate should fail")
	}
	if !strings.Contains(byName["test"].Output, "failing output") {
		t.Errorf("failed gate should capture output, got %q", byName["test"].Output)
	}
}

func TestRunNoGates(t *testing.T) {
	r := &Runner{WorkDir: t.TempDir()}
	if results := r.Run(context.Background()); results != nil {
		t.Errorf("expected nil results with no gates, got %v", results)
	}
}

func TestRunSkipsMissingBinary(t *testing.T) {
	skipWithoutShell(t)

	r := &Runner{
		WorkDir: t.TempDir(),
		Commands: map[string]string{
			"phantom": "no-such-binary-xyzzy --flag",
		},
		Timeout: 10 * time.Second,
	}

	results := r.Run(context.Background())
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Skipped {
		t.Error("gate with missing binary should be skipped")
	}
	if results[0].Passed {
		t.Error("skipped gate should not be marked passed")
	}
	if !strings.Contains(results[0].Output, "not found in PATH") {
		t.Errorf("skip reason should mention PATH, got %q", results[0].Output)
	}
}

func TestRunShellConstructNotProbed(t *testing.T) {
	skipWithoutShell(t)

	// A command starting with a shell construct can't be probed with
	// LookPath and must run through the shell instead of being skipped.
	r := &Runner{
		WorkDir: t.TempDir(),
		Commands: map[string]string{
			"env": "FOO=bar sh -c 'echo $FOO'",
		},
		Timeout: 10 * time.Second,
	}

	results := r.Run(context.Background())
	if results[0].Skipped {
		t.Fatal("shell construct should not be skipped")
	}
	if !results[0].Passed {
		t.Errorf("gate should pass, output: %q", results[0].Output)
	}
	if !strings.Contains(results[0].Output, "bar") {
		t.Errorf("expected env var expansion, got %q", results[0].Output)
	}
}

func TestRunTimeout(t *testing.T) {
	skipWithoutShell(t)

	r := &Runner{
		WorkDir: t.TempDir(),
		Commands: map[string]string{
			"slow": "sleep 30",
		},
		Timeout: 200 * time.Millisecond,
	}

	start := time.Now()
	results := r.Run(context.Background())
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
	if results[0].Passed {
		t.Error("timed-out gate should fail")
	}
	if !strings.Contains(results[0].Output, "timed out") {
		t.Errorf("expected timeout marker in output, got %q", results[0].Output)
	}
}

func TestAllPassed(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    bool
	}{
		{"empty", nil, true},
		{"all pass", []Result{{Passed: true}, {Passed: true}}, true},
		{"one fails", []Result{{Passed: true}, {Passed: false}}, false},
		{"skip ignored", []Result{{Passed: true}, {Skipped: true}}, true},
		{"only skips", []Result{{Skipped: true}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AllPassed(tt.results); got != tt.want {
				t.Errorf("AllPassed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCounts(t *testing.T) {
	results := []Result{
		{Name: "a", Passed: true},
		{Name: "b", Passed: false},
		{Name: "c", Skipped: true},
		{Name: "d", Passed: false},
	}
	ran, failed := Counts(results)
	if ran != 3 {
		t.Errorf("expected 3 ran, got %d", ran)
	}
	if failed != 2 {
		t.Errorf("expected 2 failed, got %d", failed)
	}
}

func TestFailureDigest(t *testing.T) {
	results := []Result{
		{Name: "build", Passed: true, Output: "all good"},
		{Name: "test", Passed: false, Output: "line1\nline2\nline3\nline4"},
		{Name: "lint", Skipped: true},
	}

	digest := FailureDigest(results, 2)
	if strings.Contains(digest, "all good") {
		t.Error("digest should not include passing gates")
	}
	if !strings.Contains(digest, `gate "test" failed`) {
		t.Errorf("digest should name the failed gate, got %q", digest)
	}
	if strings.Contains(digest, "line1") {
		t.Error("digest should keep only the tail of the output")
	}
	if !strings.Contains(digest, "line3\nline4") {
		t.Errorf("digest should keep last lines, got %q", digest)
	}

	if FailureDigest([]Result{{Name: "ok", Passed: true}}, 10) != "" {
		t.Error("digest of all-passing results should be empty")
	}
}

func TestLastLines(t *testing.T) {
	if got := lastLines("a\nb\nc\n", 2); got != "b\nc" {
		t.Errorf("lastLines = %q, want %q", got, "b\nc")
	}
	if got := lastLines("a\nb", 5); got != "a\nb" {
		t.Errorf("lastLines short input = %q, want %q", got, "a\nb")
	}
	if got := lastLines("a\nb", 0); got != "" {
		t.Errorf("lastLines zero = %q, want empty", got)
	}
}
