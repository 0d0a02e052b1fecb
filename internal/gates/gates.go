// Package gates runs the operator's verification commands after each
// iteration. Gate failures never stop the loop by themselves; they feed
// the next prompt's failure digest, and with gates.required they block
// marker confirmation.
package gates

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result holds the outcome of one gate
type Result struct {
	Name     string
	Passed   bool
	Skipped  bool
	Output   string
	Duration time.Duration
}

// Runner executes the configured gates in the workspace
type Runner struct {
	WorkDir  string
	Commands map[string]string
	Timeout  time.Duration
}

// plainBinary matches a leading token safe to probe with LookPath
var plainBinary = regexp.MustCompile(`^[A-Za-z0-9_./-]+$`)

// Run executes all gates concurrently under a shared timeout and returns
// results in gate-name order. A gate whose binary is missing is skipped,
// not failed.
func (r *Runner) Run(ctx context.Context) []Result {
	if len(r.Commands) == 0 {
		return nil
	}

	names := make([]string, 0, len(r.Commands))
	for name := range r.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]Result, len(names))
	g, runCtx := errgroup.WithContext(runCtx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = r.runGate(runCtx, name, r.Commands[name])
			return nil
		})
	}
	g.Wait()

	return results
}

// runGate executes one gate command through the shell
func (r *Runner) runGate(ctx context.Context, name, command string) Result {
	start := time.Now()

	if bin := firstToken(command); bin != "" && plainBinary.MatchString(bin) {
		if _, err := exec.LookPath(bin); err != nil {
			return Result{
				Name:    name,
				Skipped: true,
				Output:  fmt.Sprintf("%s not found in PATH, skipping gate", bin),
			}
		}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.WorkDir
	output, err := cmd.CombinedOutput()

	res := Result{
		Name:     name,
		Passed:   err == nil,
		Output:   string(output),
		Duration: time.Since(start),
	}
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		res.Output += "\n[gate timed out]"
	}
	return res
}

func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// AllPassed reports whether no gate failed; skipped gates do not count
// against the batch
func AllPassed(results []Result) bool {
	for _, res := range results {
		if !res.Skipped && !res.Passed {
			return false
		}
	}
	return true
}

// Counts returns how many gates ran (not skipped) and how many failed
func Counts(results []Result) (ran, failed int) {
	for _, res := range results {
		if res.Skipped {
			continue
		}
		ran++
		if !res.Passed {
			failed++
		}
	}
	return ran, failed
}

// FailureDigest renders failed gates into a compact block for the next
// prompt, keeping only the last tailLines lines of each gate's output
func FailureDigest(results []Result, tailLines int) string {
	var b strings.Builder
	for _, res := range results {
		if res.Skipped || res.Passed {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "gate %q failed:\n%s\n", res.Name, lastLines(res.Output, tailLines))
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
