// Package agent spawns the external coding agent CLI and captures its
// output. The agent is a third-party host: ralph only ever sees its exit
// code and output stream, and treats both as opaque apart from the
// completion marker and whatever the scanner recognizes.
package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ralphloop/ralph/internal/types"
)

const (
	// maxOutputLines caps captured output to prevent memory exhaustion
	// from long-running agents
	maxOutputLines = 10000

	// maxLineBytes sizes the scanner buffer; claude's JSON result arrives
	// as a single line that can run to megabytes
	maxLineBytes = 4 * 1024 * 1024
)

// Config holds configuration for spawning an agent
type Config struct {
	Kind       types.AgentKind
	WorkingDir string
	// Command is the argv for custom agents; ignored for claude/amp
	Command []string
	// ExtraArgs are appended to the built-in command line
	ExtraArgs []string
	// Timeout bounds a single invocation
	Timeout time.Duration
	// Echo mirrors agent output to ralph's stdout/stderr as it arrives
	Echo bool
	// LineHook receives each captured line. Called with the capture lock
	// held: keep it fast and never call back into the agent.
	LineHook func(line string, isStderr bool)
}

// Result contains the output and status from one agent invocation
type Result struct {
	ExitCode int
	Duration time.Duration
	Output   []string // captured stdout lines (capped at maxOutputLines)
	Errors   []string // captured stderr lines (capped at maxOutputLines)
	Failure  types.FailureKind
	// CLIResult is the agent's trailing JSON result object, when it
	// emitted one
	CLIResult *CLIResult
}

// Agent represents a running coding agent process
type Agent struct {
	cmd       *exec.Cmd
	config    Config
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	startTime time.Time

	mu     sync.Mutex
	result Result

	captureDone chan struct{}
}

// Spawn starts a coding agent process with a pre-built prompt
func Spawn(ctx context.Context, cfg Config, prompt string) (*Agent, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "."
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Minute
	}

	cmd, err := buildCommand(cfg, prompt)
	if err != nil {
		return nil, err
	}
	cmd.Dir = cfg.WorkingDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}

	a := &Agent{
		cmd:       cmd,
		config:    cfg,
		stdout:    stdout,
		stderr:    stderr,
		startTime: time.Now(),
		result: Result{
			Output: []string{},
			Errors: []string{},
		},
		captureDone: make(chan struct{}),
	}

	go a.captureOutput()

	return a, nil
}

// Wait waits for the agent to complete and returns the result
func (a *Agent) Wait(ctx context.Context) (*Result, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.cmd.Wait()
	}()

	select {
	case <-timeoutCtx.Done():
		a.Kill()
		<-errCh // reap the process

		a.mu.Lock()
		defer a.mu.Unlock()
		a.result.Duration = time.Since(a.startTime)
		a.result.ExitCode = -1
		if ctx.Err() != nil {
			// Caller cancellation, not the per-iteration deadline
			a.result.Failure = types.FailureTransient
			return a.snapshotLocked(), ctx.Err()
		}
		a.result.Failure = types.FailureTimeout
		return a.snapshotLocked(), fmt.Errorf("agent execution timed out after %v", a.config.Timeout)

	case err := <-errCh:
		<-a.captureDone

		a.mu.Lock()
		defer a.mu.Unlock()
		a.result.Duration = time.Since(a.startTime)

		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				a.result.ExitCode = exitErr.ExitCode()
			} else {
				a.result.ExitCode = -1
			}
			a.result.Failure = types.FailureTransient
		} else {
			a.result.ExitCode = 0
			a.result.Failure = types.FailureNone
		}

		a.result.CLIResult = parseTrailingJSON(a.result.Output)
		return a.snapshotLocked(), nil
	}
}

// snapshotLocked copies the result; the mutex must be held
func (a *Agent) snapshotLocked() *Result {
	r := a.result
	r.Output = append([]string{}, a.result.Output...)
	r.Errors = append([]string{}, a.result.Errors...)
	return &r
}

// Kill forcefully terminates the agent process
func (a *Agent) Kill() error {
	if a.cmd.Process != nil {
		return a.cmd.Process.Kill()
	}
	return nil
}

// captureOutput reads stdout/stderr line-by-line into the result, echoing
// and invoking the line hook as lines arrive
func (a *Agent) captureOutput() {
	defer close(a.captureDone)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(a.stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			a.mu.Lock()

			if len(a.result.Output) < maxOutputLines {
				a.result.Output = append(a.result.Output, line)
				if a.config.Echo {
					// Print inside the mutex so ordering matches capture
					fmt.Println(line)
				}
			} else if len(a.result.Output) == maxOutputLines {
				a.result.Output = append(a.result.Output, "[... output truncated: limit reached ...]")
			}

			if a.config.LineHook != nil {
				a.config.LineHook(line, false)
			}

			a.mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(a.stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			a.mu.Lock()

			if len(a.result.Errors) < maxOutputLines {
				a.result.Errors = append(a.result.Errors, line)
				if a.config.Echo {
					fmt.Fprintln(os.Stderr, line)
				}
			} else if len(a.result.Errors) == maxOutputLines {
				a.result.Errors = append(a.result.Errors, "[... error output truncated: limit reached ...]")
			}

			if a.config.LineHook != nil {
				a.config.LineHook(line, true)
			}

			a.mu.Unlock()
		}
	}()

	wg.Wait()
}

// Output returns a copy of the captured stdout lines so far
func (a *Agent) Output() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.result.Output))
	copy(out, a.result.Output)
	return out
}

// ContainsMarker reports whether any captured output line contains the
// literal marker. Substring match, not regex: operators pick any literal.
func ContainsMarker(lines []string, marker string) bool {
	if marker == "" {
		return false
	}
	for _, line := range lines {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
