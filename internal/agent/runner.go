package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/ralphloop/ralph/internal/types"
)

// maxBackoff caps the exponential retry delay
const maxBackoff = 2 * time.Minute

// Runner wraps Spawn/Wait with the bounded retry policy: transient
// failures and timeouts are retried with exponential backoff, a missing
// agent binary is fatal immediately.
type Runner struct {
	Config     Config
	RetryLimit int
	Backoff    time.Duration
	// OnRetry is notified before each retry sleep (optional)
	OnRetry func(attempt int, cause error, wait time.Duration)
}

// RunOutcome is the final result of an iteration's agent invocation,
// including how many attempts it took
type RunOutcome struct {
	*Result
	Attempts int
}

// Run invokes the agent, retrying per policy. buildPrompt is called for
// every attempt so the prompt reflects current plan state.
func (r *Runner) Run(ctx context.Context, buildPrompt func(attempt int) (string, error)) (*RunOutcome, error) {
	maxAttempts := r.RetryLimit + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastResult *Result
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		prompt, err := buildPrompt(attempt)
		if err != nil {
			return nil, fmt.Errorf("build prompt: %w", err)
		}

		ag, err := Spawn(ctx, r.Config, prompt)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return &RunOutcome{
					Result:   &Result{ExitCode: -1, Failure: types.FailureFatal},
					Attempts: attempt,
				}, fmt.Errorf("agent binary not found: %w", err)
			}
			// Spawn errors (pipe failures, fork errors) are transient
			lastResult = &Result{ExitCode: -1, Failure: types.FailureTransient}
			lastErr = err
		} else {
			res, werr := ag.Wait(ctx)
			lastResult = res
			lastErr = werr

			if ctx.Err() != nil {
				return &RunOutcome{Result: res, Attempts: attempt}, ctx.Err()
			}
			if res != nil && res.Failure == types.FailureNone {
				return &RunOutcome{Result: res, Attempts: attempt}, nil
			}
		}

		if attempt == maxAttempts {
			break
		}
		if lastResult != nil && !lastResult.Failure.Retryable() {
			break
		}

		wait := r.Backoff << (attempt - 1)
		if wait > maxBackoff {
			wait = maxBackoff
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, failureCause(lastResult, lastErr), wait)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return &RunOutcome{Result: lastResult, Attempts: attempt}, err
		}
	}

	return &RunOutcome{Result: lastResult, Attempts: attempts},
		fmt.Errorf("agent failed after %d attempt(s): %w", attempts, failureCause(lastResult, lastErr))
}

// failureCause picks the most descriptive error for a failed attempt
func failureCause(res *Result, err error) error {
	if err != nil {
		return err
	}
	if res != nil {
		return fmt.Errorf("agent exited %d (%s)", res.ExitCode, res.Failure)
	}
	return fmt.Errorf("agent failed")
}

// sleepCtx sleeps for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
