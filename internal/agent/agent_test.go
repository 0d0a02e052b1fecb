package agent

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralphloop/ralph/internal/types"
)

// shAgent builds a custom-agent config running a shell snippet; the
// snippet stands in for the real coding agent CLI
func shAgent(t *testing.T, script string) Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-stub agent tests require a POSIX shell")
	}
	return Config{
		Kind:       types.AgentCustom,
		Command:    []string{"/bin/sh", "-c", script},
		WorkingDir: t.TempDir(),
		Timeout:    10 * time.Second,
	}
}

func TestSpawnAndWait(t *testing.T) {
	cfg := shAgent(t, `cat >/dev/null; echo working; echo RALPH_DONE; echo oops >&2`)

	ag, err := Spawn(context.Background(), cfg, "the prompt")
	require.NoError(t, err)

	res, err := ag.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, types.FailureNone, res.Failure)
	assert.Equal(t, []string{"working", "RALPH_DONE"}, res.Output)
	assert.Equal(t, []string{"oops"}, res.Errors)
	assert.Greater(t, res.Duration, time.Duration(0))
	assert.True(t, ContainsMarker(res.Output, "RALPH_DONE"))
}

func TestSpawnEmptyPrompt(t *testing.T) {
	_, err := Spawn(context.Background(), Config{Kind: types.AgentClaudeCode}, "")
	assert.ErrorContains(t, err, "prompt is required")
}

func TestWaitNonzeroExit(t *testing.T) {
	cfg := shAgent(t, `cat >/dev/null; echo broken >&2; exit 3`)

	ag, err := Spawn(context.Background(), cfg, "p")
	require.NoError(t, err)

	res, err := ag.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, types.FailureTransient, res.Failure)
	assert.Contains(t, res.Errors, "broken")
}

func TestWaitTimeout(t *testing.T) {
	cfg := shAgent(t, `cat >/dev/null; sleep 30`)
	cfg.Timeout = 200 * time.Millisecond

	ag, err := Spawn(context.Background(), cfg, "p")
	require.NoError(t, err)

	start := time.Now()
	res, err := ag.Wait(context.Background())
	assert.ErrorContains(t, err, "timed out")
	assert.Equal(t, types.FailureTimeout, res.Failure)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitCancellation(t *testing.T) {
	cfg := shAgent(t, `cat >/dev/null; sleep 30`)

	ag, err := Spawn(context.Background(), cfg, "p")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := ag.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.FailureTransient, res.Failure)
}

func TestLineHook(t *testing.T) {
	cfg := shAgent(t, `cat >/dev/null; echo out1; echo err1 >&2; echo out2`)

	type captured struct {
		line   string
		stderr bool
	}
	var got []captured
	cfg.LineHook = func(line string, isStderr bool) {
		got = append(got, captured{line, isStderr})
	}

	ag, err := Spawn(context.Background(), cfg, "p")
	require.NoError(t, err)
	_, err = ag.Wait(context.Background())
	require.NoError(t, err)

	var outLines, errLines []string
	for _, c := range got {
		if c.stderr {
			errLines = append(errLines, c.line)
		} else {
			outLines = append(outLines, c.line)
		}
	}
	assert.Equal(t, []string{"out1", "out2"}, outLines)
	assert.Equal(t, []string{"err1"}, errLines)
}

func TestContainsMarker(t *testing.T) {
	lines := []string{"progress...", "all done: RALPH_DONE", "bye"}

	assert.True(t, ContainsMarker(lines, "RALPH_DONE"))
	assert.False(t, ContainsMarker(lines, "OTHER_MARKER"))
	assert.False(t, ContainsMarker(lines, ""))
	assert.False(t, ContainsMarker(nil, "RALPH_DONE"))
}

func TestParseTrailingJSON(t *testing.T) {
	lines := []string{
		"doing things",
		`{"not": "the result"}`,
		`{"result":"finished the plan","is_error":false,"total_cost_usd":0.42,"num_turns":7,"session_id":"s-1"}`,
	}

	res := parseTrailingJSON(lines)
	require.NotNil(t, res)
	assert.Equal(t, "finished the plan", res.Result)
	assert.InDelta(t, 0.42, res.TotalCostUSD, 0.0001)
	assert.Equal(t, 7, res.NumTurns)

	assert.Nil(t, parseTrailingJSON([]string{"no json here"}))
	assert.Nil(t, parseTrailingJSON(nil))

	// Arbitrary JSON noise without result fields is ignored
	assert.Nil(t, parseTrailingJSON([]string{`{"foo":"bar"}`}))
}

func TestWaitParsesAgentResult(t *testing.T) {
	cfg := shAgent(t, `cat >/dev/null; echo '{"result":"ok","total_cost_usd":1.25,"session_id":"abc"}'`)

	ag, err := Spawn(context.Background(), cfg, "p")
	require.NoError(t, err)
	res, err := ag.Wait(context.Background())
	require.NoError(t, err)

	require.NotNil(t, res.CLIResult)
	assert.InDelta(t, 1.25, res.CLIResult.TotalCostUSD, 0.0001)
}
