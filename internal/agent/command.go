package agent

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/ralphloop/ralph/internal/types"
)

// BinaryName returns the executable a given agent kind spawns, so callers
// can probe PATH before starting a run. Empty when the kind is custom and
// no command was configured.
func BinaryName(kind types.AgentKind, command []string) string {
	switch kind {
	case types.AgentClaudeCode:
		return "claude"
	case types.AgentAmp:
		return "amp"
	default:
		if len(command) > 0 {
			return command[0]
		}
		return ""
	}
}

// buildCommand constructs the exec.Cmd for the configured agent kind
func buildCommand(cfg Config, prompt string) (*exec.Cmd, error) {
	switch cfg.Kind {
	case types.AgentClaudeCode:
		return buildClaudeCommand(cfg, prompt), nil
	case types.AgentAmp:
		return buildAmpCommand(cfg, prompt), nil
	case types.AgentCustom:
		return buildCustomCommand(cfg, prompt)
	default:
		return nil, fmt.Errorf("unsupported agent kind: %s", cfg.Kind)
	}
}

// buildClaudeCommand constructs the Claude Code CLI command. The prompt
// goes on stdin; -p with JSON output gives a parseable trailing result
// carrying cost. Permission checks are bypassed: the loop is unattended.
func buildClaudeCommand(cfg Config, prompt string) *exec.Cmd {
	args := []string{"-p", "--output-format", "json", "--dangerously-skip-permissions"}
	args = append(args, cfg.ExtraArgs...)

	cmd := exec.Command("claude", args...)
	cmd.Stdin = strings.NewReader(prompt)
	return cmd
}

// buildAmpCommand constructs the Sourcegraph amp CLI command. amp takes
// the prompt as an --execute argument rather than stdin.
func buildAmpCommand(cfg Config, prompt string) *exec.Cmd {
	args := []string{"--dangerously-allow-all", "--execute", prompt}
	args = append(args, cfg.ExtraArgs...)

	return exec.Command("amp", args...)
}

// buildCustomCommand runs the operator-supplied argv with the prompt on
// stdin
func buildCustomCommand(cfg Config, prompt string) (*exec.Cmd, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("custom agent requires a command")
	}
	args := append([]string{}, cfg.Command[1:]...)
	args = append(args, cfg.ExtraArgs...)

	cmd := exec.Command(cfg.Command[0], args...)
	cmd.Stdin = strings.NewReader(prompt)
	return cmd, nil
}
