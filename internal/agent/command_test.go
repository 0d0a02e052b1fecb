package agent

import (
	"testing"
	"time"

	"github.com/ralphloop/ralph/internal/types"
)

func TestBuildClaudeCommand(t *testing.T) {
	cfg := Config{
		Kind:       types.AgentClaudeCode,
		WorkingDir: "/tmp/test",
		Timeout:    5 * time.Minute,
	}
	prompt := "work the plan"

	cmd := buildClaudeCommand(cfg, prompt)

	want := []string{"-p", "--output-format", "json", "--dangerously-skip-permissions"}
	if len(cmd.Args) != len(want)+1 {
		t.Fatalf("expected %d args, got %d: %v", len(want)+1, len(cmd.Args), cmd.Args)
	}
	for i, w := range want {
		if cmd.Args[i+1] != w {
			t.Errorf("arg %d: expected %q, got %q", i+1, w, cmd.Args[i+1])
		}
	}

	// The prompt rides stdin, never argv
	for _, arg := range cmd.Args {
		if arg == prompt {
			t.Error("prompt must not appear in argv")
		}
	}
	if cmd.Stdin == nil {
		t.Error("expected prompt wired to stdin")
	}
}

func TestBuildClaudeCommandExtraArgs(t *testing.T) {
	cfg := Config{
		Kind:      types.AgentClaudeCode,
		ExtraArgs: []string{"--model", "opus"},
	}

	cmd := buildClaudeCommand(cfg, "p")

	got := cmd.Args[len(cmd.Args)-2:]
	if got[0] != "--model" || got[1] != "opus" {
		t.Errorf("expected extra args appended, got %v", cmd.Args)
	}
}

func TestBuildAmpCommand(t *testing.T) {
	cfg := Config{
		Kind:    types.AgentAmp,
		Timeout: 5 * time.Minute,
	}
	prompt := "work the plan"

	cmd := buildAmpCommand(cfg, prompt)

	// [amp, --dangerously-allow-all, --execute, prompt]
	if len(cmd.Args) != 4 {
		t.Fatalf("expected 4 args, got %d: %v", len(cmd.Args), cmd.Args)
	}
	if cmd.Args[1] != "--dangerously-allow-all" {
		t.Errorf("expected --dangerously-allow-all first, got %q", cmd.Args[1])
	}
	if cmd.Args[2] != "--execute" {
		t.Errorf("expected --execute, got %q", cmd.Args[2])
	}
	if cmd.Args[3] != prompt {
		t.Errorf("expected prompt as --execute argument, got %q", cmd.Args[3])
	}
}

func TestBuildCustomCommand(t *testing.T) {
	cfg := Config{
		Kind:      types.AgentCustom,
		Command:   []string{"aider", "--yes"},
		ExtraArgs: []string{"--no-git"},
	}

	cmd, err := buildCustomCommand(cfg, "p")
	if err != nil {
		t.Fatalf("buildCustomCommand failed: %v", err)
	}

	if cmd.Args[0] != "aider" {
		t.Errorf("expected argv[0] aider, got %q", cmd.Args[0])
	}
	if cmd.Args[1] != "--yes" || cmd.Args[2] != "--no-git" {
		t.Errorf("unexpected args: %v", cmd.Args)
	}
	if cmd.Stdin == nil {
		t.Error("expected prompt wired to stdin")
	}

	_, err = buildCustomCommand(Config{Kind: types.AgentCustom}, "p")
	if err == nil {
		t.Error("expected error for custom agent without a command")
	}
}

func TestBuildCommandUnsupportedKind(t *testing.T) {
	_, err := buildCommand(Config{Kind: "hal9000"}, "p")
	if err == nil {
		t.Error("expected error for unsupported agent kind")
	}
}
