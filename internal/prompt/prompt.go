// Package prompt renders the operator's prompt file for each iteration.
// Prompt files are text/template documents; plain markdown with no template
// actions passes through unchanged.
package prompt

import (
	"fmt"
	"os"
	"strings"
	"text/template"
)

// Context is the data available to prompt templates
type Context struct {
	// Iteration is the current 1-based loop pass
	Iteration int
	// MaxIterations is the configured loop bound
	MaxIterations int
	// Marker is the literal completion string the agent must print when done
	Marker string
	// PlanPath is the plan file the agent should keep checked off ("" if none)
	PlanPath string
	// Remaining are the unchecked plan item texts
	Remaining []string
	// RemainingList is the same list pre-rendered as markdown checkboxes
	RemainingList string
	// LastFailure is a digest of the previous iteration's gate and agent
	// failures, empty on the first pass and after clean iterations
	LastFailure string
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"truncate": func(s string, maxLen int) string {
			if len(s) <= maxLen {
				return s
			}
			return s[:maxLen] + "..."
		},
		"joinLines": func(items []string) string {
			return strings.Join(items, "\n")
		},
		"codeBlock": func(s string) string {
			return "```\n" + strings.TrimRight(s, "\n") + "\n```"
		},
	}
}

// Render reads path and renders it with ctx
func Render(path string, ctx *Context) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return RenderString(path, string(data), ctx)
}

// RenderString renders prompt text with ctx. name is used in error messages.
func RenderString(name, text string, ctx *Context) (string, error) {
	tmpl, err := template.New(name).Funcs(funcMap()).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse prompt template %s: %w", name, err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, ctx); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return b.String(), nil
}
