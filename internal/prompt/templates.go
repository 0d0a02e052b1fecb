package prompt

import _ "embed"

// Starter files written by `ralph init`. The prompt template references the
// configured marker and live plan state through the template context, so a
// freshly scaffolded workspace already closes the loop.

//go:embed templates/PROMPT.md
var defaultPrompt string

//go:embed templates/fix_plan.md
var defaultPlan string

//go:embed templates/config.yaml
var defaultConfig string

// DefaultPrompt returns the starter PROMPT.md content
func DefaultPrompt() string {
	return defaultPrompt
}

// DefaultPlan returns the starter fix_plan.md content
func DefaultPlan() string {
	return defaultPlan
}

// DefaultConfigYAML returns the starter .ralph/config.yaml content
func DefaultConfigYAML() string {
	return defaultConfig
}
