package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

func testContext() *Context {
	return &Context{
		Iteration:     3,
		MaxIterations: 25,
		Marker:        "RALPH_DONE",
		PlanPath:      "fix_plan.md",
		Remaining:     []string{"fix the parser", "add tests"},
		RemainingList: "- [ ] fix the parser\n- [ ] add tests",
	}
}

func TestRenderString(t *testing.T) {
	out, err := RenderString("test", "iteration {{.Iteration}}/{{.MaxIterations}}: say {{.Marker}}", testContext())
	require.NoError(t, err)
	assert.Equal(t, "iteration 3/25: say RALPH_DONE", out)
}

func TestRenderPlainTextPassesThrough(t *testing.T) {
	plain := "Just work the plan.\nNo template syntax here.\n"
	out, err := RenderString("plain", plain, testContext())
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestRenderParseError(t *testing.T) {
	_, err := RenderString("bad", "unclosed {{.Marker", testContext())
	assert.ErrorContains(t, err, "parse prompt template")
}

func TestRenderFuncs(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{
			name: "truncate long",
			tmpl: `{{truncate "abcdefghij" 4}}`,
			want: "abcd...",
		},
		{
			name: "truncate short",
			tmpl: `{{truncate "abc" 10}}`,
			want: "abc",
		},
		{
			name: "joinLines",
			tmpl: `{{joinLines .Remaining}}`,
			want: "fix the parser\nadd tests",
		},
		{
			name: "codeBlock",
			tmpl: `{{codeBlock "go test: FAIL\n"}}`,
			want: "```\ngo test: FAIL\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := RenderString(tt.name, tt.tmpl, testContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRenderFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "PROMPT.md")
	require.NoError(t, os.WriteFile(path, []byte("plan: {{.PlanPath}}\n{{.RemainingList}}\n"), 0644))

	out, err := Render(path, testContext())
	require.NoError(t, err)
	assert.Contains(t, out, "plan: fix_plan.md")
	assert.Contains(t, out, "- [ ] add tests")

	_, err = Render(filepath.Join(dir, "missing.md"), testContext())
	assert.Error(t, err)
}

func TestDefaultPromptRenders(t *testing.T) {
	ctx := testContext()
	out, err := RenderString("default", DefaultPrompt(), ctx)
	require.NoError(t, err)

	assert.Contains(t, out, "RALPH_DONE")
	assert.Contains(t, out, "- [ ] fix the parser")
	assert.NotContains(t, out, "Previous iteration problems")

	ctx.LastFailure = "gate test failed: 2 tests red"
	out, err = RenderString("default", DefaultPrompt(), ctx)
	require.NoError(t, err)
	assert.Contains(t, out, "Previous iteration problems")
	assert.Contains(t, out, "gate test failed")
}

func TestDefaultPlanHasUncheckedBoxes(t *testing.T) {
	assert.True(t, strings.Contains(DefaultPlan(), "- [ ]"))
}

func TestDefaultConfigIsValidYAML(t *testing.T) {
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigYAML()), &doc))
	for _, section := range []string{"agent", "loop", "files", "gates", "budget", "store", "log"} {
		assert.Contains(t, doc, section)
	}
}
