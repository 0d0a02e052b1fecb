// Package plan reads and updates the markdown checkbox file that tracks
// remaining work. The plan file is the loop's ground truth: an agent's
// completion claim only counts once no unchecked boxes remain.
package plan

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// checkboxRe matches a markdown task list item: "- [ ] text" / "* [x] text",
// with any indentation. Group 1 is the mark, group 2 the text.
var checkboxRe = regexp.MustCompile(`^\s*[-*]\s+\[([ xX])\]\s+(.*)$`)

// Item is a single checkbox entry in the plan
type Item struct {
	// Text is the item text after the checkbox
	Text string
	// Checked is true for [x] / [X]
	Checked bool
	// Line is the 1-based line number in the file
	Line int
}

// Plan is a parsed plan file plus enough raw state to rewrite it
type Plan struct {
	Path    string
	Items   []Item
	ModTime time.Time

	lines []string
	crlf  bool
}

// Load reads and parses a plan file
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat plan: %w", err)
	}

	p := Parse(data)
	p.Path = path
	p.ModTime = info.ModTime()
	return p, nil
}

// Parse parses plan content. Checkboxes inside fenced code blocks are
// ignored; a box in an example snippet is not work.
func Parse(data []byte) *Plan {
	p := &Plan{
		crlf: bytes.Contains(data, []byte("\r\n")),
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	p.lines = strings.Split(text, "\n")

	inFence := false
	for i, line := range p.lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := checkboxRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		p.Items = append(p.Items, Item{
			Text:    strings.TrimSpace(m[2]),
			Checked: m[1] != " ",
			Line:    i + 1,
		})
	}
	return p
}

// Stats returns total and checked box counts
func (p *Plan) Stats() (total, checked int) {
	total = len(p.Items)
	for _, it := range p.Items {
		if it.Checked {
			checked++
		}
	}
	return total, checked
}

// Complete reports whether the plan has work and all of it is checked off.
// An empty plan is never complete: there is nothing to verify against.
func (p *Plan) Complete() bool {
	total, checked := p.Stats()
	return total > 0 && checked == total
}

// Remaining returns the unchecked items in file order
func (p *Plan) Remaining() []Item {
	var out []Item
	for _, it := range p.Items {
		if !it.Checked {
			out = append(out, it)
		}
	}
	return out
}

// Summary renders up to max remaining items as a markdown list for prompt
// injection. Excess items collapse into a trailing count.
func (p *Plan) Summary(max int) string {
	remaining := p.Remaining()
	if len(remaining) == 0 {
		return "(no unchecked items)"
	}

	var b strings.Builder
	shown := len(remaining)
	if max > 0 && shown > max {
		shown = max
	}
	for _, it := range remaining[:shown] {
		fmt.Fprintf(&b, "- [ ] %s\n", it.Text)
	}
	if rest := len(remaining) - shown; rest > 0 {
		fmt.Fprintf(&b, "...and %d more\n", rest)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Check marks the box on the given 1-based line and rewrites the file
// atomically, leaving every other byte alone.
func (p *Plan) Check(line int) error {
	if p.Path == "" {
		return fmt.Errorf("plan has no backing file")
	}

	var target *Item
	for i := range p.Items {
		if p.Items[i].Line == line {
			target = &p.Items[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no checkbox on line %d", line)
	}
	if target.Checked {
		return nil
	}

	raw := p.lines[line-1]
	updated := strings.Replace(raw, "[ ]", "[x]", 1)
	if updated == raw {
		return fmt.Errorf("line %d does not contain an unchecked box: %q", line, raw)
	}
	p.lines[line-1] = updated
	target.Checked = true

	sep := "\n"
	if p.crlf {
		sep = "\r\n"
	}
	content := strings.Join(p.lines, sep)
	if err := atomic.WriteFile(p.Path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
