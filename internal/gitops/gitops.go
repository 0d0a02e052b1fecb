// Package gitops measures how much the workspace changed between loop
// iterations. It only ever reads: no staging, no commits, no checkouts.
// Outside a git repository it degrades to counting touched files.
package gitops

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Snapshot captures the workspace state at one point in time
type Snapshot struct {
	// Head is the current commit hash, empty outside git or on an
	// unborn branch
	Head string
	// DirtLines is the magnitude of uncommitted changes
	// (insertions + deletions against HEAD)
	DirtLines int
	// Fingerprint identifies the working tree state; two snapshots with
	// equal fingerprints saw no change
	Fingerprint string
	// Taken is when the snapshot was captured
	Taken time.Time
}

// Change describes what happened to the workspace between two snapshots
type Change struct {
	// DiffLines is the magnitude of the change; zero means nothing moved
	DiffLines int
	// HeadMoved indicates the agent committed during the iteration
	HeadMoved bool
	// Head is the commit hash after the iteration
	Head string
}

// Observer takes snapshots of a workspace
type Observer struct {
	workDir string
	// gitPath is empty when the workspace is not a git repository or
	// git is not installed
	gitPath string

	// ignoreDirs are skipped in fallback mode
	ignoreDirs map[string]bool
}

// NewObserver creates an observer for the workspace. It never fails:
// without git it falls back to file-level change detection.
func NewObserver(ctx context.Context, workDir string) *Observer {
	o := &Observer{
		workDir: workDir,
		ignoreDirs: map[string]bool{
			".git":         true,
			".ralph":       true,
			"node_modules": true,
		},
	}

	gitPath, err := exec.LookPath("git")
	if err != nil {
		return o
	}

	cmd := exec.CommandContext(ctx, gitPath, "-C", workDir, "rev-parse", "--is-inside-work-tree")
	out, err := cmd.Output()
	if err != nil || strings.TrimSpace(string(out)) != "true" {
		return o
	}

	o.gitPath = gitPath
	return o
}

// InGit reports whether the observer is using git
func (o *Observer) InGit() bool {
	return o.gitPath != ""
}

// Snapshot captures the current workspace state. Failures degrade to
// zero-valued fields rather than erroring; a progress probe must never
// stop the loop.
func (o *Observer) Snapshot(ctx context.Context) Snapshot {
	if o.gitPath == "" {
		return o.fallbackSnapshot()
	}

	snap := Snapshot{Taken: time.Now()}

	if head, err := o.runGit(ctx, "rev-parse", "HEAD"); err == nil {
		snap.Head = head
	}

	status, _ := o.runGit(ctx, "status", "--porcelain")

	if snap.Head != "" {
		shortstat, _ := o.runGit(ctx, "diff", "--shortstat", "HEAD")
		snap.DirtLines = parseShortstat(shortstat)
		snap.Fingerprint = fingerprint(snap.Head, status, shortstat)
	} else {
		// Unborn branch: porcelain line count is the best magnitude
		// available.
		snap.DirtLines = countLines(status)
		snap.Fingerprint = fingerprint("", status, "")
	}

	return snap
}

// Measure captures a fresh snapshot and compares it with before,
// returning both the change and the new snapshot
func (o *Observer) Measure(ctx context.Context, before Snapshot) (Change, Snapshot) {
	after := o.Snapshot(ctx)

	change := Change{
		Head:      after.Head,
		HeadMoved: after.Head != before.Head,
	}

	if o.gitPath == "" {
		change.DiffLines = o.touchedFilesSince(before.Taken)
	} else {
		if change.HeadMoved && before.Head != "" && after.Head != "" {
			committed, _ := o.runGit(ctx, "diff", "--shortstat", before.Head, after.Head)
			change.DiffLines += parseShortstat(committed)
		}

		dirtDelta := after.DirtLines - before.DirtLines
		if dirtDelta < 0 {
			dirtDelta = -dirtDelta
		}
		change.DiffLines += dirtDelta
	}

	// A change invisible to the counters (an offsetting rewrite, or a
	// deletion in fallback mode) still counts as movement.
	if change.DiffLines == 0 && after.Fingerprint != before.Fingerprint {
		change.DiffLines = 1
	}

	return change, after
}

// runGit executes a git subcommand in the workspace and returns trimmed
// stdout
func (o *Observer) runGit(ctx context.Context, args ...string) (string, error) {
	cmdArgs := append([]string{"-C", o.workDir}, args...)
	cmd := exec.CommandContext(ctx, o.gitPath, cmdArgs...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// shortstatRe pulls the insertion and deletion counts out of
// "3 files changed, 45 insertions(+), 12 deletions(-)"
var shortstatRe = regexp.MustCompile(`(\d+) insertions?\(\+\)|(\d+) deletions?\(-\)`)

func parseShortstat(s string) int {
	total := 0
	for _, m := range shortstatRe.FindAllStringSubmatch(s, -1) {
		for _, group := range m[1:] {
			if group == "" {
				continue
			}
			if n, err := strconv.Atoi(group); err == nil {
				total += n
			}
		}
	}
	return total
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func fingerprint(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// fallbackSnapshot fingerprints the tree by walking it: file paths,
// sizes, and modification times
func (o *Observer) fallbackSnapshot() Snapshot {
	snap := Snapshot{Taken: time.Now()}

	h := sha1.New()
	files := 0
	filepath.WalkDir(o.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if o.ignoreDirs[d.Name()] && path != o.workDir {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		fmt.Fprintf(h, "%s:%d:%d\n", path, info.Size(), info.ModTime().UnixNano())
		files++
		return nil
	})

	snap.DirtLines = files
	snap.Fingerprint = hex.EncodeToString(h.Sum(nil))
	return snap
}

// touchedFilesSince counts files modified after the given time;
// outside git this is the only change magnitude available
func (o *Observer) touchedFilesSince(since time.Time) int {
	touched := 0
	filepath.WalkDir(o.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if o.ignoreDirs[d.Name()] && path != o.workDir {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(since) {
			touched++
		}
		return nil
	})
	return touched
}
