// Package runlog writes the structured run journal: one JSON-lines file
// per run under the workspace state dir, optionally mirrored to the
// console in human-readable form.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralphloop/ralph/internal/events"
)

// Options configures the run journal
type Options struct {
	// Dir is the log directory, created if missing
	Dir string
	// RunID names the journal file: <run-id>.jsonl
	RunID string
	// Level is a zerolog level name; unknown or empty means info
	Level string
	// Console, when set, receives a pretty-printed mirror of the journal
	Console io.Writer
}

// Logger is a run journal. The zero value is unusable; call Open.
type Logger struct {
	zerolog.Logger

	path string
	file *os.File
}

// Open creates the run journal. A journal that cannot be opened degrades
// to console-only with a warning; a logging failure must never stop a
// run.
func Open(opts Options) *Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	l := &Logger{}
	var writers []io.Writer

	if opts.Dir != "" {
		path := filepath.Join(opts.Dir, opts.RunID+".jsonl")
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			l.warn(opts.Console, "cannot create log directory %s: %v (logging to console only)", opts.Dir, err)
		} else if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err != nil {
			l.warn(opts.Console, "cannot open run log %s: %v (logging to console only)", path, err)
		} else {
			l.file = f
			l.path = path
			writers = append(writers, f)
		}
	}

	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        opts.Console,
			TimeFormat: time.RFC3339,
		})
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	l.Logger = zerolog.New(out).Level(level).With().
		Timestamp().
		Str("run_id", opts.RunID).
		Logger()
	return l
}

// Path returns the journal file path, empty when degraded to
// console-only
func (l *Logger) Path() string {
	return l.path
}

// Close flushes and closes the journal file
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) warn(console io.Writer, format string, args ...interface{}) {
	if console == nil {
		console = os.Stderr
	}
	fmt.Fprintf(console, "Warning: "+format+"\n", args...)
}

// LogEvent writes a loop event to the journal at a level matching its
// severity
func (l *Logger) LogEvent(e events.Event) {
	var entry *zerolog.Event
	switch e.Severity {
	case events.SeverityError:
		entry = l.Error()
	case events.SeverityWarning:
		entry = l.Warn()
	default:
		entry = l.Info()
	}

	entry = entry.Str("event", string(e.Type)).Int("iteration", e.Iteration)
	for k, v := range e.Data {
		entry = entry.Str(k, v)
	}
	entry.Msg(e.Message)
}
