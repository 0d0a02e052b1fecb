// Package lock enforces the one-loop-per-workspace rule with a lock
// directory under .ralph/. mkdir is the atomic acquire primitive; metadata
// inside the directory lets other commands identify the holder and detect
// crashes.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// DirName is the lock directory name inside the ralph state directory
const DirName = "lock"

const infoFile = "lock.json"

// acquireGrace covers the window between a winner's mkdir and its
// metadata write; a lock dir younger than this with no readable metadata
// is treated as held, not stale
const acquireGrace = 5 * time.Second

// Info is the metadata stored inside the lock directory
type Info struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// Lock is a held workspace lock
type Lock struct {
	dir string

	// TookOverFrom is set when acquisition replaced a stale lock left by
	// a crashed process
	TookOverFrom *Info
}

// Acquire takes the workspace lock, replacing a stale one if its holder
// is gone. stateDir is the .ralph directory.
func Acquire(stateDir, version string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dir := filepath.Join(stateDir, DirName)

	var stale *Info
	for attempt := 0; attempt < 2; attempt++ {
		err := os.Mkdir(dir, 0755)
		if err == nil {
			l := &Lock{dir: dir, TookOverFrom: stale}
			if werr := l.writeInfo(version); werr != nil {
				os.RemoveAll(dir)
				return nil, werr
			}
			return l, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}

		existing, readErr := Read(stateDir)
		if readErr != nil {
			// No readable metadata. A fresh directory is another loop
			// mid-acquire; an old one is wreckage from a crash.
			if age, ageErr := dirAge(dir); ageErr == nil && age < acquireGrace {
				return nil, fmt.Errorf("another ralph loop is acquiring the lock")
			}
			stale = nil
		} else {
			if isProcessAlive(existing.PID, existing.Hostname) {
				return nil, fmt.Errorf("another ralph loop is already running (PID %d on %s, started %s)",
					existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
			}
			stale = existing
		}

		// Stale: clear it and retry the mkdir. A concurrent acquirer may
		// win the retry, in which case the second pass reports it.
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, fmt.Errorf("remove stale lock: %w", rmErr)
		}
	}

	return nil, fmt.Errorf("lost the race for the workspace lock")
}

func (l *Lock) writeInfo(version string) error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}

	info := Info{
		Holder:    "ralph-loop",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   version,
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, infoFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write lock info: %w", err)
	}
	return nil
}

// Release removes the lock. Safe to call on an already-released lock.
func (l *Lock) Release() error {
	if l == nil || l.dir == "" {
		return nil
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("failed to remove lock: %w", err)
	}
	return nil
}

// Read returns the current lock metadata, or an error wrapping
// os.ErrNotExist when the workspace is unlocked
func Read(stateDir string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, DirName, infoFile))
	if err != nil {
		return nil, fmt.Errorf("read lock info: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock info: %w", err)
	}
	return &info, nil
}

// Held reports whether a lock directory exists
func Held(stateDir string) bool {
	_, err := os.Stat(filepath.Join(stateDir, DirName))
	return err == nil
}

// HolderAlive reports whether the recorded holder still runs. Unreadable
// metadata counts as dead.
func HolderAlive(stateDir string) bool {
	info, err := Read(stateDir)
	if err != nil {
		return false
	}
	return isProcessAlive(info.PID, info.Hostname)
}

// ForceRelease removes the lock regardless of holder. Returns the evicted
// holder's metadata when it was readable.
func ForceRelease(stateDir string) (*Info, error) {
	info, _ := Read(stateDir)
	if err := os.RemoveAll(filepath.Join(stateDir, DirName)); err != nil {
		return info, fmt.Errorf("failed to remove lock: %w", err)
	}
	return info, nil
}

func dirAge(dir string) (time.Duration, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return 0, err
	}
	return time.Since(fi.ModTime()), nil
}

// isProcessAlive checks if a process with the given PID exists on the
// given hostname. Remote hosts cannot be probed and count as alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else
	if err == syscall.EPERM {
		return true
	}
	return false
}
