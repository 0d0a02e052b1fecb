package events

import (
	"regexp"
	"strconv"
	"strings"
)

// Scanner lifts structured events out of agent output lines. Matching is
// exclusive: each line produces at most one event, most specific pattern
// first, so broad error patterns never shadow test or build results.
type Scanner struct {
	runID     string
	marker    string
	iteration int
	line      int

	patterns *linePatterns
}

type linePatterns struct {
	fileCreated  *regexp.Regexp
	fileModified *regexp.Regexp
	fileDeleted  *regexp.Regexp

	testPass    *regexp.Regexp
	testFail    *regexp.Regexp
	testSummary *regexp.Regexp

	buildSuccess *regexp.Regexp
	buildFailed  *regexp.Regexp

	errorLine *regexp.Regexp
	panicLine *regexp.Regexp
}

func compilePatterns() *linePatterns {
	return &linePatterns{
		fileCreated:  regexp.MustCompile(`(?i)^(?:Created|Create|New file|Writing):\s+(.+?)(?:\s|$)`),
		fileModified: regexp.MustCompile(`(?i)^(?:Modified|Modify|Updated|Editing):\s+(.+?)(?:\s|$)`),
		fileDeleted:  regexp.MustCompile(`(?i)^(?:Deleted|Delete|Removed|Removing):\s+(.+?)(?:\s|$)`),

		testPass:    regexp.MustCompile(`(?i)^(?:ok\s+\S+|PASS\b|---\s+PASS)`),
		testFail:    regexp.MustCompile(`(?i)^(?:FAIL\b|---\s+FAIL|\S+\s+FAIL)`),
		testSummary: regexp.MustCompile(`(?i)(\d+)\s+passed.*?(\d+)\s+failed`),

		buildSuccess: regexp.MustCompile(`(?i)(?:build|compilation)\s+(?:succeeded|successful|complete)`),
		buildFailed:  regexp.MustCompile(`(?i)(?:build|compilation)\s+(?:failed|error)`),

		errorLine: regexp.MustCompile(`(?i)^(?:error|fatal|exception|failure):\s*(.*)`),
		panicLine: regexp.MustCompile(`^panic:\s*(.*)`),
	}
}

// NewScanner creates a scanner for one run. marker is the literal
// completion string; empty disables claim detection.
func NewScanner(runID, marker string) *Scanner {
	return &Scanner{
		runID:    runID,
		marker:   marker,
		patterns: compilePatterns(),
	}
}

// BeginIteration resets per-iteration state
func (s *Scanner) BeginIteration(seq int) {
	s.iteration = seq
	s.line = 0
}

// ScanLine inspects one output line and returns an event or nil
func (s *Scanner) ScanLine(line string, isStderr bool) *Event {
	s.line++

	// The completion claim outranks everything. Substring test, not
	// regex: the marker is an operator-chosen literal.
	if s.marker != "" && strings.Contains(line, s.marker) {
		return s.event(TypeCompletionClaimed, SeverityInfo, line)
	}

	if m := s.patterns.fileCreated.FindStringSubmatch(line); m != nil {
		return s.event(TypeFileModified, SeverityInfo, line).WithData("path", m[1]).WithData("op", "create")
	}
	if m := s.patterns.fileModified.FindStringSubmatch(line); m != nil {
		return s.event(TypeFileModified, SeverityInfo, line).WithData("path", m[1]).WithData("op", "modify")
	}
	if m := s.patterns.fileDeleted.FindStringSubmatch(line); m != nil {
		return s.event(TypeFileModified, SeverityInfo, line).WithData("path", m[1]).WithData("op", "delete")
	}

	if m := s.patterns.testSummary.FindStringSubmatch(line); m != nil {
		ev := s.event(TypeTestsRun, SeverityInfo, line).WithData("passed", m[1]).WithData("failed", m[2])
		if m[2] != "0" {
			ev.Severity = SeverityWarning
		}
		return ev
	}
	if s.patterns.testFail.MatchString(line) {
		return s.event(TypeTestsRun, SeverityWarning, line).WithData("result", "fail")
	}
	if s.patterns.testPass.MatchString(line) {
		return s.event(TypeTestsRun, SeverityInfo, line).WithData("result", "pass")
	}

	if s.patterns.buildFailed.MatchString(line) {
		return s.event(TypeBuildResult, SeverityWarning, line).WithData("result", "fail")
	}
	if s.patterns.buildSuccess.MatchString(line) {
		return s.event(TypeBuildResult, SeverityInfo, line).WithData("result", "pass")
	}

	if m := s.patterns.panicLine.FindStringSubmatch(line); m != nil {
		return s.event(TypeErrorDetected, SeverityError, line).WithData("detail", m[1])
	}
	if m := s.patterns.errorLine.FindStringSubmatch(line); m != nil {
		sev := SeverityWarning
		if isStderr {
			sev = SeverityError
		}
		return s.event(TypeErrorDetected, sev, line).WithData("detail", m[1])
	}

	return nil
}

func (s *Scanner) event(t EventType, sev Severity, msg string) *Event {
	return New(s.runID, s.iteration, t, sev, msg).WithData("line", strconv.Itoa(s.line))
}
