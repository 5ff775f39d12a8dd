// Package problem extracts lint and test problems from captured command
// output so the runner can close each run with a one-line summary.
package problem

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Severity indicates the severity of a problem.
type Severity string

const (
	// SeverityError is an error.
	SeverityError Severity = "error"
	// SeverityWarning is a warning.
	SeverityWarning Severity = "warning"
	// SeverityInfo is informational.
	SeverityInfo Severity = "info"
)

// Problem is a single diagnostic found in tool output.
type Problem struct {
	File     string
	Line     int
	Column   int
	Severity Severity
	Code     string
	Message  string

	// Source is the tool that reported the problem.
	Source string
}

// Pattern defines a regex for one problem line. Group indexes are 1-based;
// 0 skips the field.
type Pattern struct {
	Pattern  string
	File     int
	Line     int
	Column   int
	Severity int
	Code     int
	Message  int

	// DefaultSeverity is used when Severity is 0.
	DefaultSeverity Severity
}

// Definition defines a named matcher.
type Definition struct {
	Name  string
	Owner string

	Patterns []Pattern

	// FileHeaders marks formats (stylish) that print the file path on its own
	// unindented line before the problems in that file.
	FileHeaders bool
}

// Matcher is a compiled Definition.
type Matcher struct {
	def      Definition
	patterns []compiledPattern
}

type compiledPattern struct {
	regex   *regexp.Regexp
	pattern Pattern
}

// Name returns the matcher name.
func (m *Matcher) Name() string { return m.def.Name }

// Match attempts to match a single line.
func (m *Matcher) Match(line string) (Problem, bool) {
	for _, p := range m.patterns {
		matches := p.regex.FindStringSubmatch(line)
		if matches == nil {
			continue
		}

		group := func(i int) string {
			if i > 0 && i < len(matches) {
				return matches[i]
			}
			return ""
		}
		number := func(i int) int {
			n, _ := strconv.Atoi(group(i))
			return n
		}

		problem := Problem{
			File:     group(p.pattern.File),
			Line:     number(p.pattern.Line),
			Column:   number(p.pattern.Column),
			Code:     group(p.pattern.Code),
			Message:  group(p.pattern.Message),
			Source:   m.def.Owner,
			Severity: p.pattern.DefaultSeverity,
		}
		if p.pattern.Severity > 0 {
			problem.Severity = parseSeverity(group(p.pattern.Severity))
		}
		if problem.Severity == "" {
			problem.Severity = SeverityError
		}
		return problem, true
	}

	return Problem{}, false
}

// Scan matches every line of output, attributing problems to the most
// recent file header when the format uses them.
func (m *Matcher) Scan(output string) []Problem {
	var (
		problems []Problem
		file     string
	)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if problem, ok := m.Match(line); ok {
			if problem.File == "" {
				problem.File = file
			}
			problems = append(problems, problem)
			continue
		}
		if m.def.FileHeaders && !startsWithSpace(line) && !isSummaryLine(line) {
			file = strings.TrimSpace(line)
		}
	}
	return problems
}

func startsWithSpace(s string) bool {
	return s[0] == ' ' || s[0] == '\t'
}

// isSummaryLine recognizes the trailing "✖ 3 problems" line of stylish output.
func isSummaryLine(s string) bool {
	return strings.HasPrefix(s, "✖") || strings.HasPrefix(s, "✔")
}

func parseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "error", "fatal":
		return SeverityError
	case "warning", "warn":
		return SeverityWarning
	case "info", "note":
		return SeverityInfo
	default:
		return SeverityError
	}
}

// Summary counts problems by severity.
type Summary struct {
	Errors   int
	Warnings int
	Infos    int
}

// Summarize counts problems by severity.
func Summarize(problems []Problem) Summary {
	var s Summary
	for _, p := range problems {
		switch p.Severity {
		case SeverityWarning:
			s.Warnings++
		case SeverityInfo:
			s.Infos++
		default:
			s.Errors++
		}
	}
	return s
}

// Total returns the number of problems.
func (s Summary) Total() int { return s.Errors + s.Warnings + s.Infos }

func (s Summary) String() string {
	return fmt.Sprintf("%s (%s, %s)",
		plural(s.Total(), "problem"), plural(s.Errors, "error"), plural(s.Warnings, "warning"))
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}

// Registry holds compiled matchers by name.
type Registry struct {
	mu       sync.RWMutex
	matchers map[string]*Matcher
}

// NewRegistry creates a registry with the built-in matchers.
func NewRegistry() *Registry {
	r := &Registry{matchers: make(map[string]*Matcher)}
	r.registerBuiltins()
	return r
}

// Register compiles and registers a definition.
func (r *Registry) Register(def Definition) error {
	m := &Matcher{def: def, patterns: make([]compiledPattern, 0, len(def.Patterns))}
	for _, p := range def.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("matcher %s: %w", def.Name, err)
		}
		m.patterns = append(m.patterns, compiledPattern{regex: re, pattern: p})
	}

	r.mu.Lock()
	r.matchers[def.Name] = m
	r.mu.Unlock()
	return nil
}

// Get returns a matcher by name, or nil.
func (r *Registry) Get(name string) *Matcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matchers[name]
}

// Names returns the registered matcher names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.matchers))
	for name := range r.matchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in matcher names.
const (
	ESLintStylish = "eslint-stylish"
	SassLint      = "sass-lint"
	Flake8        = "flake8"
)

func (r *Registry) registerBuiltins() {
	// stylish: /path/file.js
	//   line:col  severity  message  rule-id
	stylish := Pattern{
		Pattern:         `^\s+(\d+):(\d+)\s+(error|warning)\s+(.+?)\s+(\S+)$`,
		Line:            1,
		Column:          2,
		Severity:        3,
		Message:         4,
		Code:            5,
		DefaultSeverity: SeverityError,
	}

	_ = r.Register(Definition{
		Name:        ESLintStylish,
		Owner:       "eslint",
		Patterns:    []Pattern{stylish},
		FileHeaders: true,
	})

	_ = r.Register(Definition{
		Name:        SassLint,
		Owner:       "sass-lint",
		Patterns:    []Pattern{stylish},
		FileHeaders: true,
	})

	// flake8: file:line:col: CODE message. E and F codes are errors.
	_ = r.Register(Definition{
		Name:  Flake8,
		Owner: "flake8",
		Patterns: []Pattern{
			{
				Pattern:         `^(.+?):(\d+):(\d+): ([EF]\d+) (.+)$`,
				File:            1,
				Line:            2,
				Column:          3,
				Code:            4,
				Message:         5,
				DefaultSeverity: SeverityError,
			},
			{
				Pattern:         `^(.+?):(\d+):(\d+): ([A-Z]+\d+) (.+)$`,
				File:            1,
				Line:            2,
				Column:          3,
				Code:            4,
				Message:         5,
				DefaultSeverity: SeverityWarning,
			},
		},
	})
}
