package watcher

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnorePatterns manages gitignore-style file ignore rules.
// It supports patterns like:
//   - *.pyc             - match files ending in .pyc at any depth
//   - /jscache/         - match the jscache directory at the root only
//   - static/dist/      - a pattern with a slash is anchored at the root
//   - **/__pycache__/   - match __pycache__ anywhere
//   - !keep.log         - negate (don't ignore) keep.log
//
// A path is also ignored when one of its parent directories is. The last
// matching pattern decides.
type IgnorePatterns struct {
	mu       sync.RWMutex
	patterns []ignorePattern
}

type ignorePattern struct {
	original string
	pattern  string
	negation bool
	dirOnly  bool
	anchored bool
}

// NewIgnorePatterns creates a new ignore pattern matcher.
func NewIgnorePatterns() *IgnorePatterns {
	return &IgnorePatterns{}
}

// AddPattern adds an ignore pattern (gitignore syntax). Blank lines and
// comments are skipped.
func (ip *IgnorePatterns) AddPattern(pattern string) error {
	pattern = strings.TrimRight(pattern, " \t\r")
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return nil
	}

	p := ignorePattern{original: pattern}

	if strings.HasPrefix(pattern, "!") {
		p.negation = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		p.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		p.anchored = true
		pattern = pattern[1:]
	}
	if strings.Contains(pattern, "/") {
		p.anchored = true
	}
	if pattern == "" {
		return nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid ignore pattern %q", p.original)
	}

	p.pattern = pattern

	ip.mu.Lock()
	ip.patterns = append(ip.patterns, p)
	ip.mu.Unlock()

	return nil
}

// AddPatterns adds multiple ignore patterns.
func (ip *IgnorePatterns) AddPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if err := ip.AddPattern(pattern); err != nil {
			return err
		}
	}
	return nil
}

// AddFromFile loads patterns from a file (e.g., .gitignore).
// Each line is treated as a pattern.
func (ip *IgnorePatterns) AddFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if err := ip.AddPattern(scanner.Text()); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// Match returns true if the path should be ignored. Absolute paths are
// matched as if relative to the file system root.
func (ip *IgnorePatterns) Match(p string, isDir bool) bool {
	return ip.MatchRelative(p, "", isDir)
}

// MatchRelative checks if p should be ignored, relative to basePath.
func (ip *IgnorePatterns) MatchRelative(p, basePath string, isDir bool) bool {
	relPath := p
	if basePath != "" {
		if rel, err := filepath.Rel(basePath, p); err == nil {
			relPath = rel
		}
	}
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "/")
	if relPath == "" || relPath == "." {
		return false
	}

	ip.mu.RLock()
	defer ip.mu.RUnlock()

	ignored := false
	for _, pat := range ip.patterns {
		if pat.matches(relPath, isDir) {
			ignored = !pat.negation
		}
	}
	return ignored
}

// matches tests the path and each of its parent directories.
func (p ignorePattern) matches(relPath string, isDir bool) bool {
	candidate, candidateIsDir := relPath, isDir
	for {
		if p.matchOne(candidate, candidateIsDir) {
			return true
		}
		parent := path.Dir(candidate)
		if parent == "." || parent == "/" || parent == candidate {
			return false
		}
		candidate, candidateIsDir = parent, true
	}
}

func (p ignorePattern) matchOne(candidate string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	target := candidate
	if !p.anchored {
		target = path.Base(candidate)
	}
	ok, _ := doublestar.Match(p.pattern, target)
	return ok
}

// Count returns the number of patterns.
func (ip *IgnorePatterns) Count() int {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return len(ip.patterns)
}

// Patterns returns a copy of all patterns.
func (ip *IgnorePatterns) Patterns() []string {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	patterns := make([]string, len(ip.patterns))
	for i, p := range ip.patterns {
		patterns[i] = p.original
	}
	return patterns
}

// DefaultIgnorePatterns are directories and files no task cares about.
var DefaultIgnorePatterns = []string{
	// Version control
	".git/",
	".hg/",

	// Dependencies and virtualenvs
	"node_modules/",
	".venv/",
	"venv/",
	".tox/",
	"__pycache__/",
	"*.pyc",

	// Tool caches and reports
	".pytest_cache/",
	".mypy_cache/",
	".sass-cache/",

	// IDE/Editor
	".idea/",
	".vscode/",
	"*.swp",
	"*~",

	// OS
	".DS_Store",
}

// NewDefaultIgnorePatterns creates an IgnorePatterns with default patterns.
func NewDefaultIgnorePatterns() *IgnorePatterns {
	ip := NewIgnorePatterns()
	_ = ip.AddPatterns(DefaultIgnorePatterns)
	return ip
}
