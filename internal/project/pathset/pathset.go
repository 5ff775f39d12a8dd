// Package pathset defines the named groups of source files that the build
// tasks lint, test and watch.
//
// A PathSet is an ordered list of glob patterns. Patterns prefixed with "!"
// are exclusions and always win over inclusions, whatever their position.
// Paths are matched relative to the workspace root using forward slashes.
package pathset

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/colorseasons/buildpipe/internal/config"
)

// Name identifies a PathSet.
type Name string

// The path sets used by the pipeline, in declaration order.
const (
	SourceJS     Name = "src-js"
	AllJS        Name = "all-js"
	SourcePython Name = "src-py"
	PythonTests  Name = "py-tests"
	Sass         Name = "sass"
)

// PathSet is a named, immutable list of glob patterns.
type PathSet struct {
	name     Name
	patterns []string
	include  []string
	exclude  []string
}

// New creates a PathSet. Patterns starting with "!" are exclusions.
func New(name Name, patterns ...string) (PathSet, error) {
	ps := PathSet{name: name, patterns: append([]string(nil), patterns...)}
	for _, p := range patterns {
		glob, negated := strings.CutPrefix(p, "!")
		glob = strings.TrimPrefix(glob, "./")
		if !doublestar.ValidatePattern(glob) {
			return PathSet{}, fmt.Errorf("pathset %s: invalid pattern %q", name, p)
		}
		if negated {
			ps.exclude = append(ps.exclude, glob)
		} else {
			ps.include = append(ps.include, glob)
		}
	}
	return ps, nil
}

// Name returns the set name.
func (ps PathSet) Name() Name { return ps.name }

// Patterns returns a copy of the patterns in declaration order.
func (ps PathSet) Patterns() []string {
	return append([]string(nil), ps.patterns...)
}

// Match reports whether rel, a slash-separated path relative to the
// workspace root, matches an inclusion pattern and no exclusion pattern.
func (ps PathSet) Match(rel string) bool {
	rel = clean(rel)
	if rel == "" {
		return false
	}
	included := false
	for _, p := range ps.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range ps.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}

// Expand lists the files under root that belong to the set, in pattern
// order with duplicates removed. Files within one pattern are sorted.
func (ps PathSet) Expand(root string) ([]string, error) {
	return ps.ExpandFS(os.DirFS(root))
}

// ExpandFS is Expand over an arbitrary file system.
func (ps PathSet) ExpandFS(fsys fs.FS) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, p := range ps.include {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("pathset %s: expanding %q: %w", ps.name, p, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if seen[m] || !ps.Match(m) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	return files, nil
}

// Root is a directory a watcher has to cover. Only recursive roots need
// their subdirectories watched.
type Root struct {
	Dir       string
	Recursive bool
}

// Roots returns the static directory prefixes of the inclusion patterns,
// the directories a watcher has to cover. Roots inside a recursive root are
// folded into it.
func (ps PathSet) Roots() []Root {
	roots := make([]Root, 0, len(ps.include))
	for _, p := range ps.include {
		roots = append(roots, rootOf(p))
	}
	return foldRoots(roots)
}

// rootOf splits a pattern into its static directory and whether the rest
// of the pattern can match below that directory.
func rootOf(pattern string) Root {
	base, rest := doublestar.SplitPattern(pattern)
	return Root{
		Dir:       path.Clean(base),
		Recursive: strings.Contains(rest, "/") || strings.Contains(rest, "**"),
	}
}

func (ps PathSet) String() string {
	return string(ps.name) + " " + strings.Join(ps.patterns, " ")
}

// foldRoots merges duplicate directories and drops any root that lies
// inside a recursive one. The result is sorted by directory.
func foldRoots(roots []Root) []Root {
	merged := make(map[string]bool, len(roots))
	for _, r := range roots {
		merged[r.Dir] = merged[r.Dir] || r.Recursive
	}
	dirs := make([]string, 0, len(merged))
	for d := range merged {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	var out []Root
	for _, d := range dirs {
		covered := false
		for _, r := range out {
			if r.Recursive && (r.Dir == "." || strings.HasPrefix(d, r.Dir+"/")) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, Root{Dir: d, Recursive: merged[d]})
		}
	}
	return out
}

// samplePath returns a path the pattern matches, with every wildcard
// replaced by a plain name. Patterns with classes or alternatives have no
// sample.
func samplePath(pattern string) (string, bool) {
	if strings.ContainsAny(pattern, "[{\\") {
		return "", false
	}
	sample := strings.ReplaceAll(pattern, "**", "x")
	sample = strings.NewReplacer("*", "x", "?", "x").Replace(sample)
	return sample, true
}

func clean(rel string) string {
	rel = strings.TrimPrefix(rel, "./")
	if rel == "" || rel == "." {
		return ""
	}
	return path.Clean(rel)
}

// Sets is the ordered collection of path sets.
type Sets []PathSet

// Get returns the set with the given name.
func (s Sets) Get(name Name) (PathSet, bool) {
	for _, ps := range s {
		if ps.name == name {
			return ps, true
		}
	}
	return PathSet{}, false
}

// Classify returns the first set, in declaration order, matching rel.
func (s Sets) Classify(rel string) (Name, bool) {
	for _, ps := range s {
		if ps.Match(rel) {
			return ps.name, true
		}
	}
	return "", false
}

// Names returns the set names in declaration order.
func (s Sets) Names() []Name {
	names := make([]Name, len(s))
	for i, ps := range s {
		names[i] = ps.name
	}
	return names
}

// OwnRoots returns the watch roots of the named set's inclusion patterns
// that no earlier set shadows. A pattern is shadowed when a sample path it
// matches classifies into an earlier set, since Classify never returns the
// later one for such paths. The result is empty when the set owns nothing.
func (s Sets) OwnRoots(name Name) []Root {
	for i, ps := range s {
		if ps.name != name {
			continue
		}
		var roots []Root
		for _, p := range ps.include {
			if sample, ok := samplePath(p); ok && ps.Match(sample) {
				if _, shadowed := s[:i].Classify(sample); shadowed {
					continue
				}
			}
			roots = append(roots, rootOf(p))
		}
		return foldRoots(roots)
	}
	return nil
}

// Compute builds the pipeline's path sets from the configured directories.
// Every set ends with the shared exclusion patterns. The result depends only
// on paths.
func Compute(paths config.Paths) (Sets, error) {
	js := paths.SrcJSDir
	jsFiles := []string{js + "*.js", js + "app/**/*.js"}

	defs := []struct {
		name     Name
		patterns []string
	}{
		{SourceJS, jsFiles},
		{AllJS, append(append([]string{}, jsFiles...),
			paths.JSTestsDir+"**/*.js",
			paths.SassTestsDir+"**/*.js",
			"*.js",
		)},
		{SourcePython, []string{paths.SrcPyDir + "**/*.py"}},
		{PythonTests, []string{paths.PyTestsDir + "**/*.py"}},
		{Sass, []string{paths.SassDir + "**/*.scss", paths.SassTestsDir + "**/*.scss"}},
	}

	sets := make(Sets, 0, len(defs))
	for _, d := range defs {
		ps, err := New(d.name, append(d.patterns, paths.Ignore...)...)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ps)
	}
	return sets, nil
}
