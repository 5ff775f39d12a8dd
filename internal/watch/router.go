package watch

import (
	"fmt"
	"path"

	"github.com/colorseasons/buildpipe/internal/config"
	"github.com/colorseasons/buildpipe/internal/project/pathset"
	"github.com/colorseasons/buildpipe/internal/project/watcher"
)

// ChangeKind is the kind of a file change.
type ChangeKind int

const (
	// Added means the file was created.
	Added ChangeKind = iota
	// Changed means the file was written.
	Changed
	// Removed means the file was deleted or renamed away.
	Removed
)

// String returns the kind name.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// ChangeEvent is a file change relative to the workspace root.
type ChangeEvent struct {
	// Path is workspace-relative with forward slashes.
	Path string
	Kind ChangeKind
}

// FromWatcherEvent converts a watcher event. Permission changes and events
// outside the watcher root are dropped.
func FromWatcherEvent(e watcher.Event) (ChangeEvent, bool) {
	if e.Rel == "" {
		return ChangeEvent{}, false
	}
	switch {
	case e.Op.Has(watcher.OpRemove), e.Op.Has(watcher.OpRename):
		return ChangeEvent{Path: e.Rel, Kind: Removed}, true
	case e.Op.Has(watcher.OpCreate):
		return ChangeEvent{Path: e.Rel, Kind: Added}, true
	case e.Op.Has(watcher.OpWrite):
		return ChangeEvent{Path: e.Rel, Kind: Changed}, true
	default:
		return ChangeEvent{}, false
	}
}

// DispatchKind says what a Dispatch asks for.
type DispatchKind int

const (
	// LintFile lints a single file with the linter of its path set.
	LintFile DispatchKind = iota
	// RunTask invokes a task from the graph.
	RunTask
	// TestFile runs a single Python test file, if it exists.
	TestFile
)

// String returns the dispatch kind name.
func (k DispatchKind) String() string {
	switch k {
	case LintFile:
		return "lint-file"
	case RunTask:
		return "run-task"
	case TestFile:
		return "test-file"
	default:
		return "unknown"
	}
}

// Dispatch is one unit of work caused by a change.
type Dispatch struct {
	Kind DispatchKind

	// Set is the path set of the changed file (LintFile, TestFile).
	Set pathset.Name

	// Path is the file to lint or test, or the changed trigger file.
	Path string

	// Task is the task to invoke (RunTask).
	Task string

	// RuleFile marks a changed lint rule file (RunTask).
	RuleFile bool
}

func (d Dispatch) String() string {
	switch d.Kind {
	case RunTask:
		return fmt.Sprintf("%s %s (%s)", d.Kind, d.Task, d.Path)
	default:
		return fmt.Sprintf("%s %s", d.Kind, d.Path)
	}
}

// Tasks invoked by the routing table.
const (
	SassTestTask = "sasstest"
	Flake8Task   = "flake8"
)

// trigger is a compiled config.Trigger.
type trigger struct {
	name     string
	task     string
	ruleFile bool
	set      pathset.PathSet
}

// Router maps change events to dispatches. It is immutable and safe for
// concurrent use.
type Router struct {
	sets     pathset.Sets
	triggers []trigger
}

// NewRouter compiles the triggers and keeps the path sets.
func NewRouter(sets pathset.Sets, triggers []config.Trigger) (*Router, error) {
	r := &Router{sets: sets}
	for _, t := range triggers {
		ps, err := pathset.New(pathset.Name(t.Name), t.Patterns...)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", t.Name, err)
		}
		r.triggers = append(r.triggers, trigger{
			name:     t.Name,
			task:     t.Task,
			ruleFile: t.RuleFile,
			set:      ps,
		})
	}
	return r, nil
}

// Sets returns the path sets the router classifies against.
func (r *Router) Sets() pathset.Sets {
	return r.sets
}

// Classify returns the first path set, in declaration order, whose rules
// match rel.
func (r *Router) Classify(rel string) (pathset.Name, bool) {
	return r.sets.Classify(rel)
}

// Trigger returns the name of the first trigger matching rel.
func (r *Router) Trigger(rel string) (string, bool) {
	if t, ok := r.matchTrigger(rel); ok {
		return t.name, true
	}
	return "", false
}

func (r *Router) matchTrigger(rel string) (trigger, bool) {
	for _, t := range r.triggers {
		if t.set.Match(rel) {
			return t, true
		}
	}
	return trigger{}, false
}

// Companion returns the Python test file that corresponds to rel. A file in
// the Python test tree is its own companion. A file elsewhere in the Python
// source tree gets a "tests" directory inserted before its name.
func (r *Router) Companion(rel string) (string, bool) {
	if ps, ok := r.sets.Get(pathset.PythonTests); ok && ps.Match(rel) {
		return path.Clean(rel), true
	}
	ps, ok := r.sets.Get(pathset.SourcePython)
	if !ok || !ps.Match(rel) {
		return "", false
	}
	dir, file := path.Split(path.Clean(rel))
	return path.Join(dir, "tests", file), true
}

// Route returns the work a change causes. Removals cause nothing.
// Triggers are matched before path sets.
func (r *Router) Route(ev ChangeEvent) []Dispatch {
	if ev.Kind == Removed {
		return nil
	}

	if t, ok := r.matchTrigger(ev.Path); ok {
		return []Dispatch{{Kind: RunTask, Task: t.task, Path: ev.Path, RuleFile: t.ruleFile}}
	}

	set, ok := r.Classify(ev.Path)
	if !ok {
		return nil
	}

	switch set {
	case pathset.SourceJS, pathset.AllJS:
		return []Dispatch{{Kind: LintFile, Set: set, Path: ev.Path}}
	case pathset.Sass:
		return []Dispatch{
			{Kind: LintFile, Set: set, Path: ev.Path},
			{Kind: RunTask, Task: SassTestTask, Path: ev.Path},
		}
	case pathset.SourcePython, pathset.PythonTests:
		out := []Dispatch{{Kind: RunTask, Task: Flake8Task, Path: ev.Path}}
		if companion, ok := r.Companion(ev.Path); ok {
			out = append(out, Dispatch{Kind: TestFile, Set: set, Path: companion})
		}
		return out
	default:
		return nil
	}
}
