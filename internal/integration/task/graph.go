package task

import (
	"log/slog"
	"sort"
	"sync"
)

// FailureHook receives every task failure. It runs on the failing task's
// goroutine and must be safe for concurrent use.
type FailureHook func(name string, err error)

// Graph is a set of named tasks forming a directed acyclic graph.
//
// Register and Validate are meant for startup. Invoke is safe for
// concurrent use once the graph is valid.
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	// order is a topological order of all tasks, set by Validate.
	order    []string
	rank     map[string]int
	validErr error
	valid    bool

	logger    *slog.Logger
	onFailure FailureHook
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithLogger sets the logger for task start and finish lines.
func WithLogger(logger *slog.Logger) GraphOption {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithFailureHook sets the hook called for each failed task.
func WithFailureHook(hook FailureHook) GraphOption {
	return func(g *Graph) {
		g.onFailure = hook
	}
}

// NewGraph creates an empty graph.
func NewGraph(opts ...GraphOption) *Graph {
	g := &Graph{
		tasks:  make(map[string]*Task),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register adds a task. Prerequisites may name tasks that are registered
// later; Validate checks them.
func (g *Graph) Register(name string, prerequisites []string, action Action, opts ...TaskOption) error {
	if name == "" {
		return graphErrorf(ErrInvalidTask, "task name is required")
	}

	seen := make(map[string]bool, len(prerequisites))
	for _, p := range prerequisites {
		if p == "" {
			return graphErrorf(ErrInvalidTask, "task %q has an empty prerequisite", name)
		}
		if seen[p] {
			return graphErrorf(ErrInvalidTask, "task %q lists %q twice", name, p)
		}
		seen[p] = true
	}

	t := &Task{
		Name:          name,
		Prerequisites: append([]string(nil), prerequisites...),
		Action:        action,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.Group == "" {
		t.Group = InferGroup(name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[name]; exists {
		return graphErrorf(ErrDuplicateTask, "%q", name)
	}
	g.tasks[name] = t
	g.valid = false
	return nil
}

// Validate checks that every prerequisite is registered and that the
// graph has no cycle. The result is cached until the next Register.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked()
}

func (g *Graph) validateLocked() error {
	if g.valid {
		return g.validErr
	}

	order, err := g.check()
	g.valid = true
	g.validErr = err
	g.order = order
	g.rank = make(map[string]int, len(order))
	for i, name := range order {
		g.rank[name] = i
	}
	return err
}

// Has reports whether a task is registered.
func (g *Graph) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.tasks[name]
	return ok
}

// Task returns a copy of a registered task.
func (g *Graph) Task(name string) (Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[name]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns all registered tasks sorted by name.
func (g *Graph) Tasks() []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Order returns all task names in topological order, prerequisites first.
// Ties are broken by name. It validates the graph if needed.
func (g *Graph) Order() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.validateLocked(); err != nil {
		return nil, err
	}
	return append([]string(nil), g.order...), nil
}

// closure returns the tasks name depends on, itself included, in
// topological order. The caller holds at least a read lock on a valid
// graph.
func (g *Graph) closure(name string) []*Task {
	seen := map[string]bool{}
	var visit func(n string)
	visit = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, p := range g.tasks[n].Prerequisites {
			visit(p)
		}
	}
	visit(name)

	out := make([]*Task, 0, len(seen))
	for n := range seen {
		out = append(out, g.tasks[n])
	}
	sort.Slice(out, func(i, j int) bool {
		return g.rank[out[i].Name] < g.rank[out[j].Name]
	})
	return out
}
