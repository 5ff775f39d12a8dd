package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/colorseasons/buildpipe/internal/config/loader"
	"github.com/colorseasons/buildpipe/internal/integration/process"
	"github.com/colorseasons/buildpipe/internal/project/pathset"
	"github.com/colorseasons/buildpipe/internal/project/watcher"
)

// Session errors.
var (
	ErrSessionStarted = errors.New("watch session already started")
	ErrSessionStopped = errors.New("watch session stopped")
)

// State is the lifecycle state of a Session.
type State int

const (
	// StateIdle is the state before Start.
	StateIdle State = iota
	// StateWatching means watchers are open and nothing is running.
	StateWatching
	// StateDispatching means at least one dispatch is running.
	StateDispatching
	// StateStopped is terminal.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Actions performs the work a Session dispatches.
type Actions interface {
	// LintFile lints one file with the non-failing linter of set.
	LintFile(ctx context.Context, set pathset.Name, path string) error

	// InvokeTask runs a task in log-and-continue mode.
	InvokeTask(ctx context.Context, name string) error

	// TestFile runs one Python test file.
	TestFile(ctx context.Context, path string) error
}

// Session watches the workspace and routes changes to Actions.
type Session struct {
	root    string
	router  *Router
	actions Actions
	logger  *slog.Logger
	alerter process.Alerter
	ignore  []string

	ignoreFiles []string
	maxWatches  int
	bufferSize  int

	mu       sync.Mutex
	state    State
	inflight int
	watchers []*watcher.FSNotifyWatcher
	cancel   context.CancelFunc

	loops      sync.WaitGroup
	dispatches sync.WaitGroup
	stopOnce   sync.Once
	stopped    chan struct{}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAlerter sets the alerter for failed dispatches. Command failures are
// not alerted again, the runner that ran the command already did.
func WithAlerter(a process.Alerter) SessionOption {
	return func(s *Session) {
		s.alerter = a
	}
}

// WithIgnore adds gitignore-style patterns the watchers skip, on top of
// the watcher defaults.
func WithIgnore(patterns []string) SessionOption {
	return func(s *Session) {
		s.ignore = append(s.ignore, patterns...)
	}
}

// WithIgnoreFile adds the patterns of a gitignore-style file. A missing
// file is skipped.
func WithIgnoreFile(path string) SessionOption {
	return func(s *Session) {
		s.ignoreFiles = append(s.ignoreFiles, path)
	}
}

// WithLimits caps the directories each watcher registers and sizes its
// event buffer. Zero keeps the watcher defaults.
func WithLimits(maxWatches, bufferSize int) SessionOption {
	return func(s *Session) {
		s.maxWatches = maxWatches
		s.bufferSize = bufferSize
	}
}

// NewSession creates an idle session for the workspace at root.
func NewSession(root string, router *Router, actions Actions, opts ...SessionOption) *Session {
	s := &Session{
		root:    root,
		router:  router,
		actions: actions,
		logger:  slog.New(slog.DiscardHandler),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// watchGroup is a set of directories watched together, with the filter
// that keeps only the paths the group owns.
type watchGroup struct {
	name   string
	roots  []pathset.Root
	accept func(rel string) bool
}

// groups returns one group per path set and one per trigger. A path is
// owned by the first trigger matching it, or else by the path set it
// classifies into, so overlapping roots never dispatch twice. A path set
// shadowed by earlier ones gets no group.
func (s *Session) groups() []watchGroup {
	var groups []watchGroup
	sets := s.router.Sets()
	for _, ps := range sets {
		name := ps.Name()
		roots := sets.OwnRoots(name)
		if len(roots) == 0 {
			s.logger.Debug("path set owns no paths", slog.String("set", string(name)))
			continue
		}
		groups = append(groups, watchGroup{
			name:  string(name),
			roots: roots,
			accept: func(rel string) bool {
				if _, ok := s.router.Trigger(rel); ok {
					return false
				}
				got, ok := s.router.Classify(rel)
				return ok && got == name
			},
		})
	}
	for _, t := range s.router.triggers {
		name := t.name
		groups = append(groups, watchGroup{
			name:  "trigger " + name,
			roots: t.set.Roots(),
			accept: func(rel string) bool {
				got, ok := s.router.Trigger(rel)
				return ok && got == name
			},
		})
	}
	return groups
}

// Start opens the watchers and enters Watching. The session stops when
// ctx is done or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
	case StateStopped:
		return ErrSessionStopped
	default:
		return ErrSessionStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	var watchers []*watcher.FSNotifyWatcher
	for _, g := range s.groups() {
		w, err := s.open(g)
		if err != nil {
			cancel()
			for _, w := range watchers {
				_ = w.Close()
			}
			return fmt.Errorf("watch %s: %w", g.name, err)
		}
		if w != nil {
			watchers = append(watchers, w)
		}
	}

	s.watchers = watchers
	s.cancel = cancel
	s.state = StateWatching

	for _, w := range watchers {
		s.loops.Add(1)
		go func(w *watcher.FSNotifyWatcher) {
			defer s.loops.Done()
			watcher.Run(ctx, w,
				func(e watcher.Event) {
					if ev, ok := FromWatcherEvent(e); ok {
						s.Handle(ctx, ev)
					}
				},
				func(err error) {
					s.logger.Warn("watcher error", slog.Any("error", err))
				})
		}(w)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("Watching for changes", slog.Int("watchers", len(watchers)))
	return nil
}

// open creates the watcher for a group. It returns nil when none of the
// group's roots exist.
func (s *Session) open(g watchGroup) (*watcher.FSNotifyWatcher, error) {
	opts := []watcher.WatcherOption{
		watcher.WithRoot(s.root),
		watcher.WithExtraIgnorePatterns(s.ignore),
		watcher.WithMaxWatches(s.maxWatches),
		watcher.WithEventFilter(func(e watcher.Event) bool {
			return e.Rel != "" && g.accept(e.Rel)
		}),
	}
	if s.bufferSize > 0 {
		opts = append(opts, watcher.WithBufferSize(s.bufferSize))
	}
	for _, f := range s.ignoreFiles {
		opts = append(opts, watcher.WithIgnoreFile(f))
	}
	w, err := watcher.NewFSNotifyWatcher(opts...)
	if err != nil {
		return nil, err
	}

	watched := 0
	for _, r := range g.roots {
		dir := filepath.Join(s.root, filepath.FromSlash(r.Dir))
		if r.Recursive {
			err = w.WatchRecursive(dir)
		} else {
			err = w.Watch(dir)
		}
		if errors.Is(err, watcher.ErrPathNotExist) {
			s.logger.Debug("watch root missing", slog.String("group", g.name), slog.String("root", r.Dir))
			continue
		}
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		watched++
	}

	if watched == 0 {
		_ = w.Close()
		return nil, nil
	}
	s.logger.Debug("watching", slog.String("group", g.name), slog.Any("roots", g.roots),
		slog.Int("dirs", w.Stats().WatchedPaths))
	return w, nil
}

// Handle routes one change and starts its dispatches. It does not wait for
// them.
func (s *Session) Handle(ctx context.Context, ev ChangeEvent) {
	if ev.Kind == Removed {
		s.logger.Debug("ignoring removal", slog.String("path", ev.Path))
		return
	}

	dispatches := s.router.Route(ev)
	if len(dispatches) == 0 {
		return
	}

	s.logger.Info(fmt.Sprintf("File %s was %s", ev.Path, ev.Kind))

	for _, d := range dispatches {
		if !s.begin() {
			return
		}
		go func(d Dispatch) {
			defer s.end()
			s.dispatch(ctx, d)
		}(d)
	}
}

func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return false
	}
	s.inflight++
	if s.state == StateWatching {
		s.state = StateDispatching
	}
	s.dispatches.Add(1)
	return true
}

func (s *Session) end() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 && s.state == StateDispatching {
		s.state = StateWatching
	}
	s.mu.Unlock()
	s.dispatches.Done()
}

// dispatch runs one dispatch. Failures are logged and never end the session.
func (s *Session) dispatch(ctx context.Context, d Dispatch) {
	var err error
	switch d.Kind {
	case LintFile:
		err = s.actions.LintFile(ctx, d.Set, d.Path)
	case RunTask:
		if d.RuleFile {
			s.checkRuleFile(d.Path)
		}
		err = s.actions.InvokeTask(ctx, d.Task)
	case TestFile:
		err = s.testFile(ctx, d.Path)
	}

	if err == nil || ctx.Err() != nil {
		return
	}
	s.logger.Error("watch dispatch failed", slog.String("dispatch", d.String()), slog.Any("error", err))
	if s.alerter != nil && !errors.Is(err, process.ErrCommandFailed) {
		s.alerter.Alert(d.String())
	}
}

// testFile runs the companion test when it exists.
func (s *Session) testFile(ctx context.Context, rel string) error {
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("no companion test", slog.String("path", rel))
		return nil
	}
	if err != nil {
		return err
	}
	return s.actions.TestFile(ctx, rel)
}

// checkRuleFile parses a changed lint rule file. A broken file is only
// reported, the linter still runs and shows its own error.
func (s *Session) checkRuleFile(rel string) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		s.logger.Warn("cannot read rule file", slog.String("path", rel), slog.Any("error", err))
		return
	}
	if err := loader.ValidateYAML(rel, data); err != nil {
		s.logger.Warn("invalid rule file", slog.Any("error", err))
	}
}

// Flush waits for the dispatches started so far.
func (s *Session) Flush() {
	s.dispatches.Wait()
}

// Stop closes the watchers, waits for running dispatches and enters
// Stopped. Process cleanup belongs to the caller. Stop is idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = StateStopped
		cancel := s.cancel
		watchers := s.watchers
		s.watchers = nil
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		for _, w := range watchers {
			_ = w.Close()
		}
		s.loops.Wait()
		s.dispatches.Wait()

		s.logger.Debug("watch session stopped")
		close(s.stopped)
	})
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

// Wait blocks until the session has stopped.
func (s *Session) Wait() {
	<-s.stopped
}
