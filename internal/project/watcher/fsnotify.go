package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher implements Watcher using fsnotify.
type FSNotifyWatcher struct {
	mu sync.RWMutex

	watcher *fsnotify.Watcher
	config  Config
	root    string

	// Tracked paths, and the ones whose new subdirectories are watched too
	paths     map[string]bool
	recursive map[string]bool

	// Output channels
	events chan Event
	errors chan error

	// Stats
	startTime   time.Time
	totalEvents atomic.Int64
	totalErrors atomic.Int64
	lastError   error

	// Lifecycle
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup

	ignore *IgnorePatterns
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher.
func NewFSNotifyWatcher(opts ...WatcherOption) (*FSNotifyWatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	ignore := NewIgnorePatterns()
	if err := ignore.AddPatterns(config.IgnorePatterns); err != nil {
		return nil, err
	}
	for _, f := range config.IgnoreFiles {
		if err := ignore.AddFromFile(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ignore file %s: %w", f, err)
		}
	}

	root := ""
	if config.Root != "" {
		abs, err := filepath.Abs(config.Root)
		if err != nil {
			return nil, err
		}
		root = abs
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	w := &FSNotifyWatcher{
		watcher:   fsw,
		config:    config,
		root:      root,
		paths:     make(map[string]bool),
		recursive: make(map[string]bool),
		events:    make(chan Event, bufSize),
		errors:    make(chan error, bufSize),
		startTime: time.Now(),
		closeCh:   make(chan struct{}),
		ignore:    ignore,
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch starts watching a path. Directories created below it are not
// watched.
func (w *FSNotifyWatcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if _, err := os.Stat(absPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPathNotExist
		}
		return err
	}

	return w.add(absPath, false)
}

// add registers absPath with fsnotify. A recursive add marks a path that
// is already watched as recursive.
func (w *FSNotifyWatcher) add(absPath string, recursive bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[absPath] {
		if recursive {
			w.recursive[absPath] = true
		}
		return ErrAlreadyWatching
	}
	if w.config.MaxWatches > 0 && len(w.paths) >= w.config.MaxWatches {
		return ErrWatchLimit
	}

	if err := w.watcher.Add(absPath); err != nil {
		return err
	}

	w.paths[absPath] = true
	if recursive {
		w.recursive[absPath] = true
	}
	return nil
}

// WatchRecursive watches a directory and all subdirectories that are not
// ignored.
func (w *FSNotifyWatcher) WatchRecursive(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.Watch(absPath)
	}

	return filepath.WalkDir(absPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.recordError(err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != absPath && w.shouldIgnore(p, true) {
			return filepath.SkipDir
		}
		if watchErr := w.add(p, true); watchErr != nil && !errors.Is(watchErr, ErrAlreadyWatching) {
			if errors.Is(watchErr, ErrWatcherClosed) {
				return watchErr
			}
			w.recordError(watchErr)
		}
		return nil
	})
}

// Unwatch stops watching a path.
func (w *FSNotifyWatcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if !w.paths[absPath] {
		return ErrNotWatching
	}

	if err := w.watcher.Remove(absPath); err != nil {
		return err
	}

	delete(w.paths, absPath)
	delete(w.recursive, absPath)
	return nil
}

// Events returns the event channel.
func (w *FSNotifyWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher. It is safe to call more than once.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()

	close(w.events)
	close(w.errors)

	return w.watcher.Close()
}

// Stats returns watcher statistics.
func (w *FSNotifyWatcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		WatchedPaths: len(w.paths),
		TotalEvents:  w.totalEvents.Load(),
		Errors:       w.totalErrors.Load(),
		LastError:    w.lastError,
		StartTime:    w.startTime,
	}
}

// IsWatching returns true if the path is being watched.
func (w *FSNotifyWatcher) IsWatching(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[absPath]
}

func (w *FSNotifyWatcher) isRecursive(dir string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.recursive[dir]
}

// WatchedPaths returns all watched paths.
func (w *FSNotifyWatcher) WatchedPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	return paths
}

func (w *FSNotifyWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.recordError(err)
			w.sendError(err)
		}
	}
}

// handleFSEvent converts and forwards an fsnotify event. Directories created
// inside a recursively watched directory are watched as well.
func (w *FSNotifyWatcher) handleFSEvent(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 {
		return
	}

	isDir := false
	if op.Has(OpCreate) {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}

	if w.shouldIgnore(fsEvent.Name, isDir) {
		return
	}

	if isDir && w.isRecursive(filepath.Dir(fsEvent.Name)) {
		_ = w.WatchRecursive(fsEvent.Name)
	}

	// fsnotify stops watching removed directories on its own.
	if op.Has(OpRemove) || op.Has(OpRename) {
		w.mu.Lock()
		delete(w.paths, fsEvent.Name)
		delete(w.recursive, fsEvent.Name)
		w.mu.Unlock()
	}

	event := Event{
		Path:      fsEvent.Name,
		Rel:       w.rel(fsEvent.Name),
		Op:        op,
		Timestamp: time.Now(),
	}

	if w.config.EventFilter != nil && !w.config.EventFilter(event) {
		return
	}

	w.sendEvent(event)
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

// rel returns path relative to the root with forward slashes, or "".
func (w *FSNotifyWatcher) rel(path string) string {
	if w.root == "" {
		return ""
	}
	r, err := filepath.Rel(w.root, path)
	if err != nil {
		return ""
	}
	r = filepath.ToSlash(r)
	if r == ".." || strings.HasPrefix(r, "../") {
		return ""
	}
	return r
}

func (w *FSNotifyWatcher) shouldIgnore(path string, isDir bool) bool {
	if w.root != "" {
		return w.ignore.MatchRelative(path, w.root, isDir)
	}
	return w.ignore.Match(path, isDir)
}

func (w *FSNotifyWatcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.totalEvents.Add(1)
	default:
		w.recordError(ErrEventDropped)
	}
}

func (w *FSNotifyWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *FSNotifyWatcher) recordError(err error) {
	w.totalErrors.Add(1)
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
}

// Ensure FSNotifyWatcher implements Watcher.
var _ Watcher = (*FSNotifyWatcher)(nil)
