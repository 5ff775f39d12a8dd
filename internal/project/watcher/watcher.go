// Package watcher reports file system changes below a set of directories.
//
// Events are delivered as the operating system reports them. There is no
// debouncing, so two quick saves produce two events. Ignore patterns are
// matched against paths relative to the configured root, and ignored
// directories are never descended into.
package watcher

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
	ErrWatchLimit      = errors.New("maximum watch limit reached")
	ErrEventDropped    = errors.New("event channel full, dropping event")
)

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed away.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event represents a file system change event.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string

	// Rel is Path relative to the watcher root with forward slashes, or
	// empty when no root is configured or Path lies outside it.
	Rel string

	// Op is the operation that occurred.
	Op Op

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Stats provides watcher status information.
type Stats struct {
	WatchedPaths int
	TotalEvents  int64
	Errors       int64
	LastError    error
	StartTime    time.Time
}

// Watcher monitors file system changes.
type Watcher interface {
	// Watch starts watching a single directory (or file).
	// Returns ErrAlreadyWatching if the path is already being watched.
	Watch(path string) error

	// WatchRecursive starts watching a directory and all subdirectories
	// that are not ignored. Returns ErrPathNotExist if the path doesn't exist.
	WatchRecursive(path string) error

	// Unwatch stops watching a path.
	Unwatch(path string) error

	// Events returns the channel of file change events.
	// The channel is closed when the watcher is closed.
	Events() <-chan Event

	// Errors returns the channel of watcher errors.
	// The channel is closed when the watcher is closed.
	Errors() <-chan error

	// Close stops the watcher and releases resources.
	Close() error

	// Stats returns watcher statistics.
	Stats() Stats

	// IsWatching returns true if the path is being watched.
	IsWatching(path string) bool

	// WatchedPaths returns all paths being watched.
	WatchedPaths() []string
}

// EventFilter is a function that filters events.
// Return true to keep the event, false to discard it.
type EventFilter func(event Event) bool

// Config holds watcher configuration options.
type Config struct {
	// Root is the directory ignore patterns and Event.Rel are relative to.
	Root string

	// BufferSize is the size of the event and error channels.
	// Default: 256
	BufferSize int

	// IgnorePatterns are gitignore-style patterns for paths to ignore.
	IgnorePatterns []string

	// IgnoreFiles are files of ignore patterns, such as .gitignore.
	// Missing files are skipped.
	IgnoreFiles []string

	// MaxWatches is the maximum number of paths to watch.
	// 0 means unlimited.
	MaxWatches int

	// EventFilter is an optional filter for events.
	EventFilter EventFilter
}

// DefaultConfig returns a Config with the default buffer and ignore list.
func DefaultConfig() Config {
	return Config{
		BufferSize:     256,
		IgnorePatterns: append([]string(nil), DefaultIgnorePatterns...),
	}
}

// WatcherOption configures a watcher.
type WatcherOption func(*Config)

// WithRoot sets the directory ignore patterns are matched relative to.
func WithRoot(root string) WatcherOption {
	return func(c *Config) {
		c.Root = root
	}
}

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) WatcherOption {
	return func(c *Config) {
		c.BufferSize = size
	}
}

// WithIgnoreFile loads additional ignore patterns from path.
func WithIgnoreFile(path string) WatcherOption {
	return func(c *Config) {
		c.IgnoreFiles = append(c.IgnoreFiles, path)
	}
}

// WithExtraIgnorePatterns adds to the ignore patterns.
func WithExtraIgnorePatterns(patterns []string) WatcherOption {
	return func(c *Config) {
		c.IgnorePatterns = append(c.IgnorePatterns, patterns...)
	}
}

// WithMaxWatches sets the maximum number of watches.
func WithMaxWatches(max int) WatcherOption {
	return func(c *Config) {
		c.MaxWatches = max
	}
}

// WithEventFilter sets the event filter.
func WithEventFilter(filter EventFilter) WatcherOption {
	return func(c *Config) {
		c.EventFilter = filter
	}
}

// Run delivers events and errors from w to the handlers until ctx is
// cancelled or w is closed. Either handler may be nil.
func Run(ctx context.Context, w Watcher, onEvent func(Event), onError func(error)) {
	events, errs := w.Events(), w.Errors()
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if onEvent != nil {
				onEvent(event)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}
