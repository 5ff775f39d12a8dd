// Package watch re-runs validation work when source files change.
//
// A Router classifies a changed path into a path set and decides what to
// run: a single-file lint for JavaScript, a single-file lint plus the Sass
// test task for Sass, and the Python style check plus the companion test
// file for Python. Lint rule files and sprite sources are matched by
// triggers before any path set.
//
// A Session keeps one file system watcher per path set and per trigger,
// feeds their events through the Router and runs every dispatch on its own
// goroutine. Nothing is debounced and dispatches are not ordered.
//
//	Idle -> Watching <-> Dispatching
//	  \________\___________\_______-> Stopped
package watch
