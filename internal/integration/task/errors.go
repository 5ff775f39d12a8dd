package task

import (
	"errors"
	"fmt"
	"strings"
)

// Graph configuration errors.
var (
	ErrInvalidTask   = errors.New("invalid task")
	ErrDuplicateTask = errors.New("duplicate task")
	ErrUnknownTask   = errors.New("unknown task")
	ErrCycle         = errors.New("cycle detected")
)

// Invocation errors.
var (
	// ErrPrerequisiteFailed marks a task skipped because a prerequisite
	// did not succeed.
	ErrPrerequisiteFailed = errors.New("prerequisite failed")

	// ErrActionPanicked wraps a panic raised by a task action.
	ErrActionPanicked = errors.New("task action panicked")
)

// GraphError reports a configuration problem found by Register or
// Validate. Kind is one of the graph configuration sentinels.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func graphErrorf(kind error, format string, args ...any) error {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycle, Msg: msg}
}

// InvocationError is returned by a FailStop invocation in which at least
// one task did not succeed.
type InvocationError struct {
	// Task is the task that was invoked.
	Task string

	// Failures holds the failed and canceled results in execution order.
	// Skipped dependents are not listed.
	Failures []Result
}

func (e *InvocationError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("task %q failed", e.Task)
	}
	names := make([]string, len(e.Failures))
	for i, r := range e.Failures {
		names[i] = r.Name
	}
	if len(names) == 1 && names[0] == e.Task {
		return fmt.Sprintf("task %q failed: %v", e.Task, e.Failures[0].Err)
	}
	return fmt.Sprintf("task %q failed: %s: %v",
		e.Task, strings.Join(names, ", "), e.Failures[0].Err)
}

// Unwrap exposes each failure so errors.Is can match command errors or
// context cancellation.
func (e *InvocationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, r := range e.Failures {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
