package task

import (
	"context"
	"strings"
)

// Action is the work a task performs once its prerequisites are done.
type Action func(ctx context.Context) error

// Group categorizes tasks for listing.
type Group string

const (
	// GroupBuild contains build-related tasks.
	GroupBuild Group = "build"
	// GroupTest contains test-related tasks.
	GroupTest Group = "test"
	// GroupRun contains long-running development tasks.
	GroupRun Group = "run"
	// GroupClean contains cleanup tasks.
	GroupClean Group = "clean"
	// GroupLint contains linting tasks.
	GroupLint Group = "lint"
	// GroupOther contains uncategorized tasks.
	GroupOther Group = "other"
)

// Task is a registered unit of work.
type Task struct {
	// Name is the unique key of the task.
	Name string

	// Description is shown by task listings.
	Description string

	// Group is the task category.
	Group Group

	// Prerequisites are the names of tasks that must finish first, in
	// declaration order.
	Prerequisites []string

	// Action is nil for aggregation tasks.
	Action Action
}

// IsComposite reports whether the task only aggregates its prerequisites.
func (t Task) IsComposite() bool {
	return t.Action == nil
}

// TaskOption configures a task at registration.
type TaskOption func(*Task)

// WithDescription sets the task description.
func WithDescription(desc string) TaskOption {
	return func(t *Task) {
		t.Description = desc
	}
}

// WithGroup sets the task group instead of inferring it from the name.
func WithGroup(group Group) TaskOption {
	return func(t *Task) {
		t.Group = group
	}
}

// InferGroup infers the task group from the task name.
func InferGroup(name string) Group {
	cleanPatterns := []string{"clean", "clear", "purge"}
	lintPatterns := []string{"lint", "eslint", "flake8", "format"}
	testPatterns := []string{"test", "spec", "check"}
	runPatterns := []string{"serve", "dev", "watch", "sync"}
	buildPatterns := []string{"build", "bundle", "webpack", "sprite", "manifest"}

	lowerName := strings.ToLower(name)

	for _, group := range []struct {
		group    Group
		patterns []string
	}{
		{GroupClean, cleanPatterns},
		{GroupLint, lintPatterns},
		{GroupTest, testPatterns},
		{GroupRun, runPatterns},
		{GroupBuild, buildPatterns},
	} {
		for _, pattern := range group.patterns {
			if strings.Contains(lowerName, pattern) {
				return group.group
			}
		}
	}

	return GroupOther
}
