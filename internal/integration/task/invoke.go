package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Mode selects how failures propagate through an invocation.
type Mode int

const (
	// FailStop skips the dependents of a failed task and fails the
	// invocation.
	FailStop Mode = iota
	// LogAndContinue reports failures to the failure hook and runs every
	// task regardless.
	LogAndContinue
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case FailStop:
		return "fail-stop"
	case LogAndContinue:
		return "log-and-continue"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// State is the final state of a task within one invocation.
type State string

const (
	// StateSucceeded indicates the action returned nil or the task is an
	// aggregation point.
	StateSucceeded State = "succeeded"
	// StateFailed indicates the action returned an error.
	StateFailed State = "failed"
	// StateSkipped indicates a prerequisite did not succeed (FailStop).
	StateSkipped State = "skipped"
	// StateCanceled indicates the context ended before the task started.
	StateCanceled State = "canceled"
)

// Result is the outcome of one task within one invocation.
type Result struct {
	Name  string
	State State
	Err   error
	Start time.Time
	End   time.Time
}

// Duration returns how long the task ran.
func (r Result) Duration() time.Duration {
	if r.Start.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Report lists the results of an invocation in topological order.
type Report struct {
	Task    string
	Mode    Mode
	Results []Result
	Start   time.Time
	End     time.Time
}

// Result returns the result for a task in this invocation.
func (r *Report) Result(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return Result{}, false
}

// Failed returns the results of tasks that failed or were canceled.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.State == StateFailed || res.State == StateCanceled {
			out = append(out, res)
		}
	}
	return out
}

// Succeeded reports whether every task in the invocation succeeded.
func (r *Report) Succeeded() bool {
	for _, res := range r.Results {
		if res.State != StateSucceeded {
			return false
		}
	}
	return true
}

// Duration returns the wall time of the invocation.
func (r *Report) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Invoke runs name and its prerequisite closure. See the package
// documentation for the ordering and failure rules.
//
// Configuration errors are returned as *GraphError with a nil report.
// A FailStop invocation with failures returns the report and an
// *InvocationError. A LogAndContinue invocation returns a nil error unless
// ctx was canceled.
func (g *Graph) Invoke(ctx context.Context, name string, mode Mode) (*Report, error) {
	g.mu.Lock()
	if err := g.validateLocked(); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	if _, ok := g.tasks[name]; !ok {
		g.mu.Unlock()
		return nil, graphErrorf(ErrUnknownTask, "%q", name)
	}
	tasks := g.closure(name)
	g.mu.Unlock()

	report := &Report{Task: name, Mode: mode, Start: time.Now()}

	done := make(map[string]chan struct{}, len(tasks))
	results := make(map[string]*Result, len(tasks))
	for _, t := range tasks {
		done[t.Name] = make(chan struct{})
		results[t.Name] = &Result{Name: t.Name}
	}

	for _, t := range tasks {
		go g.runTask(ctx, t, mode, done, results)
	}
	for _, t := range tasks {
		<-done[t.Name]
	}

	report.End = time.Now()
	report.Results = make([]Result, len(tasks))
	for i, t := range tasks {
		report.Results[i] = *results[t.Name]
	}

	if mode == LogAndContinue {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		return report, nil
	}
	if failures := report.Failed(); len(failures) > 0 {
		return report, &InvocationError{Task: name, Failures: failures}
	}
	return report, nil
}

// runTask waits for the prerequisites of t, then runs its action and
// closes its done channel. A result is written only by its own goroutine
// and read by others after the done channel closes.
func (g *Graph) runTask(ctx context.Context, t *Task, mode Mode, done map[string]chan struct{}, results map[string]*Result) {
	res := results[t.Name]
	defer close(done[t.Name])

	for _, p := range t.Prerequisites {
		select {
		case <-done[p]:
		case <-ctx.Done():
			res.State = StateCanceled
			res.Err = ctx.Err()
			return
		}
	}

	if mode == FailStop {
		for _, p := range t.Prerequisites {
			if results[p].State != StateSucceeded {
				res.State = StateSkipped
				res.Err = fmt.Errorf("%w: %s", ErrPrerequisiteFailed, p)
				return
			}
		}
	}

	if err := ctx.Err(); err != nil {
		res.State = StateCanceled
		res.Err = err
		return
	}

	res.Start = time.Now()
	if t.Action != nil {
		g.logger.Info(fmt.Sprintf("Starting '%s'...", t.Name))
	}
	err := runAction(ctx, t)
	res.End = time.Now()

	if err != nil {
		res.State = StateFailed
		res.Err = err
		g.logger.Error(fmt.Sprintf("'%s' errored after %s", t.Name, formatDuration(res.Duration())),
			slog.Any("error", err))
		if g.onFailure != nil {
			g.onFailure(t.Name, err)
		}
		return
	}

	res.State = StateSucceeded
	if t.Action != nil {
		g.logger.Info(fmt.Sprintf("Finished '%s' after %s", t.Name, formatDuration(res.Duration())))
	}
}

func runAction(ctx context.Context, t *Task) (err error) {
	if t.Action == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrActionPanicked, t.Name, r)
		}
	}()
	return t.Action(ctx)
}

// formatDuration renders durations the way build logs usually show them:
// "850 ms", "1.2 s", "2.5 min".
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%d ms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1f s", d.Seconds())
	default:
		return fmt.Sprintf("%.1f min", d.Minutes())
	}
}
