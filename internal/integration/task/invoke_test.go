package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errLint = errors.New("lint failed")

// recorder logs action start and end order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) index(e string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, got := range r.events {
		if got == e {
			return i
		}
	}
	return -1
}

func (r *recorder) action(name string, err error) Action {
	return func(ctx context.Context) error {
		r.add("start " + name)
		r.add("end " + name)
		return err
	}
}

func TestInvoke_PrerequisitesFinishFirst(t *testing.T) {
	rec := &recorder{}
	g := NewGraph()
	mustRegister(g, "sprites-clean", nil, rec.action("sprites-clean", nil))
	mustRegister(g, "sprites", []string{"sprites-clean"}, rec.action("sprites", nil))
	mustRegister(g, "webpack", []string{"sprites"}, rec.action("webpack", nil))
	mustRegister(g, "pytest", []string{"sprites"}, rec.action("pytest", nil))
	mustRegister(g, "build", []string{"webpack", "pytest"}, nil)

	report, err := g.Invoke(context.Background(), "build", FailStop)
	if err != nil {
		t.Fatalf("Invoke error = %v", err)
	}
	if !report.Succeeded() {
		t.Errorf("report not successful: %+v", report.Results)
	}
	if len(report.Results) != 5 {
		t.Errorf("len(Results) = %d, want 5", len(report.Results))
	}

	before := [][2]string{
		{"end sprites-clean", "start sprites"},
		{"end sprites", "start webpack"},
		{"end sprites", "start pytest"},
	}
	for _, pair := range before {
		if rec.index(pair[0]) > rec.index(pair[1]) {
			t.Errorf("%q happened after %q: %v", pair[0], pair[1], rec.events)
		}
	}

	// sprites ran once even though two tasks require it.
	count := 0
	for _, e := range rec.events {
		if e == "start sprites" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("sprites ran %d times, want 1", count)
	}
}

func TestInvoke_IndependentPrerequisitesRunConcurrently(t *testing.T) {
	// Each action waits until both have started.
	var started sync.WaitGroup
	started.Add(2)
	barrier := func(ctx context.Context) error {
		started.Done()
		done := make(chan struct{})
		go func() {
			started.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("prerequisites ran sequentially")
		}
	}

	g := NewGraph()
	mustRegister(g, "jstest", nil, barrier)
	mustRegister(g, "pytest", nil, barrier)
	mustRegister(g, "test", []string{"jstest", "pytest"}, nil)

	if _, err := g.Invoke(context.Background(), "test", FailStop); err != nil {
		t.Fatalf("Invoke error = %v", err)
	}
}

// A composite with N independent prerequisites where one always fails.
func TestInvoke_FailurePropagation(t *testing.T) {
	const n = 4
	const failing = 2

	build := func(hook FailureHook) (*Graph, *atomic.Int32) {
		var ran atomic.Int32
		g := NewGraph(WithFailureHook(hook))
		var prereqs []string
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("sub%d", i)
			prereqs = append(prereqs, name)
			var err error
			if i == failing {
				err = errLint
			}
			mustRegister(g, name, nil, func(ctx context.Context) error {
				ran.Add(1)
				return err
			})
		}
		mustRegister(g, "composite", prereqs, nil)
		mustRegister(g, "after", []string{"composite"}, func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		return g, &ran
	}

	t.Run("fail stop", func(t *testing.T) {
		var hooked atomic.Int32
		g, ran := build(func(name string, err error) { hooked.Add(1) })

		report, err := g.Invoke(context.Background(), "after", FailStop)
		var ie *InvocationError
		if !errors.As(err, &ie) {
			t.Fatalf("Invoke error = %v, want *InvocationError", err)
		}
		if !errors.Is(err, errLint) {
			t.Errorf("errors.Is(err, errLint) = false for %v", err)
		}
		if len(ie.Failures) != 1 || ie.Failures[0].Name != "sub2" {
			t.Errorf("Failures = %+v, want only sub2", ie.Failures)
		}

		composite, _ := report.Result("composite")
		if composite.State != StateSkipped || !errors.Is(composite.Err, ErrPrerequisiteFailed) {
			t.Errorf("composite = %+v, want skipped", composite)
		}
		after, _ := report.Result("after")
		if after.State != StateSkipped {
			t.Errorf("after.State = %q, want skipped", after.State)
		}
		// All independent subtasks still ran; the dependent did not.
		if got := ran.Load(); got != n {
			t.Errorf("actions run = %d, want %d", got, n)
		}
		if hooked.Load() != 1 {
			t.Errorf("failure hook called %d times, want 1", hooked.Load())
		}
	})

	t.Run("log and continue", func(t *testing.T) {
		var mu sync.Mutex
		var failures []string
		g, ran := build(func(name string, err error) {
			mu.Lock()
			failures = append(failures, name)
			mu.Unlock()
		})

		report, err := g.Invoke(context.Background(), "after", LogAndContinue)
		if err != nil {
			t.Fatalf("Invoke error = %v, want nil", err)
		}
		if report.Succeeded() {
			t.Error("report should record the failure")
		}
		if len(report.Failed()) != 1 {
			t.Errorf("Failed() = %+v", report.Failed())
		}
		after, _ := report.Result("after")
		if after.State != StateSucceeded {
			t.Errorf("after.State = %q, want succeeded", after.State)
		}
		if got := ran.Load(); got != n+1 {
			t.Errorf("actions run = %d, want %d", got, n+1)
		}
		if len(failures) != 1 || failures[0] != "sub2" {
			t.Errorf("hook failures = %v, want [sub2]", failures)
		}
	})
}

func TestInvoke_ConcurrentInvocationsAreIndependent(t *testing.T) {
	var running, maxRunning, total atomic.Int32
	release := make(chan struct{})

	g := NewGraph()
	mustRegister(g, "eslint", nil, func(ctx context.Context) error {
		cur := running.Add(1)
		for {
			prev := maxRunning.Load()
			if cur <= prev || maxRunning.CompareAndSwap(prev, cur) {
				break
			}
		}
		<-release
		running.Add(-1)
		total.Add(1)
		return nil
	})

	const n = 2
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := g.Invoke(context.Background(), "eslint", FailStop)
			errs <- err
		}()
	}

	deadline := time.After(2 * time.Second)
	for running.Load() < n {
		select {
		case <-deadline:
			t.Fatalf("only %d invocations running at once", running.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(release)

	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Invoke error = %v", err)
		}
	}
	if total.Load() != n {
		t.Errorf("completed = %d, want %d", total.Load(), n)
	}
	if maxRunning.Load() != n {
		t.Errorf("max concurrent = %d, want %d", maxRunning.Load(), n)
	}
}

func TestInvoke_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	g := NewGraph()
	mustRegister(g, "watch", nil, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	mustRegister(g, "after", []string{"watch"}, func(ctx context.Context) error {
		t.Error("dependent ran after cancellation")
		return nil
	})

	report, err := g.Invoke(ctx, "after", LogAndContinue)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Invoke error = %v, want context.Canceled", err)
	}
	after, _ := report.Result("after")
	if after.State != StateCanceled {
		t.Errorf("after.State = %q, want canceled", after.State)
	}
}

func TestInvoke_Errors(t *testing.T) {
	g := NewGraph()
	mustRegister(g, "default", []string{"missing"}, nil)

	if _, err := g.Invoke(context.Background(), "default", FailStop); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("invalid graph: error = %v, want ErrUnknownTask", err)
	}

	g = NewGraph()
	mustRegister(g, "default", nil, nil)
	report, err := g.Invoke(context.Background(), "nope", FailStop)
	if !errors.Is(err, ErrUnknownTask) || report != nil {
		t.Errorf("unknown task: report = %v, error = %v", report, err)
	}
}

func TestInvoke_PanicIsFailure(t *testing.T) {
	g := NewGraph()
	mustRegister(g, "sprites", nil, func(ctx context.Context) error {
		panic("boom")
	})

	_, err := g.Invoke(context.Background(), "sprites", FailStop)
	if !errors.Is(err, ErrActionPanicked) {
		t.Errorf("Invoke error = %v, want ErrActionPanicked", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{850 * time.Millisecond, "850 ms"},
		{1200 * time.Millisecond, "1.2 s"},
		{150 * time.Second, "2.5 min"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestMode_String(t *testing.T) {
	if FailStop.String() != "fail-stop" || LogAndContinue.String() != "log-and-continue" {
		t.Errorf("unexpected mode names %q %q", FailStop, LogAndContinue)
	}
}
