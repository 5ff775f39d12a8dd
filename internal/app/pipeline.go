package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/colorseasons/buildpipe/internal/config"
	"github.com/colorseasons/buildpipe/internal/integration/problem"
	"github.com/colorseasons/buildpipe/internal/integration/process"
	"github.com/colorseasons/buildpipe/internal/integration/task"
	"github.com/colorseasons/buildpipe/internal/project/pathset"
	"github.com/colorseasons/buildpipe/internal/watch"
)

// DefaultTask is invoked when no task is named.
const DefaultTask = "default"

// Pipeline owns the task graph and everything the tasks run through: the
// process supervisor, the command runner and, once the watch task has
// started, the watch session.
type Pipeline struct {
	cfg        *config.Config
	sets       pathset.Sets
	router     *watch.Router
	supervisor *process.Supervisor
	runner     *process.Runner
	graph      *task.Graph
	logger     *slog.Logger
	alerter    process.Alerter
	styles     process.Styles

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	mu         sync.Mutex
	session    *watch.Session
	background []*process.Process

	// production is set once a production bundle has been built, so later
	// tasks read that profile's output.
	production atomic.Bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithAlerter sets the alerter notified of failures. Defaults to the
// terminal bell.
func WithAlerter(a process.Alerter) Option {
	return func(p *Pipeline) {
		p.alerter = a
	}
}

// WithStyles sets the styles used for relayed command output.
func WithStyles(s process.Styles) Option {
	return func(p *Pipeline) {
		p.styles = s
	}
}

// WithStdio sets the streams inherited by foreground and background
// commands.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(p *Pipeline) {
		p.stdin = stdin
		p.stdout = stdout
		p.stderr = stderr
	}
}

// New builds the pipeline for cfg: it computes the path sets, registers
// every task and validates the graph. Graph errors are configuration
// errors and are returned before anything runs.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:    cfg,
		logger: slog.Default(),
		styles: process.DefaultStyles(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.alerter == nil {
		p.alerter = process.NewBell(p.stderr, p.logger)
	}

	sets, err := pathset.Compute(cfg.Paths)
	if err != nil {
		return nil, err
	}
	p.sets = sets
	p.logger.Debug("path sets", slog.Any("sets", sets.Names()))

	router, err := watch.NewRouter(sets, cfg.Watch.Triggers)
	if err != nil {
		return nil, err
	}
	p.router = router

	p.supervisor = process.NewSupervisor(process.WithProcessExitCallback(func(proc *process.Process) {
		p.logger.Debug("process exited",
			slog.String("id", proc.ID), slog.String("command", proc.Name),
			slog.Int("code", proc.ExitCode()), slog.Duration("runtime", proc.Runtime()))
	}))

	p.runner = process.NewRunner(p.supervisor,
		process.WithLogger(p.logger),
		process.WithAlerter(p.alerter),
		process.WithStyles(p.styles),
		process.WithDir(cfg.Root),
		process.WithEnv(cfg.Env),
		process.WithStdio(p.stdin, p.stdout, p.stderr),
		process.WithGrace(cfg.Shutdown.Grace.Duration),
	)

	p.graph = task.NewGraph(task.WithLogger(p.logger), task.WithFailureHook(p.onTaskFailure))
	if err := p.register(); err != nil {
		return nil, err
	}
	if err := p.graph.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// Graph returns the task graph.
func (p *Pipeline) Graph() *task.Graph { return p.graph }

// Supervisor returns the process supervisor.
func (p *Pipeline) Supervisor() *process.Supervisor { return p.supervisor }

// CheckEnvironment runs the startup preconditions.
func (p *Pipeline) CheckEnvironment(ctx context.Context) error {
	return CheckNode(ctx, p.runner, p.cfg)
}

// ModeFor returns the failure mode a task is invoked with. Development
// tasks keep going after failures; everything else stops.
func ModeFor(name string) task.Mode {
	switch name {
	case "dev", "watch", "serve":
		return task.LogAndContinue
	default:
		return task.FailStop
	}
}

// Run invokes the named tasks in order, DefaultTask when none are given,
// and then waits for the watch session and background commands they
// started. It returns the first invocation error.
func (p *Pipeline) Run(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = []string{DefaultTask}
	}
	for _, name := range names {
		if !p.graph.Has(name) {
			return fmt.Errorf("%w: %q", task.ErrUnknownTask, name)
		}
	}

	for _, name := range names {
		report, err := p.graph.Invoke(ctx, name, ModeFor(name))
		if err != nil {
			return err
		}
		if !report.Succeeded() {
			p.logger.Warn(fmt.Sprintf("'%s' finished with failures", name),
				slog.Int("failed", len(report.Failed())))
		}
	}
	return p.Wait(ctx)
}

// Wait blocks until the watch session has stopped and every background
// command has exited, or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	session := p.session
	procs := append([]*process.Process(nil), p.background...)
	p.mu.Unlock()

	if session != nil {
		select {
		case <-session.Done():
		case <-ctx.Done():
			session.Stop()
			return ctx.Err()
		}
	}
	for _, proc := range procs {
		select {
		case <-proc.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// Shutdown stops the watch session and terminates every command still
// running, killing those that outlive grace.
func (p *Pipeline) Shutdown(grace time.Duration) {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	if session != nil {
		session.Stop()
	}

	if n := p.supervisor.Count(); n > 0 {
		p.logger.Debug("terminating processes", slog.Int("count", n))
	}
	p.supervisor.Shutdown(grace)
}

// onTaskFailure alerts on failures the runner has not alerted on already.
func (p *Pipeline) onTaskFailure(name string, err error) {
	if errors.Is(err, process.ErrCommandFailed) || errors.Is(err, context.Canceled) {
		return
	}
	p.alerter.Alert(fmt.Sprintf("task %s: %v", name, err))
}

// LintFile lints one file with the linter of its path set. The result is
// reported but never stops the session.
func (p *Pipeline) LintFile(ctx context.Context, set pathset.Name, path string) error {
	switch set {
	case pathset.SourceJS, pathset.AllJS:
		cmd := p.cfg.Tools.ESLint.With(path)
		return p.runner.Capture(ctx, process.JoinCommand(cmd.Name(), cmd.Args()...),
			process.Announce(), process.WithMatcher(problem.ESLintStylish))
	case pathset.Sass:
		cmd := p.cfg.Tools.SassLint.With(path)
		return p.runner.Capture(ctx, process.JoinCommand(cmd.Name(), cmd.Args()...),
			process.Announce(), process.WithMatcher(problem.SassLint))
	default:
		return fmt.Errorf("no linter for path set %s", set)
	}
}

// InvokeTask runs a task in log-and-continue mode.
func (p *Pipeline) InvokeTask(ctx context.Context, name string) error {
	_, err := p.graph.Invoke(ctx, name, task.LogAndContinue)
	return err
}

// TestFile runs one Python test file without coverage. The outcome is
// logged by the runner.
func (p *Pipeline) TestFile(ctx context.Context, path string) error {
	cmd := p.cfg.Tools.Pytest.With(path, "--no-cov")
	p.runner.Report(ctx, process.JoinCommand(cmd.Name(), cmd.Args()...))
	return nil
}

var _ watch.Actions = (*Pipeline)(nil)

// startWatch opens the watch session. A second call while a session is
// running does nothing.
func (p *Pipeline) startWatch(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return nil
	}

	opts := []watch.SessionOption{
		watch.WithLogger(p.logger),
		watch.WithAlerter(p.alerter),
		watch.WithIgnore(p.cfg.Watch.Ignore),
		watch.WithLimits(p.cfg.Watch.MaxWatches, p.cfg.Watch.BufferSize),
	}
	if p.cfg.Watch.Gitignore {
		opts = append(opts, watch.WithIgnoreFile(p.cfg.Abs(".gitignore")))
	}
	s := watch.NewSession(p.cfg.Root, p.router, p, opts...)
	if err := s.Start(ctx); err != nil {
		return err
	}
	p.session = s
	return nil
}

// startBackground spawns a long-running command and returns once it is up.
func (p *Pipeline) startBackground(ctx context.Context, cmd config.Command) error {
	proc, err := p.runner.Background(ctx, cmd.Name(), cmd.Args()...)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.background = append(p.background, proc)
	p.mu.Unlock()
	return nil
}
