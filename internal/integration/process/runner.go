package process

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/colorseasons/buildpipe/internal/integration/problem"
)

// Runner executes external commands on behalf of tasks.
//
// Every command is started through the Spawner so it is registered for
// teardown. Failures are reported to the Alerter in addition to being
// returned.
type Runner struct {
	spawner  Spawner
	logger   *slog.Logger
	alerter  Alerter
	styles   Styles
	matchers *problem.Registry

	dir       string
	env       map[string]string
	shell     string
	shellArgs []string
	grace     time.Duration

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger used for command output and summaries.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithAlerter sets the alerter notified on failures.
func WithAlerter(a Alerter) RunnerOption {
	return func(r *Runner) {
		r.alerter = a
	}
}

// WithStyles sets the output styles.
func WithStyles(s Styles) RunnerOption {
	return func(r *Runner) {
		r.styles = s
	}
}

// WithDir sets the working directory for all commands.
func WithDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.dir = dir
	}
}

// WithEnv adds environment variables to every command. They override the
// inherited environment.
func WithEnv(env map[string]string) RunnerOption {
	return func(r *Runner) {
		for k, v := range env {
			r.env[k] = v
		}
	}
}

// WithShell sets the shell used for command lines.
func WithShell(shell string, args ...string) RunnerOption {
	return func(r *Runner) {
		r.shell = shell
		r.shellArgs = args
	}
}

// WithGrace sets how long a cancelled command may take to exit after
// SIGTERM before it is killed together with its descendants.
func WithGrace(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.grace = d
	}
}

// WithStdio sets the streams inherited by Run. Defaults to the process's own.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) RunnerOption {
	return func(r *Runner) {
		r.stdin = stdin
		r.stdout = stdout
		r.stderr = stderr
	}
}

// NewRunner creates a Runner that spawns through sp.
func NewRunner(sp Spawner, opts ...RunnerOption) *Runner {
	r := &Runner{
		spawner:   sp,
		logger:    slog.Default(),
		styles:    DefaultStyles(),
		matchers:  problem.NewRegistry(),
		env:       make(map[string]string),
		shell:     "/bin/sh",
		shellArgs: []string{"-c"},
		grace:     5 * time.Second,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.alerter == nil {
		r.alerter = NewBell(r.stderr, r.logger)
	}
	return r
}

// Run spawns command with inherited standard streams and blocks until it
// exits. Cancelling ctx terminates the process.
func (r *Runner) Run(ctx context.Context, command string, args ...string) error {
	line := JoinCommand(command, args...)

	cmd := exec.Command(command, args...)
	r.prepare(cmd)
	cmd.Stdin = r.stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	r.logger.Debug("spawn", slog.String("command", line))
	err := r.execute(ctx, line, cmd)
	if err != nil {
		r.alerter.Alert(err.Error())
	}
	return err
}

// CaptureOption configures a single Capture call.
type CaptureOption func(*captureOptions)

type captureOptions struct {
	matcher  string
	announce bool
}

// WithMatcher summarizes the output with the named problem matcher.
func WithMatcher(name string) CaptureOption {
	return func(o *captureOptions) {
		o.matcher = name
	}
}

// Announce logs "Running '<cmd>'..." before the command starts.
func Announce() CaptureOption {
	return func(o *captureOptions) {
		o.announce = true
	}
}

// Capture runs a shell command line with buffered output. Once the command
// exits, stdout and stderr are logged, stdout in blue and stderr in red,
// and the completion error is returned.
func (r *Runner) Capture(ctx context.Context, commandLine string, opts ...CaptureOption) error {
	var o captureOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.announce {
		r.logger.Info("Running " + r.styles.quoted(commandLine) + "...")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(r.shell, append(append([]string{}, r.shellArgs...), commandLine)...)
	r.prepare(cmd)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := shellExitError(r.execute(ctx, commandLine, cmd))

	if out := strings.TrimRight(stdout.String(), "\n"); out != "" {
		r.logger.Info(paint(r.styles.Stdout, out))
	}
	if out := strings.TrimRight(stderr.String(), "\n"); out != "" {
		r.logger.Info(paint(r.styles.Stderr, out))
	}

	if o.matcher != "" {
		if m := r.matchers.Get(o.matcher); m != nil {
			summary := problem.Summarize(m.Scan(stdout.String() + "\n" + stderr.String()))
			if summary.Total() > 0 {
				r.logger.Info(r.styles.quoted(commandLine)+" "+summary.String(),
					slog.Int("errors", summary.Errors), slog.Int("warnings", summary.Warnings))
			}
		}
	}

	if err != nil {
		r.alerter.Alert(err.Error())
	}
	return err
}

// Report runs a command line like Capture but owns the outcome: it logs a
// start line and then either a finish line or the failure.
func (r *Runner) Report(ctx context.Context, commandLine string, opts ...CaptureOption) {
	r.logger.Info("Starting " + r.styles.quoted(commandLine) + "...")
	if err := r.Capture(ctx, commandLine, opts...); err != nil {
		r.logger.Error(r.styles.quoted(commandLine)+" "+paint(r.styles.Failure, err.Error()),
			slog.String("command", commandLine))
		return
	}
	r.logger.Info("Finished " + r.styles.quoted(commandLine))
}

// Output runs command and returns its trimmed standard output.
func (r *Runner) Output(ctx context.Context, command string, args ...string) (string, error) {
	line := JoinCommand(command, args...)

	var stdout bytes.Buffer
	cmd := exec.Command(command, args...)
	r.prepare(cmd)
	cmd.Stdout = &stdout

	if err := r.execute(ctx, line, cmd); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Background spawns command with inherited standard streams and returns
// once it has started. The exit is watched on a separate goroutine: a
// failure is logged and alerted, and cancelling ctx terminates the process.
// It is meant for servers and watchers that run for the whole session.
func (r *Runner) Background(ctx context.Context, command string, args ...string) (*Process, error) {
	line := JoinCommand(command, args...)

	cmd := exec.Command(command, args...)
	r.prepare(cmd)
	cmd.Stdin = r.stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	proc, err := r.spawner.Start(line, cmd)
	if err != nil {
		cerr := spawnError(line, err)
		r.alerter.Alert(cerr.Error())
		return nil, cerr
	}
	r.logger.Debug("spawn", slog.String("command", line), slog.String("id", proc.ID))

	go func() {
		select {
		case <-proc.Done():
		case <-ctx.Done():
			r.stop(proc)
			return
		}
		if err := exitError(line, proc); err != nil {
			r.logger.Error(r.styles.quoted(line)+" "+paint(r.styles.Failure, err.Error()),
				slog.String("command", line))
			r.alerter.Alert(err.Error())
		}
	}()
	return proc, nil
}

// With returns a copy of r with opts applied. Environment additions are
// merged with the ones r already has.
func (r *Runner) With(opts ...RunnerOption) *Runner {
	c := *r
	c.env = make(map[string]string, len(r.env))
	for k, v := range r.env {
		c.env[k] = v
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// execute starts cmd through the spawner and waits for it.
func (r *Runner) execute(ctx context.Context, line string, cmd *exec.Cmd) error {
	proc, err := r.spawner.Start(line, cmd)
	if err != nil {
		return spawnError(line, err)
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		r.stop(proc)
		return ctx.Err()
	}

	return exitError(line, proc)
}

// stop sends SIGTERM and waits up to the grace period. A process still
// running after that is killed together with its descendants.
func (r *Runner) stop(proc *Process) {
	_ = proc.Terminate()

	timer := time.NewTimer(r.grace)
	defer timer.Stop()
	select {
	case <-proc.Done():
		return
	case <-timer.C:
	}

	r.logger.Debug("killing process after grace period",
		slog.String("command", proc.Name), slog.Duration("grace", r.grace))
	killTree(proc, Descendants)
	<-proc.Done()
}

// prepare applies the working directory and environment. WaitDelay bounds
// how long Wait keeps reading pipes held open by orphaned children.
func (r *Runner) prepare(cmd *exec.Cmd) {
	cmd.WaitDelay = r.grace
	if r.dir != "" {
		cmd.Dir = r.dir
	}
	if len(r.env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), r.env)
	}
}

// mergeEnv overlays extra onto base with deterministic ordering.
func mergeEnv(base []string, extra map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(extra))
	for _, kv := range base {
		if idx := strings.Index(kv, "="); idx > 0 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range extra {
		envMap[k] = v
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+envMap[k])
	}
	return env
}

// JoinCommand renders a command and its arguments as a shell command line.
func JoinCommand(command string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, ShellEscape(command))
	for _, arg := range args {
		parts = append(parts, ShellEscape(arg))
	}
	return strings.Join(parts, " ")
}

// ShellEscape escapes a string for safe use in shell commands.
// It wraps arguments containing special characters in single quotes.
func ShellEscape(s string) string {
	if s == "" {
		return "''"
	}

	needsEscape := false
	for _, c := range s {
		if !isShellSafe(c) {
			needsEscape = true
			break
		}
	}

	if !needsEscape {
		return s
	}

	// 'foo'\''bar' -> foo'bar
	var result strings.Builder
	result.WriteByte('\'')
	for _, c := range s {
		if c == '\'' {
			result.WriteString("'\\''")
		} else {
			result.WriteRune(c)
		}
	}
	result.WriteByte('\'')
	return result.String()
}

// isShellSafe returns true if the character doesn't need escaping.
func isShellSafe(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '/' || c == '=' || c == ','
}
