package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/colorseasons/buildpipe/internal/config"
	"github.com/colorseasons/buildpipe/internal/integration/process"
	"github.com/colorseasons/buildpipe/internal/integration/task"
	"github.com/colorseasons/buildpipe/internal/project/pathset"
	"github.com/colorseasons/buildpipe/internal/watch"
)

// recordHandler keeps log messages.
type recordHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	return nil
}

func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordHandler) contains(s string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.msgs {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

// recorder returns a command that appends its arguments to a file under
// the workspace.
func recorder(name, file string) config.Command {
	return config.Command{"sh", "-c", `echo "$@" >> ` + file, name}
}

type testPipeline struct {
	*Pipeline
	root   string
	logs   *recordHandler
	alerts *atomic.Int32
}

// newTestPipeline builds a pipeline over an empty workspace in which every
// tool succeeds without doing anything.
func newTestPipeline(t *testing.T, mutate func(cfg *config.Config)) *testPipeline {
	t.Helper()

	cfg := config.Default()
	cfg.Root = t.TempDir()
	ok := config.Command{"true"}
	cfg.Tools = config.Tools{
		Node: ok, ESLint: ok, SassLint: ok, Mocha: ok, Karma: ok, Webpack: ok,
		SVGSprite: ok, Flake8: ok, Pytest: ok, Runserver: ok, BrowserSync: ok,
	}
	if mutate != nil {
		mutate(cfg)
	}

	logs := &recordHandler{}
	alerts := &atomic.Int32{}
	p, err := New(cfg,
		WithLogger(slog.New(logs)),
		WithAlerter(process.AlertFunc(func(string) { alerts.Add(1) })),
		WithStyles(process.PlainStyles()),
		WithStdio(nil, io.Discard, io.Discard))
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	t.Cleanup(func() { p.Shutdown(time.Second) })

	return &testPipeline{Pipeline: p, root: cfg.Root, logs: logs, alerts: alerts}
}

func (tp *testPipeline) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(tp.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("MkdirAll error = %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
}

func (tp *testPipeline) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(tp.root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	return strings.TrimSpace(string(data))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNew_RegistersTasks(t *testing.T) {
	tp := newTestPipeline(t, nil)

	names := []string{
		"default", "dev", "test", "watch", "serve", "eslint", "eslint-nofail",
		"sasslint", "sasslint-nofail", "sasstest", "jstest", "jstest-debug",
		"jstest-watch", "sprites-clean", "sprites", "webpack", "webpack-watch",
		"webpack-prod", "pytest", "flake8", "browser-sync", "manifest",
	}
	for _, name := range names {
		tk, ok := tp.Graph().Task(name)
		if !ok {
			t.Errorf("task %q is not registered", name)
			continue
		}
		if tk.Description == "" {
			t.Errorf("task %q has no description", name)
		}
	}
	if got := len(tp.Graph().Tasks()); got != len(names) {
		t.Errorf("registered %d tasks, want %d", got, len(names))
	}
	if err := tp.Graph().Validate(); err != nil {
		t.Errorf("Validate error = %v", err)
	}

	// Prerequisites that the bundler and Python tests rely on.
	for name, want := range map[string][]string{
		"sprites": {"sprites-clean"},
		"webpack": {"sprites"},
		"pytest":  {"sprites"},
		"watch":   {"jstest-watch", "webpack-watch"},
		"serve":   {"watch", "browser-sync"},
	} {
		tk, _ := tp.Graph().Task(name)
		if strings.Join(tk.Prerequisites, ",") != strings.Join(want, ",") {
			t.Errorf("%s prerequisites = %v, want %v", name, tk.Prerequisites, want)
		}
	}
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		name string
		want task.Mode
	}{
		{"default", task.FailStop},
		{"test", task.FailStop},
		{"eslint", task.FailStop},
		{"dev", task.LogAndContinue},
		{"watch", task.LogAndContinue},
		{"serve", task.LogAndContinue},
	}
	for _, tt := range tests {
		if got := ModeFor(tt.name); got != tt.want {
			t.Errorf("ModeFor(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPipeline_RunDefault(t *testing.T) {
	tp := newTestPipeline(t, nil)

	if err := tp.Run(context.Background()); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if !tp.logs.contains("Finished 'webpack'") {
		t.Error("webpack did not run")
	}
	if !tp.logs.contains("No files to lint") {
		t.Error("empty lint was not reported")
	}
	if n := tp.alerts.Load(); n != 0 {
		t.Errorf("alerts = %d, want 0", n)
	}
}

func TestPipeline_RunFailStop(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *config.Config) {
		cfg.Tools.Flake8 = config.Command{"false"}
	})

	err := tp.Run(context.Background(), "default")
	var invErr *task.InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("Run error = %v, want *InvocationError", err)
	}
	if !errors.Is(err, process.ErrNonZeroExit) {
		t.Errorf("error = %v, want ErrNonZeroExit", err)
	}
	if ExitCode(err) != ExitTaskFailed {
		t.Errorf("ExitCode = %d, want %d", ExitCode(err), ExitTaskFailed)
	}
	if n := tp.alerts.Load(); n != 1 {
		t.Errorf("alerts = %d, want 1", n)
	}
}

func TestPipeline_RunUnknownTask(t *testing.T) {
	tp := newTestPipeline(t, nil)

	err := tp.Run(context.Background(), "eslint", "deploy")
	if !errors.Is(err, task.ErrUnknownTask) {
		t.Fatalf("Run error = %v, want ErrUnknownTask", err)
	}
	if ExitCode(err) != ExitConfig {
		t.Errorf("ExitCode = %d, want %d", ExitCode(err), ExitConfig)
	}
	if tp.logs.contains("Starting 'eslint'") {
		t.Error("tasks ran before the unknown name was rejected")
	}
}

func TestPipeline_Lint(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *config.Config) {
		cfg.Tools.ESLint = config.Command{"false"}
	})
	tp.write(t, "static/js/init.js", "var x;\n")

	if err := tp.Run(context.Background(), "eslint-nofail"); err != nil {
		t.Errorf("eslint-nofail error = %v, want nil", err)
	}
	if err := tp.Run(context.Background(), "eslint"); !errors.Is(err, process.ErrCommandFailed) {
		t.Errorf("eslint error = %v, want ErrCommandFailed", err)
	}
}

func TestPipeline_LintExpandsFiles(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *config.Config) {
		cfg.Tools.SassLint = recorder("sass-lint", "lint.txt")
	})
	tp.write(t, "static/sass/_buttons.scss", "a {}\n")
	tp.write(t, "static/sass/.#_buttons.scss", "lock\n")
	tp.write(t, "test/sass/_helpers.scss", "b {}\n")

	if err := tp.Run(context.Background(), "sasslint"); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if got, want := tp.read(t, "lint.txt"), "static/sass/_buttons.scss test/sass/_helpers.scss"; got != want {
		t.Errorf("sass-lint args = %q, want %q", got, want)
	}
}

func TestPipeline_Sprites(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *config.Config) {
		cfg.Tools.SVGSprite = recorder("svg-sprite", "sprite.txt")
	})
	tp.write(t, "templates/_icons.svg", "<svg/>")
	tp.write(t, "templates/icons/star.svg", "<svg/>")
	tp.write(t, "templates/icons/social/mail.svg", "<svg/>")

	if err := tp.Run(context.Background(), "sprites"); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tp.root, "templates", "_icons.svg")); !os.IsNotExist(err) {
		t.Errorf("old sprite still exists: %v", err)
	}
	want := "--symbol-dest templates --symbol-sprite _icons.svg templates/icons/social/mail.svg templates/icons/star.svg"
	if got := tp.read(t, "sprite.txt"); got != want {
		t.Errorf("svg-sprite args = %q, want %q", got, want)
	}
}

func TestPipeline_SpritesCleanMissing(t *testing.T) {
	tp := newTestPipeline(t, nil)
	if err := tp.Run(context.Background(), "sprites-clean"); err != nil {
		t.Errorf("sprites-clean without a sprite error = %v", err)
	}
}

func TestPipeline_WebpackProdEnv(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *config.Config) {
		cfg.Tools.Webpack = config.Command{"sh", "-c", `echo "$NODE_ENV $*" > webpack.txt`, "webpack"}
	})

	if err := tp.Run(context.Background(), "webpack-prod"); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if got, want := tp.read(t, "webpack.txt"), "production --config webpack.prod.config.js"; got != want {
		t.Errorf("webpack saw %q, want %q", got, want)
	}

	// The production environment does not leak into other tasks.
	if err := tp.Run(context.Background(), "webpack"); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if got := tp.read(t, "webpack.txt"); strings.HasPrefix(got, "production") {
		t.Errorf("webpack saw %q, want no NODE_ENV", got)
	}
}

func TestPipeline_Manifest(t *testing.T) {
	tp := newTestPipeline(t, nil)

	if err := tp.Run(context.Background(), "manifest"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("manifest without a file error = %v, want ErrNotExist", err)
	}

	tp.write(t, "static/dist/webpack-assets.json", `{"main": {"js": "/static/dist/assets/main.js"}}`)
	if err := tp.Run(context.Background(), "manifest"); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if !tp.logs.contains("main: /static/dist/assets/main.js") {
		t.Error("manifest entry was not logged")
	}
}

func TestPipeline_ManifestAfterProductionBundle(t *testing.T) {
	tp := newTestPipeline(t, nil)
	tp.write(t, "static/dist/webpack-assets.json", `{"main": {"js": "/static/dist/assets/main.js"}}`)
	tp.write(t, "static/dist/min/webpack-assets.json", `{"main": {"js": "/static/dist/min/assets/main.min.js"}}`)

	if err := tp.Run(context.Background(), "webpack-prod", "manifest"); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if !tp.logs.contains("main: /static/dist/min/assets/main.min.js") {
		t.Error("manifest did not read the production manifest")
	}
	if tp.logs.contains("main: /static/dist/assets/main.js") {
		t.Error("manifest read the development manifest after a production bundle")
	}
}

func TestPipeline_Actions(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *config.Config) {
		cfg.Tools.ESLint = recorder("eslint", "eslint.txt")
		cfg.Tools.SassLint = recorder("sass-lint", "sasslint.txt")
		cfg.Tools.Pytest = recorder("py.test", "pytest.txt")
		cfg.Tools.Flake8 = config.Command{"false"}
	})
	ctx := context.Background()

	if err := tp.LintFile(ctx, pathset.SourceJS, "static/js/init.js"); err != nil {
		t.Errorf("LintFile js error = %v", err)
	}
	if got := tp.read(t, "eslint.txt"); got != "static/js/init.js" {
		t.Errorf("eslint args = %q", got)
	}
	if !tp.logs.contains("Running 'sh -c") {
		t.Error("single-file lint was not announced")
	}

	if err := tp.LintFile(ctx, pathset.Sass, "static/sass/_a.scss"); err != nil {
		t.Errorf("LintFile sass error = %v", err)
	}
	if got := tp.read(t, "sasslint.txt"); got != "static/sass/_a.scss" {
		t.Errorf("sass-lint args = %q", got)
	}

	if err := tp.LintFile(ctx, pathset.SourcePython, "src/a.py"); err == nil {
		t.Error("LintFile for python succeeded, want error")
	}

	if err := tp.TestFile(ctx, "src/a/tests/b.py"); err != nil {
		t.Errorf("TestFile error = %v", err)
	}
	if got := tp.read(t, "pytest.txt"); got != "src/a/tests/b.py --no-cov" {
		t.Errorf("py.test args = %q", got)
	}

	// Failures are logged, not returned.
	if err := tp.InvokeTask(ctx, "flake8"); err != nil {
		t.Errorf("InvokeTask error = %v, want nil", err)
	}
	if !tp.logs.contains("'flake8' errored") {
		t.Error("flake8 failure was not logged")
	}
}

func TestPipeline_BackgroundInterrupted(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *config.Config) {
		cfg.Tools.BrowserSync = config.Command{"sleep", "30"}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tp.Run(ctx, "browser-sync") }()

	waitFor(t, "browser-sync to start", func() bool { return tp.Supervisor().Count() == 1 })
	cancel()

	select {
	case err := <-errc:
		if ExitCode(err) != ExitInterrupted {
			t.Errorf("Run error = %v, want interruption", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	waitFor(t, "browser-sync to exit", func() bool { return tp.Supervisor().Count() == 0 })
	if n := tp.alerts.Load(); n != 0 {
		t.Errorf("alerts = %d, want 0 for an interrupted server", n)
	}
}

func TestPipeline_Watch(t *testing.T) {
	tp := newTestPipeline(t, func(cfg *config.Config) {
		cfg.Tools.SassLint = recorder("sass-lint", "lint.txt")
		cfg.Tools.Mocha = config.Command{"sh", "-c", "echo sasstest >> mocha.txt", "mocha"}
	})
	tp.write(t, "static/sass/_base.scss", "a {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- tp.Run(ctx, "watch") }()

	session := func() *watch.Session {
		tp.mu.Lock()
		defer tp.mu.Unlock()
		return tp.session
	}
	waitFor(t, "watch session", func() bool {
		s := session()
		return s != nil && s.State() == watch.StateWatching
	})

	tp.write(t, "static/sass/_buttons.scss", "b {}\n")
	exists := func(rel string) bool {
		_, err := os.Stat(filepath.Join(tp.root, rel))
		return err == nil
	}
	waitFor(t, "sass lint", func() bool { return exists("lint.txt") && strings.Contains(tp.read(t, "lint.txt"), "static/sass/_buttons.scss") })
	waitFor(t, "sass tests", func() bool { return exists("mocha.txt") })

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	if s := session(); s.State() != watch.StateStopped {
		t.Errorf("session state = %v, want stopped", s.State())
	}
}
