// Package main is the entry point for buildpipe.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/colorseasons/buildpipe/internal/app"
	"github.com/colorseasons/buildpipe/internal/config"
	"github.com/colorseasons/buildpipe/internal/integration/process"
	"github.com/colorseasons/buildpipe/internal/integration/task"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath    string
	workspace     string
	logLevel      string
	list          bool
	skipNodeCheck bool
	tasks         []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	var loadOpts []config.LoadOption
	if opts.configPath != "" {
		loadOpts = append(loadOpts, config.WithFile(opts.configPath))
	}
	cfg, err := config.Load(opts.workspace, loadOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return app.ExitConfig
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.skipNodeCheck {
		cfg.Environment.SkipNodeCheck = true
	}

	level, err := app.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return app.ExitConfig
	}
	logger := app.NewLogger(os.Stderr, level, cfg.Logging.NoColor)
	slog.SetDefault(logger)

	styles := process.DefaultStyles()
	if cfg.Logging.NoColor {
		styles = process.PlainStyles()
	}

	pipeline, err := app.New(cfg, app.WithLogger(logger), app.WithStyles(styles))
	if err != nil {
		logger.Error(err.Error())
		return app.ExitCode(err)
	}

	if opts.list {
		listTasks(os.Stdout, pipeline.Graph(), cfg.Logging.NoColor)
		return app.ExitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ensure every child is gone on all exit paths.
	defer pipeline.Shutdown(cfg.Shutdown.Grace.Duration)

	if cfg.File != "" {
		logger.Debug("loaded configuration", slog.String("file", cfg.File))
	}
	logger.Info("Using workspace " + cfg.Root)

	if err := pipeline.CheckEnvironment(ctx); err != nil {
		logger.Error(err.Error())
		return app.ExitCode(err)
	}

	if err := pipeline.Run(ctx, opts.tasks...); err != nil {
		code := app.ExitCode(err)
		if code == app.ExitInterrupted {
			logger.Info("Interrupted, stopping")
		} else {
			logger.Error(err.Error())
		}
		return code
	}
	return app.ExitOK
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (default: buildpipe.toml or buildpipe.yaml in the workspace)")
	flag.StringVar(&opts.workspace, "C", ".", "Workspace directory")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.list, "list", false, "List tasks and exit")
	flag.BoolVar(&opts.skipNodeCheck, "skip-node-check", false, "Skip the Node version check")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "buildpipe - build, lint, test and watch the web application\n\n")
		fmt.Fprintf(os.Stderr, "Usage: buildpipe [options] [task...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  buildpipe                   Lint, bundle and test once\n")
		fmt.Fprintf(os.Stderr, "  buildpipe dev               Lint and test, then watch for changes\n")
		fmt.Fprintf(os.Stderr, "  buildpipe -C ../site serve  Run the development server of another checkout\n")
		fmt.Fprintf(os.Stderr, "  buildpipe -list             Show every task\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("buildpipe %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	opts.tasks = flag.Args()
	return opts
}

var groupOrder = []task.Group{
	task.GroupBuild, task.GroupLint, task.GroupTest, task.GroupRun, task.GroupClean, task.GroupOther,
}

// listTasks prints the tasks grouped by category.
func listTasks(w io.Writer, g *task.Graph, noColor bool) {
	heading := lipgloss.NewStyle().Bold(true)
	if noColor {
		heading = lipgloss.NewStyle()
	}

	byGroup := make(map[task.Group][]task.Task)
	width := 0
	for _, t := range g.Tasks() {
		byGroup[t.Group] = append(byGroup[t.Group], t)
		width = max(width, len(t.Name))
	}
	nameCol := lipgloss.NewStyle().Width(width + 4).PaddingLeft(2)

	for _, group := range groupOrder {
		tasks := byGroup[group]
		if len(tasks) == 0 {
			continue
		}
		fmt.Fprintln(w, heading.Render(string(group)))
		for _, t := range tasks {
			desc := t.Description
			if len(t.Prerequisites) > 0 {
				desc += fmt.Sprintf(" (after %s)", strings.Join(t.Prerequisites, ", "))
			}
			fmt.Fprintln(w, nameCol.Render(t.Name)+desc)
		}
		fmt.Fprintln(w)
	}
}
