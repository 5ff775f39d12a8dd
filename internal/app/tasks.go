package app

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/colorseasons/buildpipe/internal/config"
	"github.com/colorseasons/buildpipe/internal/integration/problem"
	"github.com/colorseasons/buildpipe/internal/integration/process"
	"github.com/colorseasons/buildpipe/internal/integration/task"
	"github.com/colorseasons/buildpipe/internal/project/pathset"
)

// register adds every pipeline task to the graph.
func (p *Pipeline) register() error {
	tools := p.cfg.Tools
	paths := p.cfg.Paths
	bundle := p.cfg.Bundle

	defs := []struct {
		name   string
		prereq []string
		action task.Action
		desc   string
		group  task.Group
	}{
		// Aggregates.
		{DefaultTask, []string{"eslint", "sasslint", "flake8", "webpack", "test"}, nil,
			"Lint, bundle and test everything once", task.GroupBuild},
		{"dev", []string{"eslint", "sasslint", "flake8", "sasstest", "pytest", "watch"}, nil,
			"Lint and test once, then watch for changes", task.GroupRun},
		{"test", []string{"jstest", "sasstest", "pytest"}, nil,
			"Run the JavaScript, Sass and Python tests", task.GroupTest},

		// Lint.
		{"eslint", nil, p.lintAction(pathset.AllJS, true), "Lint all JavaScript", task.GroupLint},
		{"eslint-nofail", nil, p.lintAction(pathset.AllJS, false), "Lint all JavaScript, reporting only", task.GroupLint},
		{"sasslint", nil, p.lintAction(pathset.Sass, true), "Lint all Sass", task.GroupLint},
		{"sasslint-nofail", nil, p.lintAction(pathset.Sass, false), "Lint all Sass, reporting only", task.GroupLint},
		{"flake8", nil, p.captureAction(tools.Flake8.With(paths.SrcPyDir), problem.Flake8),
			"Check Python style", task.GroupLint},

		// Tests.
		{"sasstest", nil, p.runAction(tools.Mocha.With(paths.SassTestEntry())), "Run the Sass tests", task.GroupTest},
		{"jstest", nil, p.runAction(tools.Karma.With("--single-run")), "Run the JavaScript tests once", task.GroupTest},
		{"jstest-debug", nil, p.runAction(tools.Karma.With("--no-single-run", "--browsers", "Chrome")),
			"Run the JavaScript tests in Chrome until stopped", task.GroupTest},
		{"jstest-watch", nil, p.backgroundAction(tools.Karma.With("--auto-watch", "--no-single-run")),
			"Start the JavaScript test watcher in the background", task.GroupRun},
		{"pytest", []string{"sprites"}, p.captureAction(tools.Pytest, ""), "Run the Python tests", task.GroupTest},

		// Assets.
		{"sprites-clean", nil, p.cleanSprites, "Remove the generated icon sprite", task.GroupClean},
		{"sprites", []string{"sprites-clean"}, p.buildSprites, "Build the icon sprite", task.GroupBuild},
		{"webpack", []string{"sprites"}, p.runAction(tools.Webpack.With("--config", bundle.Config)),
			"Bundle static assets", task.GroupBuild},
		{"webpack-watch", []string{"sprites"}, p.backgroundAction(tools.Webpack.With("--config", bundle.Config, "--watch")),
			"Start the bundler in watch mode in the background", task.GroupRun},
		{"webpack-prod", []string{"sprites"}, p.bundleProduction, "Bundle static assets for production", task.GroupBuild},
		{"manifest", nil, p.logManifest, "List the bundles in the asset manifest", task.GroupBuild},

		// Servers.
		{"watch", []string{"jstest-watch", "webpack-watch"}, p.startWatch,
			"Re-lint and re-test on file changes", task.GroupRun},
		{"browser-sync", nil, p.backgroundAction(tools.BrowserSync), "Start the live-reload proxy", task.GroupRun},
		{"serve", []string{"watch", "browser-sync"}, p.runAction(tools.Runserver),
			"Watch and run the development server", task.GroupRun},
	}

	for _, d := range defs {
		if err := p.graph.Register(d.name, d.prereq, d.action,
			task.WithDescription(d.desc), task.WithGroup(d.group)); err != nil {
			return err
		}
	}
	return nil
}

// runAction runs cmd in the foreground with inherited streams.
func (p *Pipeline) runAction(cmd config.Command) task.Action {
	return func(ctx context.Context) error {
		return p.runner.Run(ctx, cmd.Name(), cmd.Args()...)
	}
}

// captureAction runs cmd with buffered output, summarized by the named
// problem matcher when one is given.
func (p *Pipeline) captureAction(cmd config.Command, matcher string) task.Action {
	return func(ctx context.Context) error {
		var opts []process.CaptureOption
		if matcher != "" {
			opts = append(opts, process.WithMatcher(matcher))
		}
		return p.runner.Capture(ctx, process.JoinCommand(cmd.Name(), cmd.Args()...), opts...)
	}
}

// backgroundAction starts cmd and finishes as soon as it is running.
func (p *Pipeline) backgroundAction(cmd config.Command) task.Action {
	return func(ctx context.Context) error {
		return p.startBackground(ctx, cmd)
	}
}

// lintAction lints every file of a path set. A non-failing lint reports
// problems but always succeeds unless it was interrupted.
func (p *Pipeline) lintAction(set pathset.Name, fail bool) task.Action {
	var tool config.Command
	var matcher string
	if set == pathset.Sass {
		tool, matcher = p.cfg.Tools.SassLint, problem.SassLint
	} else {
		tool, matcher = p.cfg.Tools.ESLint, problem.ESLintStylish
	}

	return func(ctx context.Context) error {
		ps, _ := p.sets.Get(set)
		files, err := ps.Expand(p.cfg.Root)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			p.logger.Info("No files to lint", slog.String("set", string(set)))
			return nil
		}

		cmd := tool.With(files...)
		err = p.runner.Capture(ctx, process.JoinCommand(cmd.Name(), cmd.Args()...), process.WithMatcher(matcher))
		if err != nil && !fail && ctx.Err() == nil {
			return nil
		}
		return err
	}
}

// cleanSprites removes the generated sprite. A missing sprite is fine.
func (p *Pipeline) cleanSprites(ctx context.Context) error {
	err := os.Remove(p.cfg.Abs(p.cfg.Paths.SpritePath()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// buildSprites combines the icon sources into a single inline symbol sprite
// next to the templates.
func (p *Pipeline) buildSprites(ctx context.Context) error {
	icons, err := p.iconFiles()
	if err != nil {
		return err
	}
	if len(icons) == 0 {
		p.logger.Info("No icons to combine", slog.String("dir", p.cfg.Paths.IconsDir))
		return nil
	}

	sprite := p.cfg.Paths.SpritePath()
	args := []string{"--symbol-dest", path.Dir(sprite), "--symbol-sprite", path.Base(sprite)}
	cmd := p.cfg.Tools.SVGSprite.With(append(args, icons...)...)
	return p.runner.Run(ctx, cmd.Name(), cmd.Args()...)
}

// iconFiles lists the icon sources, honoring the shared exclusions.
func (p *Pipeline) iconFiles() ([]string, error) {
	patterns := append([]string{path.Join(p.cfg.Paths.IconsDir, "**/*.svg")}, p.cfg.Paths.Ignore...)
	icons, err := pathset.New("icons", patterns...)
	if err != nil {
		return nil, err
	}
	return icons.Expand(p.cfg.Root)
}

// bundleProduction runs the bundler with the production profile.
func (p *Pipeline) bundleProduction(ctx context.Context) error {
	cmd := p.cfg.Tools.Webpack.With("--config", p.cfg.Bundle.ProdConfig)
	prod := p.runner.With(process.WithEnv(map[string]string{config.EnvNodeEnv: "production"}))
	if err := prod.Run(ctx, cmd.Name(), cmd.Args()...); err != nil {
		return err
	}
	p.production.Store(true)
	return nil
}

// logManifest logs each bundle of the asset manifest with its files. After
// a production bundle in the same run it reads the production manifest.
func (p *Pipeline) logManifest(ctx context.Context) error {
	bundle := p.cfg.Bundle
	if p.production.Load() {
		bundle.Production = true
	}
	entries, err := ReadManifest(p.cfg.Abs(bundle.ManifestPath(p.cfg.Paths)))
	if err != nil {
		return err
	}
	for _, e := range entries {
		p.logger.Info(e.Name+": "+strings.Join(e.Files, ", "), slog.Int("files", len(e.Files)))
	}
	return nil
}
