// Package config holds the build pipeline's settings.
//
// Settings come from three places, later ones overriding earlier ones:
//
//  1. Built-in defaults (Default), matching the repository layout.
//  2. An optional buildpipe.toml or buildpipe.yaml at the workspace root.
//  3. Environment variables, including those from a .env file.
//
// # Sub-packages
//
//   - loader: TOML/YAML decoding and environment lookup
package config

import (
	"path"
	"path/filepath"
	"time"
)

// Config is the complete pipeline configuration.
type Config struct {
	// Root is the absolute workspace directory. Every relative path in the
	// configuration is resolved against it.
	Root string `toml:"-" yaml:"-"`

	// File is the configuration file that was loaded, if any.
	File string `toml:"-" yaml:"-"`

	// Env holds variables read from the workspace .env file. They are
	// exported to every command the pipeline runs.
	Env map[string]string `toml:"-" yaml:"-"`

	Paths       Paths       `toml:"paths" yaml:"paths"`
	Tools       Tools       `toml:"tools" yaml:"tools"`
	Watch       Watch       `toml:"watch" yaml:"watch"`
	Bundle      Bundle      `toml:"bundle" yaml:"bundle"`
	Environment Environment `toml:"environment" yaml:"environment"`
	Shutdown    Shutdown    `toml:"shutdown" yaml:"shutdown"`
	Logging     Logging     `toml:"logging" yaml:"logging"`
}

// Paths are the workspace directories, relative to Root with a trailing
// slash, plus the exclusion patterns appended to every path set.
type Paths struct {
	SrcTemplatesDir string   `toml:"src_templates_dir" yaml:"src_templates_dir"`
	SrcJSDir        string   `toml:"src_js_dir" yaml:"src_js_dir"`
	JSTestsDir      string   `toml:"js_tests_dir" yaml:"js_tests_dir"`
	SassTestsDir    string   `toml:"sass_tests_dir" yaml:"sass_tests_dir"`
	SassDir         string   `toml:"sass_dir" yaml:"sass_dir"`
	SrcPyDir        string   `toml:"src_py_dir" yaml:"src_py_dir"`
	PyTestsDir      string   `toml:"py_tests_dir" yaml:"py_tests_dir"`
	IconsDir        string   `toml:"icons_dir" yaml:"icons_dir"`
	DistDir         string   `toml:"dist_dir" yaml:"dist_dir"`
	Ignore          []string `toml:"ignore" yaml:"ignore"`
}

// Command is an executable followed by its fixed arguments.
type Command []string

// With returns a copy of c with args appended.
func (c Command) With(args ...string) Command {
	out := make(Command, 0, len(c)+len(args))
	out = append(out, c...)
	return append(out, args...)
}

// Name returns the executable, or "" for an empty command.
func (c Command) Name() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// Args returns the arguments after the executable.
func (c Command) Args() []string {
	if len(c) < 2 {
		return nil
	}
	return c[1:]
}

// Tools are the external commands behind the tasks.
type Tools struct {
	Node        Command `toml:"node" yaml:"node"`
	ESLint      Command `toml:"eslint" yaml:"eslint"`
	SassLint    Command `toml:"sass_lint" yaml:"sass_lint"`
	Mocha       Command `toml:"mocha" yaml:"mocha"`
	Karma       Command `toml:"karma" yaml:"karma"`
	Webpack     Command `toml:"webpack" yaml:"webpack"`
	SVGSprite   Command `toml:"svg_sprite" yaml:"svg_sprite"`
	Flake8      Command `toml:"flake8" yaml:"flake8"`
	Pytest      Command `toml:"pytest" yaml:"pytest"`
	Runserver   Command `toml:"runserver" yaml:"runserver"`
	BrowserSync Command `toml:"browser_sync" yaml:"browser_sync"`
}

// Trigger re-runs a task when a file matching one of its patterns changes.
type Trigger struct {
	Name     string   `toml:"name" yaml:"name"`
	Patterns []string `toml:"patterns" yaml:"patterns"`
	Task     string   `toml:"task" yaml:"task"`

	// RuleFile marks lint rule files, which are parsed as YAML before the
	// task runs so syntax errors are reported up front.
	RuleFile bool `toml:"rule_file" yaml:"rule_file"`
}

// Watch configures the watch session.
type Watch struct {
	Triggers []Trigger `toml:"triggers" yaml:"triggers"`

	// Ignore lists gitignore-style patterns the watchers never descend into.
	Ignore []string `toml:"ignore" yaml:"ignore"`

	// Gitignore adds the workspace .gitignore to the ignore patterns.
	Gitignore bool `toml:"gitignore" yaml:"gitignore"`

	// MaxWatches caps the directories each watcher registers. 0 is unlimited.
	MaxWatches int `toml:"max_watches" yaml:"max_watches"`

	// BufferSize is the event buffer of each watcher.
	BufferSize int `toml:"buffer_size" yaml:"buffer_size"`
}

// Bundle configures the module bundler.
type Bundle struct {
	// Production selects the production profile. Set by NODE_ENV=production.
	Production bool `toml:"production" yaml:"production"`

	// AssetsJSONDir overrides where the asset manifest is written. Set by
	// TD_ASSETS_JSON_DIR. Defaults to the output directory.
	AssetsJSONDir string `toml:"assets_json_dir" yaml:"assets_json_dir"`

	Config     string `toml:"config" yaml:"config"`
	ProdConfig string `toml:"prod_config" yaml:"prod_config"`
	Manifest   string `toml:"manifest" yaml:"manifest"`
}

// Environment configures the startup precondition check.
type Environment struct {
	// PackageJSON holds the engines.node version pin.
	PackageJSON string `toml:"package_json" yaml:"package_json"`

	SkipNodeCheck bool `toml:"skip_node_check" yaml:"skip_node_check"`
}

// Shutdown configures process teardown.
type Shutdown struct {
	// Grace is how long children get to exit after SIGTERM before they
	// are killed.
	Grace Duration `toml:"grace" yaml:"grace"`
}

// Logging configures the logger.
type Logging struct {
	Level   string `toml:"level" yaml:"level"`
	NoColor bool   `toml:"no_color" yaml:"no_color"`
}

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration for the standard repository layout.
func Default() *Config {
	return &Config{
		Paths: Paths{
			SrcTemplatesDir: "templates/",
			SrcJSDir:        "static/js/",
			JSTestsDir:      "test/js/",
			SassTestsDir:    "test/sass/",
			SassDir:         "static/sass/",
			SrcPyDir:        "src/",
			PyTestsDir:      "src/**/tests/",
			IconsDir:        "templates/icons/",
			DistDir:         "static/dist/",
			Ignore:          []string{"!**/.#*", "!**/flycheck_*"},
		},
		Tools: Tools{
			Node:      Command{"node"},
			ESLint:    Command{"node_modules/.bin/eslint", "--format", "stylish"},
			SassLint:  Command{"node_modules/.bin/sass-lint", "--verbose", "--no-exit", "--format", "stylish"},
			Mocha:     Command{"node_modules/.bin/mocha", "--reporter", "dot"},
			Karma:     Command{"node_modules/.bin/karma", "start", "karma.common.conf.js"},
			Webpack:   Command{"node_modules/.bin/webpack", "--color"},
			SVGSprite: Command{"node_modules/.bin/svg-sprite", "--symbol", "--symbol-inline"},
			Flake8:    Command{"flake8"},
			Pytest:    Command{"py.test"},
			Runserver: Command{"src/manage.py", "runserver"},
			BrowserSync: Command{
				"node_modules/.bin/browser-sync", "start",
				"--proxy", "localhost:8000",
				"--files", "static/dist/**/*",
				"--files", "src/**/*.py",
				"--no-open", "--no-notify", "--no-ghost-mode", "--no-inject-changes",
				"--reload-delay", "300",
				"--reload-throttle", "500",
				"--logLevel", "info",
				"--logPrefix", "color_seasons",
			},
		},
		Watch: Watch{
			Triggers: []Trigger{
				{Name: "eslint-rules", Patterns: []string{"**/.eslintrc.yml"}, Task: "eslint-nofail", RuleFile: true},
				{Name: "sass-lint-rules", Patterns: []string{"**/.sass-lint.yml"}, Task: "sasslint-nofail", RuleFile: true},
				{
					Name: "sprites",
					Patterns: []string{
						"templates/icons/**/*.svg",
						"templates/_icon_template.lodash",
						"STYLEGUIDE.md",
					},
					Task: "webpack",
				},
			},
			Ignore:     []string{"static/dist/", "jscache/", "jscov/", "htmlcov/"},
			Gitignore:  true,
			BufferSize: 256,
		},
		Bundle: Bundle{
			Config:     "webpack.config.js",
			ProdConfig: "webpack.prod.config.js",
			Manifest:   "webpack-assets.json",
		},
		Environment: Environment{
			PackageJSON: "package.json",
		},
		Shutdown: Shutdown{
			Grace: Duration{5 * time.Second},
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Abs resolves a workspace-relative path against Root.
func (c *Config) Abs(rel string) string {
	if filepath.IsAbs(rel) || c.Root == "" {
		return rel
	}
	return filepath.Join(c.Root, filepath.FromSlash(rel))
}

// OutputDir is the bundler's output parent directory, relative to Root.
// Production builds go to a separate min/ directory.
func (b Bundle) OutputDir(paths Paths) string {
	if b.Production {
		return path.Join(paths.DistDir, "min")
	}
	return path.Clean(paths.DistDir)
}

// ManifestPath is the location of the asset manifest, relative to Root
// unless AssetsJSONDir is absolute.
func (b Bundle) ManifestPath(paths Paths) string {
	dir := b.AssetsJSONDir
	if dir == "" {
		dir = b.OutputDir(paths)
	}
	return filepath.Join(dir, b.Manifest)
}

// SpritePath is the generated icon sprite.
func (p Paths) SpritePath() string {
	return path.Join(p.SrcTemplatesDir, "_icons.svg")
}

// SassTestEntry is the mocha entry point for the Sass tests.
func (p Paths) SassTestEntry() string {
	return path.Join(p.SassTestsDir, "test_sass.js")
}
