package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// LogLevels are the accepted values of logging.level.
var LogLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate checks the configuration and returns every problem found,
// joined. Each problem is a *ValidationError.
func (c *Config) Validate() error {
	var errs []error
	add := func(path, msg string, value any, code ValidationErrorCode) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value, Code: code})
	}

	dirs := []struct {
		path  string
		value string
	}{
		{"paths.src_templates_dir", c.Paths.SrcTemplatesDir},
		{"paths.src_js_dir", c.Paths.SrcJSDir},
		{"paths.js_tests_dir", c.Paths.JSTestsDir},
		{"paths.sass_tests_dir", c.Paths.SassTestsDir},
		{"paths.sass_dir", c.Paths.SassDir},
		{"paths.src_py_dir", c.Paths.SrcPyDir},
		{"paths.py_tests_dir", c.Paths.PyTestsDir},
		{"paths.icons_dir", c.Paths.IconsDir},
		{"paths.dist_dir", c.Paths.DistDir},
	}
	for _, d := range dirs {
		switch {
		case d.value == "":
			add(d.path, "must not be empty", d.value, ErrCodeRequiredMissing)
		case !strings.HasSuffix(d.value, "/"):
			add(d.path, "must end with a slash", d.value, ErrCodePatternMismatch)
		case strings.HasPrefix(d.value, "/"):
			add(d.path, "must be relative to the workspace", d.value, ErrCodePatternMismatch)
		case !doublestar.ValidatePattern(d.value + "x"):
			add(d.path, "is not a valid glob prefix", d.value, ErrCodePatternMismatch)
		}
	}
	for i, p := range c.Paths.Ignore {
		if !strings.HasPrefix(p, "!") || !doublestar.ValidatePattern(p[1:]) {
			add(fmt.Sprintf("paths.ignore[%d]", i), "must be a negated glob such as !**/.#*", p, ErrCodePatternMismatch)
		}
	}

	tools := reflect.ValueOf(c.Tools)
	for i := 0; i < tools.NumField(); i++ {
		cmd := tools.Field(i).Interface().(Command)
		if cmd.Name() == "" {
			tag := tools.Type().Field(i).Tag.Get("toml")
			add("tools."+tag, "command must not be empty", cmd, ErrCodeRequiredMissing)
		}
	}

	for i, tr := range c.Watch.Triggers {
		path := fmt.Sprintf("watch.triggers[%d]", i)
		if tr.Task == "" {
			add(path+".task", "must name a task", tr.Task, ErrCodeRequiredMissing)
		}
		if len(tr.Patterns) == 0 {
			add(path+".patterns", "must not be empty", tr.Patterns, ErrCodeRequiredMissing)
		}
		for _, p := range tr.Patterns {
			if !doublestar.ValidatePattern(p) {
				add(path+".patterns", "invalid glob", p, ErrCodePatternMismatch)
			}
		}
	}

	if c.Watch.MaxWatches < 0 {
		add("watch.max_watches", "must not be negative", c.Watch.MaxWatches, ErrCodeOutOfRange)
	}
	if c.Watch.BufferSize < 0 {
		add("watch.buffer_size", "must not be negative", c.Watch.BufferSize, ErrCodeOutOfRange)
	}

	if c.Bundle.Manifest == "" {
		add("bundle.manifest", "must not be empty", c.Bundle.Manifest, ErrCodeRequiredMissing)
	}

	if c.Shutdown.Grace.Duration < 0 {
		add("shutdown.grace", "must not be negative", c.Shutdown.Grace, ErrCodeOutOfRange)
	}

	if !validLevel(c.Logging.Level) {
		add("logging.level", "must be one of "+strings.Join(LogLevels, ", "), c.Logging.Level, ErrCodeInvalidEnum)
	}

	return errors.Join(errs...)
}

func validLevel(level string) bool {
	level = strings.ToLower(strings.TrimSpace(level))
	for _, l := range LogLevels {
		if level == l {
			return true
		}
	}
	return false
}
