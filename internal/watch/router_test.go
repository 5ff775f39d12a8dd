package watch

import (
	"reflect"
	"testing"

	"github.com/colorseasons/buildpipe/internal/config"
	"github.com/colorseasons/buildpipe/internal/project/pathset"
	"github.com/colorseasons/buildpipe/internal/project/watcher"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	cfg := config.Default()
	sets, err := pathset.Compute(cfg.Paths)
	if err != nil {
		t.Fatalf("Compute error = %v", err)
	}
	r, err := NewRouter(sets, cfg.Watch.Triggers)
	if err != nil {
		t.Fatalf("NewRouter error = %v", err)
	}
	return r
}

func TestRouter_Classify(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		path string
		want pathset.Name
		ok   bool
	}{
		{"static/js/init.js", pathset.SourceJS, true},
		{"static/js/app/views/list.js", pathset.SourceJS, true},
		{"test/js/test_list.js", pathset.AllJS, true},
		{"test/sass/test_sass.js", pathset.AllJS, true},
		{"webpack.config.js", pathset.AllJS, true},
		{"src/color_seasons/views.py", pathset.SourcePython, true},
		{"src/color_seasons/tests/test_views.py", pathset.SourcePython, true},
		{"static/sass/_buttons.scss", pathset.Sass, true},
		{"test/sass/_helpers.scss", pathset.Sass, true},
		{"static/js/vendor/jquery.js", "", false},
		{"README.md", "", false},
		// Exclusions win over matching inclusions.
		{"static/js/.#init.js", "", false},
		{"static/js/app/flycheck_list.js", "", false},
		{"src/color_seasons/flycheck_views.py", "", false},
		{"static/sass/.#_buttons.scss", "", false},
	}

	for _, tt := range tests {
		got, ok := r.Classify(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Classify(%q) = (%q, %v), want (%q, %v)", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRouter_Companion(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"src/a/b/c.py", "src/a/b/tests/c.py", true},
		{"src/manage.py", "src/tests/manage.py", true},
		{"src/a/tests/test_c.py", "src/a/tests/test_c.py", true},
		{"src/a/tests/unit/test_c.py", "src/a/tests/unit/test_c.py", true},
		{"static/js/init.js", "", false},
		{"src/a/flycheck_c.py", "", false},
	}

	for _, tt := range tests {
		got, ok := r.Companion(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Companion(%q) = (%q, %v), want (%q, %v)", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRouter_Route(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name string
		ev   ChangeEvent
		want []Dispatch
	}{
		{
			name: "sass change lints the file and reruns the sass tests",
			ev:   ChangeEvent{Path: "static/sass/_buttons.scss", Kind: Changed},
			want: []Dispatch{
				{Kind: LintFile, Set: pathset.Sass, Path: "static/sass/_buttons.scss"},
				{Kind: RunTask, Task: SassTestTask, Path: "static/sass/_buttons.scss"},
			},
		},
		{
			name: "js source added",
			ev:   ChangeEvent{Path: "static/js/app/list.js", Kind: Added},
			want: []Dispatch{{Kind: LintFile, Set: pathset.SourceJS, Path: "static/js/app/list.js"}},
		},
		{
			name: "js test changed",
			ev:   ChangeEvent{Path: "test/js/test_list.js", Kind: Changed},
			want: []Dispatch{{Kind: LintFile, Set: pathset.AllJS, Path: "test/js/test_list.js"}},
		},
		{
			name: "python source",
			ev:   ChangeEvent{Path: "src/a/b/c.py", Kind: Changed},
			want: []Dispatch{
				{Kind: RunTask, Task: Flake8Task, Path: "src/a/b/c.py"},
				{Kind: TestFile, Set: pathset.SourcePython, Path: "src/a/b/tests/c.py"},
			},
		},
		{
			name: "python test",
			ev:   ChangeEvent{Path: "src/a/tests/test_c.py", Kind: Changed},
			want: []Dispatch{
				{Kind: RunTask, Task: Flake8Task, Path: "src/a/tests/test_c.py"},
				{Kind: TestFile, Set: pathset.SourcePython, Path: "src/a/tests/test_c.py"},
			},
		},
		{
			name: "eslint rule file",
			ev:   ChangeEvent{Path: ".eslintrc.yml", Kind: Changed},
			want: []Dispatch{{Kind: RunTask, Task: "eslint-nofail", Path: ".eslintrc.yml", RuleFile: true}},
		},
		{
			name: "nested sass-lint rule file",
			ev:   ChangeEvent{Path: "static/sass/.sass-lint.yml", Kind: Changed},
			want: []Dispatch{{Kind: RunTask, Task: "sasslint-nofail", Path: "static/sass/.sass-lint.yml", RuleFile: true}},
		},
		{
			name: "icon source",
			ev:   ChangeEvent{Path: "templates/icons/star.svg", Kind: Added},
			want: []Dispatch{{Kind: RunTask, Task: "webpack", Path: "templates/icons/star.svg"}},
		},
		{
			name: "styleguide",
			ev:   ChangeEvent{Path: "STYLEGUIDE.md", Kind: Changed},
			want: []Dispatch{{Kind: RunTask, Task: "webpack", Path: "STYLEGUIDE.md"}},
		},
		{
			name: "removal does nothing",
			ev:   ChangeEvent{Path: "static/js/init.js", Kind: Removed},
			want: nil,
		},
		{
			name: "unclassified",
			ev:   ChangeEvent{Path: "README.md", Kind: Changed},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Route(tt.ev)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Route(%+v) = %+v, want %+v", tt.ev, got, tt.want)
			}
		})
	}
}

func TestRouter_SassRouteRunsNoJSOrPython(t *testing.T) {
	r := newTestRouter(t)

	for _, d := range r.Route(ChangeEvent{Path: "static/sass/_buttons.scss", Kind: Changed}) {
		if d.Task == Flake8Task || d.Kind == TestFile {
			t.Errorf("sass change dispatched Python work: %v", d)
		}
		if d.Set == pathset.SourceJS || d.Set == pathset.AllJS {
			t.Errorf("sass change dispatched JS work: %v", d)
		}
	}
}

func TestNewRouter_InvalidTrigger(t *testing.T) {
	triggers := []config.Trigger{{Name: "bad", Patterns: []string{"templates/[icons"}, Task: "webpack"}}
	if _, err := NewRouter(nil, triggers); err == nil {
		t.Error("expected error for invalid trigger pattern")
	}
}

func TestFromWatcherEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   watcher.Event
		want ChangeEvent
		ok   bool
	}{
		{"create", watcher.Event{Rel: "a.js", Op: watcher.OpCreate}, ChangeEvent{"a.js", Added}, true},
		{"write", watcher.Event{Rel: "a.js", Op: watcher.OpWrite}, ChangeEvent{"a.js", Changed}, true},
		{"remove", watcher.Event{Rel: "a.js", Op: watcher.OpRemove}, ChangeEvent{"a.js", Removed}, true},
		{"rename", watcher.Event{Rel: "a.js", Op: watcher.OpRename}, ChangeEvent{"a.js", Removed}, true},
		{"create and write", watcher.Event{Rel: "a.js", Op: watcher.OpCreate | watcher.OpWrite}, ChangeEvent{"a.js", Added}, true},
		{"chmod", watcher.Event{Rel: "a.js", Op: watcher.OpChmod}, ChangeEvent{}, false},
		{"outside root", watcher.Event{Path: "/tmp/a.js", Op: watcher.OpWrite}, ChangeEvent{}, false},
	}

	for _, tt := range tests {
		got, ok := FromWatcherEvent(tt.ev)
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: FromWatcherEvent = (%+v, %v), want (%+v, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestKindStrings(t *testing.T) {
	if Added.String() != "added" || Changed.String() != "changed" || Removed.String() != "removed" {
		t.Error("unexpected ChangeKind names")
	}
	d := Dispatch{Kind: RunTask, Task: "sasstest", Path: "static/sass/_a.scss"}
	if got := d.String(); got != "run-task sasstest (static/sass/_a.scss)" {
		t.Errorf("Dispatch.String() = %q", got)
	}
}
