package problem

import "testing"

func TestMatcher_ESLintStylish(t *testing.T) {
	r := NewRegistry()
	m := r.Get(ESLintStylish)
	if m == nil {
		t.Fatal("eslint-stylish matcher not registered")
	}

	output := `
/repo/static/js/app/init.js
  3:10  error    'foo' is defined but never used  no-unused-vars
  7:1   warning  Unexpected console statement      no-console

/repo/static/js/raven.js
  1:1  error  Missing "use strict" statement  strict

✖ 3 problems (2 errors, 1 warning)
`
	problems := m.Scan(output)
	if len(problems) != 3 {
		t.Fatalf("Scan() found %d problems, want 3", len(problems))
	}

	first := problems[0]
	if first.File != "/repo/static/js/app/init.js" {
		t.Errorf("File = %q, want init.js header", first.File)
	}
	if first.Line != 3 || first.Column != 10 {
		t.Errorf("position = %d:%d, want 3:10", first.Line, first.Column)
	}
	if first.Code != "no-unused-vars" {
		t.Errorf("Code = %q, want no-unused-vars", first.Code)
	}
	if problems[1].Severity != SeverityWarning {
		t.Errorf("Severity = %q, want warning", problems[1].Severity)
	}
	if problems[2].File != "/repo/static/js/raven.js" {
		t.Errorf("File = %q, want raven.js header", problems[2].File)
	}

	s := Summarize(problems)
	if s.Errors != 2 || s.Warnings != 1 {
		t.Errorf("Summarize() = %+v, want 2 errors 1 warning", s)
	}
	if got, want := s.String(), "3 problems (2 errors, 1 warning)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMatcher_Flake8(t *testing.T) {
	m := NewRegistry().Get(Flake8)

	tests := []struct {
		line     string
		ok       bool
		severity Severity
		code     string
	}{
		{"src/color_seasons/views.py:12:1: E302 expected 2 blank lines, found 1", true, SeverityError, "E302"},
		{"src/color_seasons/models.py:4:1: F401 'os' imported but unused", true, SeverityError, "F401"},
		{"src/color_seasons/admin.py:9:80: W291 trailing whitespace", true, SeverityWarning, "W291"},
		{"src/color_seasons/admin.py:2:1: C901 'f' is too complex (12)", true, SeverityWarning, "C901"},
		{"1     E302 expected 2 blank lines", false, "", ""},
	}

	for _, tt := range tests {
		p, ok := m.Match(tt.line)
		if ok != tt.ok {
			t.Errorf("Match(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if p.Severity != tt.severity || p.Code != tt.code {
			t.Errorf("Match(%q) = %s/%s, want %s/%s", tt.line, p.Severity, p.Code, tt.severity, tt.code)
		}
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Definition{Name: "broken", Patterns: []Pattern{{Pattern: "("}}})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
	if r.Get("broken") != nil {
		t.Error("invalid matcher should not be registered")
	}
}

func TestSummary_String(t *testing.T) {
	tests := []struct {
		s    Summary
		want string
	}{
		{Summary{}, "0 problems (0 errors, 0 warnings)"},
		{Summary{Errors: 1}, "1 problem (1 error, 0 warnings)"},
		{Summary{Warnings: 2, Infos: 1}, "3 problems (0 errors, 2 warnings)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
