package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"WARNING", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func handle(t *testing.T, h slog.Handler, level slog.Level, msg string, attrs ...slog.Attr) {
	t.Helper()
	r := slog.NewRecord(time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC), level, msg, 0)
	r.AddAttrs(attrs...)
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle error = %v", err)
	}
}

func TestConsoleHandler_Format(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
		msg   string
		attrs []slog.Attr
		want  string
	}{
		{"info has no label", slog.LevelInfo, "Starting 'eslint'...", nil,
			"[14:05:09] Starting 'eslint'...\n"},
		{"warn label", slog.LevelWarn, "watcher error", []slog.Attr{slog.String("error", "too many open files")},
			"[14:05:09] WARN watcher error error=\"too many open files\"\n"},
		{"error label", slog.LevelError, "failed", []slog.Attr{slog.Int("code", 2)},
			"[14:05:09] ERROR failed code=2\n"},
		{"debug label", slog.LevelDebug, "spawn", []slog.Attr{slog.String("command", "true")},
			"[14:05:09] DEBUG spawn command=true\n"},
		{"empty value quoted", slog.LevelInfo, "x", []slog.Attr{slog.String("k", "")},
			"[14:05:09] x k=\"\"\n"},
		{"group attr", slog.LevelInfo, "x", []slog.Attr{slog.Group("req", slog.String("id", "7"))},
			"[14:05:09] x req.id=7\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := NewConsoleHandler(&buf, &ConsoleOptions{Level: slog.LevelDebug, NoColor: true})
			handle(t, h, tt.level, tt.msg, tt.attrs...)
			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConsoleHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf, &ConsoleOptions{NoColor: true}).
		WithAttrs([]slog.Attr{slog.String("task", "webpack")}).
		WithGroup("proc")

	handle(t, h, slog.LevelInfo, "exited", slog.Int("code", 0))

	want := "[14:05:09] exited task=webpack proc.code=0\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConsoleHandler_ZeroTime(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf, &ConsoleOptions{NoColor: true})
	if err := h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "plain", 0)); err != nil {
		t.Fatalf("Handle error = %v", err)
	}
	if got := buf.String(); got != "plain\n" {
		t.Errorf("output = %q, want %q", got, "plain\n")
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn, true)

	logger.Info("hidden")
	logger.Debug("hidden too")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("output contains filtered lines: %q", out)
	}
	if !strings.Contains(out, "WARN shown") {
		t.Errorf("output = %q, want a WARN line", out)
	}
}
