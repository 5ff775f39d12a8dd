// Package app wires the build pipeline together: configuration, the task
// graph, the process runner and the watch session.
package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// ParseLogLevel parses a level name. Names are case-insensitive and
// "warning" is accepted for "warn".
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ConsoleOptions configures a ConsoleHandler.
type ConsoleOptions struct {
	// Level is the minimum level written. Defaults to info.
	Level slog.Leveler

	// NoColor disables ANSI styling.
	NoColor bool

	// TimeFormat is the timestamp layout. Defaults to "15:04:05".
	TimeFormat string
}

// ConsoleHandler writes build-log lines:
//
//	[15:04:05] Starting 'eslint'...
//	[15:04:05] WARN watcher error error="too many open files"
//
// Info lines carry no level label. Attributes follow the message as
// key=value pairs, quoted when needed.
type ConsoleHandler struct {
	opts   ConsoleOptions
	mu     *sync.Mutex
	out    io.Writer
	attrs  string
	prefix string

	timeStyle  lipgloss.Style
	levelStyle map[slog.Level]lipgloss.Style
}

// NewConsoleHandler creates a handler writing to out.
func NewConsoleHandler(out io.Writer, opts *ConsoleOptions) *ConsoleHandler {
	h := &ConsoleHandler{mu: &sync.Mutex{}, out: out}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	if h.opts.TimeFormat == "" {
		h.opts.TimeFormat = time.TimeOnly
	}

	base := lipgloss.NewStyle()
	if h.opts.NoColor {
		h.timeStyle = base
		h.levelStyle = map[slog.Level]lipgloss.Style{
			slog.LevelDebug: base, slog.LevelWarn: base, slog.LevelError: base,
		}
	} else {
		h.timeStyle = base.Foreground(lipgloss.Color("8"))
		h.levelStyle = map[slog.Level]lipgloss.Style{
			slog.LevelDebug: base.Foreground(lipgloss.Color("5")),
			slog.LevelWarn:  base.Foreground(lipgloss.Color("3")).Bold(true),
			slog.LevelError: base.Foreground(lipgloss.Color("1")).Bold(true),
		}
	}
	return h
}

// Enabled implements slog.Handler.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle implements slog.Handler.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	if !r.Time.IsZero() {
		buf.WriteString("[" + h.timeStyle.Render(r.Time.Format(h.opts.TimeFormat)) + "] ")
	}
	if label := h.label(r.Level); label != "" {
		buf.WriteString(label + " ")
	}
	buf.WriteString(r.Message)
	buf.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var buf bytes.Buffer
	for _, a := range attrs {
		appendAttr(&buf, h.prefix, a)
	}
	c := *h
	c.attrs = h.attrs + buf.String()
	return &c
}

// WithGroup implements slog.Handler.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

// label returns the styled level label. Info has none.
func (h *ConsoleHandler) label(level slog.Level) string {
	var key slog.Level
	switch {
	case level >= slog.LevelError:
		key = slog.LevelError
	case level >= slog.LevelWarn:
		key = slog.LevelWarn
	case level >= slog.LevelInfo:
		return ""
	default:
		key = slog.LevelDebug
	}
	return h.levelStyle[key].Render(level.String())
}

func appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		group := prefix
		if a.Key != "" {
			group += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(buf, group, ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(prefix + a.Key)
	buf.WriteByte('=')
	buf.WriteString(quoteValue(a.Value.String()))
}

// quoteValue quotes values that are empty or contain spaces, quotes or
// control characters.
func quoteValue(s string) string {
	if s == "" {
		return `""`
	}
	for _, c := range s {
		if c <= ' ' || c == '"' || c == '=' || c == 0x7f {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

// NewLogger returns a logger writing build-log lines to out, os.Stderr when
// out is nil.
func NewLogger(out io.Writer, level slog.Level, noColor bool) *slog.Logger {
	if out == nil {
		out = os.Stderr
	}
	return slog.New(NewConsoleHandler(out, &ConsoleOptions{Level: level, NoColor: noColor}))
}
