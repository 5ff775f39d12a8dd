package process

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Alerter is notified whenever a command fails.
type Alerter interface {
	Alert(reason string)
}

// Bell rings the terminal bell and logs a warning.
type Bell struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

// NewBell creates a Bell writing to out. A nil out means os.Stderr.
func NewBell(out io.Writer, logger *slog.Logger) *Bell {
	if out == nil {
		out = os.Stderr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bell{out: out, logger: logger}
}

// Alert implements Alerter.
func (b *Bell) Alert(reason string) {
	b.mu.Lock()
	_, _ = io.WriteString(b.out, "\a")
	b.mu.Unlock()
	b.logger.Debug("alert", slog.String("reason", reason))
}

// AlertFunc adapts a function to the Alerter interface.
type AlertFunc func(reason string)

// Alert implements Alerter.
func (f AlertFunc) Alert(reason string) { f(reason) }
