package logger

import (
	"log"
	"log/slog"
	"strings"
)

// New returns a *log.Logger whose lines are forwarded to base as info
// records tagged with the component, for libraries that only accept a
// Printf-style logger.
func New(component string, base *slog.Logger) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	return log.New(&writer{log: base.With("component", component)}, "", 0)
}

type writer struct {
	log *slog.Logger
}

func (w *writer) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.log.Info(msg)
	}
	return len(p), nil
}
