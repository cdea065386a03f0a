package journal

import "log"

// Logger receives journal diagnostics events. The production wiring adapts a
// structured logger onto this; the default falls back to the stdlib log
// package so library users get diagnostics without any setup.
type Logger interface {
	Log(level, msg string, fields map[string]any)
}

type defaultLogger struct{}

func (defaultLogger) Log(level, msg string, fields map[string]any) {
	log.Printf("journal [%s] %s %v", level, msg, fields)
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Log(string, string, map[string]any) {}
