package log

import "context"

// NopLogger discards all log events. Useful as a nil-safe default.
type NopLogger struct{}

// Compile-time assertion: NopLogger implements Logger.
var _ Logger = NopLogger{}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return NopLogger{}
}

// Log discards the event.
func (NopLogger) Log(context.Context, Level, string, ...Field) {}

// With returns the same discarding logger.
func (n NopLogger) With(...Field) Logger { return n }

// Enabled always reports false.
func (NopLogger) Enabled(Level) bool { return false }

// Sync is a no-op.
func (NopLogger) Sync(context.Context) error { return nil }
