package logging

import "github.com/feedflow/cfp/internal/types"

// NopLogger implements types.Logger with no-op methods.
type NopLogger struct{}

var _ types.Logger = (*NopLogger)(nil)

// NewNop creates a new no-op logger.
func NewNop() *NopLogger {
	return &NopLogger{}
}

func (l *NopLogger) Debug(msg string, keysAndValues ...any) {}
func (l *NopLogger) Info(msg string, keysAndValues ...any)  {}
func (l *NopLogger) Warn(msg string, keysAndValues ...any)  {}
func (l *NopLogger) Error(msg string, keysAndValues ...any) {}
