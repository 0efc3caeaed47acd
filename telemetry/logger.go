// Package telemetry wraps go.uber.org/zap the way the teacher wraps its own
// ad hoc Debug() string builders (pia6532.Chip.Debug, tia.Chip.Debug): a
// gated conditional that costs nothing when debugging is off, except here
// the gate is zap's own level check instead of a hand-rolled bool. Messages
// are logged as a single fmt.Sprintf-formatted string, not structured fields.
package telemetry

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger wraps a *zap.SugaredLogger with the teacher's conditional-Debug
// idiom: Debug builds and emits its message only if debug-level logging is
// actually enabled, avoiding the Sprintf cost otherwise (spec.md's ambient
// logging concern, not a named component).
type Logger struct {
	z *zap.SugaredLogger
}

// New wraps z. Pass zap.NewNop() in tests that don't care about output.
func New(z *zap.Logger) *Logger {
	return &Logger{z: z.Sugar()}
}

// Debug mirrors the teacher's Chip.Debug(): formats and logs only if the
// underlying core has debug logging enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.z.Desugar().Core().Enabled(zap.DebugLevel) {
		l.z.Debug(fmt.Sprintf(format, args...))
	}
}

// Warn always logs; used for non-fatal conditions like deadlock suspicion
// (spec.md §7).
func (l *Logger) Warn(format string, args ...interface{}) {
	l.z.Warn(fmt.Sprintf(format, args...))
}

// Info always logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.z.Info(fmt.Sprintf(format, args...))
}

// Error always logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.z.Error(fmt.Sprintf(format, args...))
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }
