// Package logging wraps the standard library's log package with a
// per-component prefix, matching the plain stderr logging used throughout
// the reference daemon rather than introducing a structured logging
// dependency the rest of the stack doesn't use.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger is a thin, leveled wrapper around *log.Logger.
type Logger struct {
	l *log.Logger
}

// New returns a Logger that prefixes every line with "[component] ",
// writing to stderr so stdout stays free for CLI JSON output.
func New(component string) *Logger {
	return NewWithWriter(os.Stderr, component)
}

// NewWithWriter is New with an explicit destination, for tests.
func NewWithWriter(w io.Writer, component string) *Logger {
	return &Logger{l: log.New(w, "["+component+"] ", log.LstdFlags)}
}

// Infof logs an informational line.
func (lg *Logger) Infof(format string, args ...any) {
	lg.l.Printf(format, args...)
}

// Warnf logs a warning line.
func (lg *Logger) Warnf(format string, args ...any) {
	lg.l.Printf("WARN "+format, args...)
}

// Errorf logs an error line.
func (lg *Logger) Errorf(format string, args ...any) {
	lg.l.Printf("ERROR "+format, args...)
}
