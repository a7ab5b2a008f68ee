// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spanlog provides the logger type threaded through the span
// engine. The engine never reaches for a package-level logger; every
// component that needs to report progress or diagnostics is handed one
// of these explicitly.
package spanlog

import (
	"io"
	"log"
	"os"
)

// Logger is a thin wrapper around *log.Logger that lets callers pass a
// nil value and still get usable, silent behaviour.
type Logger struct {
	*log.Logger
}

// New returns a Logger writing to w with the given prefix.
func New(w io.Writer, prefix string) *Logger {
	return &Logger{log.New(w, prefix, log.LstdFlags)}
}

// Default returns a Logger writing to os.Stderr with no prefix, suitable
// for command-line tools.
func Default() *Logger {
	return New(os.Stderr, "")
}

// Discard returns a Logger that drops all output, for tests and library
// callers who have not provided one.
func Discard() *Logger {
	return New(io.Discard, "")
}

// Printf logs, tolerating a nil receiver.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Printf(format, args...)
}

// Println logs, tolerating a nil receiver.
func (l *Logger) Println(args ...any) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Println(args...)
}

// Warnf logs a warning, tolerating a nil receiver. Warnings are
// non-fatal diagnostics (§7 of the design: LowSignalToNoise and similar).
func (l *Logger) Warnf(format string, args ...any) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Printf("warning: "+format, args...)
}
