// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package logger sets up structured logging and carries the logger in a
// [context.Context].
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logf is the basic logger type: a printf-like func. Like [log.Printf], the
// format need not end in a newline. Logf functions must be safe for concurrent
// use.
type Logf func(format string, args ...any)

// Write implements the [io.Writer] interface.
func (f Logf) Write(p []byte) (n int, err error) {
	f("%s", p)
	return len(p), nil
}

// Logger is a [slog.Logger] with an adjustable level.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
}

// Format selects the output format of a [Logger].
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New returns a Logger that writes to w in the given format at info level.
func New(w io.Writer, format Format) *Logger {
	level := new(slog.LevelVar)
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h), Level: level}
}

// Logf returns a printf-like function that logs at info level.
func (l *Logger) Logf() Logf {
	return func(format string, args ...any) {
		l.Info(fmt.Sprintf(format, args...))
	}
}

// ParseLevel parses a level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

type ctxKey struct{}

// Put returns a copy of ctx carrying l.
func Put(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Get returns the Logger stored in ctx. If there is none, it returns a Logger
// wrapping [slog.Default].
func Get(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
		return l
	}
	level := new(slog.LevelVar)
	return &Logger{Logger: slog.Default(), Level: level}
}
