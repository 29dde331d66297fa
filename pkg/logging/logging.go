// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger provides structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// Field represents a key-value pair in structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// NewField creates a new field.
func NewField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// loggerImpl is the default logger implementation, backed by zerolog.
type loggerImpl struct {
	base zerolog.Logger
}

// NewLogger creates a new logger writing to os.Stdout.
// If verbose is true, Debug level logs are shown.
func NewLogger(verbose bool) Logger {
	return newLogger(os.Stdout, verbose)
}

// NewWriterLogger creates a new logger writing to an arbitrary writer,
// useful for tests that need to inspect emitted lines.
func NewWriterLogger(w io.Writer, verbose bool) Logger {
	return newLogger(w, verbose)
}

func newLogger(w io.Writer, verbose bool) Logger {
	level := LevelInfo
	if verbose {
		level = LevelDebug
	}
	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &loggerImpl{base: zl}
}

func (l *loggerImpl) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields...) }
func (l *loggerImpl) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields...) }
func (l *loggerImpl) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields...) }
func (l *loggerImpl) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields...) }

// WithFields returns a new logger carrying the given fields on every
// subsequent call, in addition to any fields passed at the call site.
func (l *loggerImpl) WithFields(fields ...Field) Logger {
	ctx := l.base.With()
	for _, f := range fields {
		ctx = applyField(ctx, f)
	}
	return &loggerImpl{base: ctx.Logger()}
}

func (l *loggerImpl) log(level Level, msg string, fields ...Field) {
	ev := eventFor(l.base, level)
	for _, f := range fields {
		ev = applyEventField(ev, f)
	}
	ev.Msg(msg)
}

func eventFor(l zerolog.Logger, level Level) *zerolog.Event {
	switch level {
	case LevelDebug:
		return l.Debug()
	case LevelWarn:
		return l.Warn()
	case LevelError:
		return l.Error()
	default:
		return l.Info()
	}
}

func applyField(ctx zerolog.Context, f Field) zerolog.Context {
	switch v := f.Value.(type) {
	case string:
		return ctx.Str(f.Key, v)
	case int:
		return ctx.Int(f.Key, v)
	case int64:
		return ctx.Int64(f.Key, v)
	case bool:
		return ctx.Bool(f.Key, v)
	case time.Duration:
		return ctx.Dur(f.Key, v)
	case time.Time:
		return ctx.Time(f.Key, v)
	case error:
		return ctx.AnErr(f.Key, v)
	default:
		return ctx.Interface(f.Key, v)
	}
}

func applyEventField(ev *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return ev.Str(f.Key, v)
	case int:
		return ev.Int(f.Key, v)
	case int64:
		return ev.Int64(f.Key, v)
	case bool:
		return ev.Bool(f.Key, v)
	case time.Duration:
		return ev.Dur(f.Key, v)
	case time.Time:
		return ev.Time(f.Key, v)
	case error:
		return ev.AnErr(f.Key, v)
	default:
		return ev.Interface(f.Key, v)
	}
}
