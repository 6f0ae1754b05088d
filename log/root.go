// Copyright 2023 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var root atomic.Value

func init() {
	root.Store(&logger{slog.New(DiscardHandler())})
}

// SetDefault replaces the root logger and, for loggers of this package, the
// slog default as well.
// SetDefault 替换根日志记录器；对于本包的日志记录器，同时替换 slog 的默认记录器。
func SetDefault(l Logger) {
	root.Store(l)
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

// Root returns the root logger.
func Root() Logger {
	return root.Load().(Logger)
}

// emit keeps the recorded call site at the caller of the package level helper.
func emit(level slog.Level, msg string, ctx ...any) {
	if l, ok := Root().(*logger); ok {
		l.write(4, level, msg, ctx...)
		return
	}
	Root().Log(level, msg, ctx...)
}

// Trace logs a message at the trace level on the root logger.
//
//	log.Trace("Wrote chunk", "index", 1, "size", 128)
func Trace(msg string, ctx ...any) { emit(LevelTrace, msg, ctx...) }

// Debug logs a message at the debug level on the root logger.
func Debug(msg string, ctx ...any) { emit(LevelDebug, msg, ctx...) }

// Info logs a message at the info level on the root logger.
func Info(msg string, ctx ...any) { emit(LevelInfo, msg, ctx...) }

// Warn logs a message at the warn level on the root logger.
func Warn(msg string, ctx ...any) { emit(LevelWarn, msg, ctx...) }

// Error logs a message at the error level on the root logger.
func Error(msg string, ctx ...any) { emit(LevelError, msg, ctx...) }

// Crit logs a message at the crit level on the root logger, then exits.
func Crit(msg string, ctx ...any) {
	emit(LevelCrit, msg, ctx...)
	os.Exit(1)
}

// New returns a new logger with the given context, derived from the root.
//
//	log.New("device", "jade", "conn", id)
func New(ctx ...any) Logger {
	return Root().New(ctx...)
}
