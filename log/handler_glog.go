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
	"context"
	"errors"
	"log/slog"
	"maps"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// errVmoduleSyntax is returned when a user vmodule pattern is invalid.
var errVmoduleSyntax = errors.New("expect comma-separated list of filename=N")

// GlogHandler is a log handler that mimics the filtering features of Google's
// glog logger: a global verbosity ceiling that can be raised for individual
// packages or files via callsite pattern matches.
// GlogHandler 模仿 Google glog 的过滤功能：全局详细级别上限，可通过调用点模式对单个包或文件提高。
type GlogHandler struct {
	origin slog.Handler

	level    atomic.Int32
	override atomic.Bool

	patterns  []pattern
	siteCache map[uintptr]slog.Level
	lock      sync.RWMutex
}

type pattern struct {
	pattern *regexp.Regexp
	level   slog.Level
}

// NewGlogHandler wraps a handler with glog style filtering.
func NewGlogHandler(h slog.Handler) *GlogHandler {
	return &GlogHandler{origin: h, siteCache: make(map[uintptr]slog.Level)}
}

// Verbosity sets the glog verbosity ceiling.
func (h *GlogHandler) Verbosity(level slog.Level) {
	h.level.Store(int32(level))
}

// Vmodule sets the glog verbosity pattern: a comma-separated list of
// pattern=N, where the pattern is a file name or package path suffix and N is
// a numeric verbosity. For instance
//
//	transport=5,ledger/client.go=4
//
// traces the whole transport package and debugs the ledger client.
func (h *GlogHandler) Vmodule(ruleset string) error {
	var filter []pattern
	for _, rule := range strings.Split(ruleset, ",") {
		if len(rule) == 0 {
			continue
		}
		file, lvl, ok := strings.Cut(rule, "=")
		file, lvl = strings.TrimSpace(file), strings.TrimSpace(lvl)
		if !ok || file == "" || lvl == "" {
			return errVmoduleSyntax
		}
		l, err := strconv.Atoi(lvl)
		if err != nil {
			return errVmoduleSyntax
		}
		level := FromLegacyLevel(l)
		if level == LevelCrit {
			continue
		}
		matcher := ".*"
		for _, comp := range strings.Split(file, "/") {
			if comp == "*" {
				matcher += "(/.*)?"
			} else if comp != "" {
				matcher += "/" + regexp.QuoteMeta(comp)
			}
		}
		if !strings.HasSuffix(file, ".go") {
			matcher += "/[^/]+\\.go"
		}
		filter = append(filter, pattern{regexp.MustCompile(matcher + "$"), level})
	}
	h.lock.Lock()
	defer h.lock.Unlock()

	h.patterns = filter
	h.siteCache = make(map[uintptr]slog.Level)
	h.override.Store(len(filter) != 0)
	return nil
}

// Enabled implements slog.Handler.
func (h *GlogHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.override.Load() || slog.Level(h.level.Load()) <= lvl
}

// WithAttrs implements slog.Handler.
func (h *GlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.lock.RLock()
	res := &GlogHandler{
		origin:    h.origin.WithAttrs(attrs),
		patterns:  append([]pattern{}, h.patterns...),
		siteCache: maps.Clone(h.siteCache),
	}
	h.lock.RUnlock()

	res.level.Store(h.level.Load())
	res.override.Store(h.override.Load())
	return res
}

// WithGroup implements slog.Handler. Groups are not supported and ignored.
func (h *GlogHandler) WithGroup(name string) slog.Handler {
	return h
}

// Handle implements slog.Handler, emitting the record if either the global
// level or a matching callsite rule allows it.
func (h *GlogHandler) Handle(_ context.Context, r slog.Record) error {
	if slog.Level(h.level.Load()) <= r.Level {
		return h.origin.Handle(context.Background(), r)
	}
	h.lock.RLock()
	lvl, ok := h.siteCache[r.PC]
	h.lock.RUnlock()

	if !ok {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()

		h.lock.Lock()
		// Records of files matching no rule are dropped from then on.
		lvl = LevelCrit + 1
		for _, rule := range h.patterns {
			if rule.pattern.MatchString("+" + frame.File) {
				lvl = rule.level
			}
		}
		h.siteCache[r.PC] = lvl
		h.lock.Unlock()
	}
	if lvl <= r.Level {
		return h.origin.Handle(context.Background(), r)
	}
	return nil
}
