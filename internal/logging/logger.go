// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging provides the process-wide logger used by the portal and the
// agent. It wraps charmbracelet/log and keeps the printf-style helpers the
// rest of the code base calls.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Callers should use the helper functions
// below or derive a component logger with With.
var L = clog.NewWithOptions(os.Stderr, clog.Options{ReportTimestamp: true})

// Component loggers are copies of L; they are tracked so level and output
// changes reach them too.
var (
	mu       sync.Mutex
	children []*clog.Logger
)

// SetLevel parses level ("debug", "info", "warn", "error") and applies it to
// L. Unknown values leave the level unchanged and return an error.
func SetLevel(level string) error {
	if strings.TrimSpace(level) == "" {
		return nil
	}
	lvl, err := clog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	mu.Lock()
	defer mu.Unlock()
	L.SetLevel(lvl)
	for _, c := range children {
		c.SetLevel(lvl)
	}
	return nil
}

// SetOutput redirects L to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	L.SetOutput(w)
	for _, c := range children {
		c.SetOutput(w)
	}
}

// With returns a child logger tagged with prefix, e.g. "dispatcher".
func With(prefix string) *clog.Logger {
	mu.Lock()
	defer mu.Unlock()
	c := L.WithPrefix(prefix)
	children = append(children, c)
	return c
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...any) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...any) {
	L.Error(fmt.Sprintf(format, v...))
}
