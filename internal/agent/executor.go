// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"

	"github.com/zjgordon/labportal/internal/logging"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/security"
	"github.com/zjgordon/labportal/internal/validate"
)

const (
	// CommandTimeout bounds every systemctl attempt.
	CommandTimeout = 30 * time.Second
	// MaxOutputBytes caps the captured size of each output stream.
	MaxOutputBytes = 1 << 20
)

// CommandRunner starts a process from an argument vector and waits for it.
// exitCode is -1 when the process could not be started or was killed.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) (exitCode int, err error)
}

// ExecRunner runs commands with os/exec. No shell is involved.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), err
	}
	return -1, err
}

// Result is the outcome of one Execute call. A failed unit operation is a
// normal Result, not an error.
type Result struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Message  string
	Duration time.Duration
}

// Executor runs service-control commands on the local host.
type Executor struct {
	runner    CommandRunner
	timeout   time.Duration
	maxOutput int
	log       *clog.Logger
}

// NewExecutor returns an Executor using runner, or ExecRunner when nil.
func NewExecutor(runner CommandRunner) *Executor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Executor{
		runner:    runner,
		timeout:   CommandTimeout,
		maxOutput: MaxOutputBytes,
		log:       logging.With("executor"),
	}
}

type attempt struct {
	scope string
	name  string
	args  []string
}

// Execute re-validates kind and unit, then tries the user service manager
// and falls back to a non-interactive sudo call to the system one.
func (e *Executor) Execute(ctx context.Context, kind model.ActionKind, unit string) Result {
	start := time.Now()
	if err := validate.Command(string(kind), unit); err != nil {
		return Result{
			ExitCode: -1,
			Message:  fmt.Sprintf("refused %s %s: %v", kind, unit, err),
			Duration: time.Since(start),
		}
	}

	attempts := []attempt{
		{scope: "user", name: "systemctl", args: []string{"--user", string(kind), unit}},
		{scope: "system", name: "sudo", args: []string{"-n", "systemctl", string(kind), unit}},
	}

	var res Result
	for _, at := range attempts {
		res = e.run(ctx, at, kind, unit)
		if res.Success {
			break
		}
		e.log.Debug("attempt failed", "scope", at.scope, "unit", unit, "kind", kind, "exit", res.ExitCode)
		if ctx.Err() != nil {
			break
		}
	}
	res.Duration = time.Since(start)
	return res
}

func (e *Executor) run(ctx context.Context, at attempt, kind model.ActionKind, unit string) Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stdout := &limitWriter{max: e.maxOutput}
	stderr := &limitWriter{max: e.maxOutput}
	code, err := e.runner.Run(ctx, at.name, at.args, stdout, stderr)

	res := Result{
		ExitCode: code,
		Stdout:   security.SanitizeOutput(stdout.String()),
		Stderr:   security.SanitizeOutput(stderr.String()),
	}
	switch {
	case err == nil && code == 0:
		res.Success = true
		res.Message = fmt.Sprintf("%s %s succeeded (%s)", kind, unit, at.scope)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.Message = fmt.Sprintf("%s %s timed out after %s (%s)", kind, unit, e.timeout, at.scope)
	case code < 0:
		res.Message = fmt.Sprintf("%s %s could not be started (%s): %s", kind, unit, at.scope, security.SanitizeOutput(errString(err)))
	default:
		res.Message = fmt.Sprintf("%s %s failed with exit code %d (%s)", kind, unit, code, at.scope)
	}
	return res
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// limitWriter keeps the first max bytes written to it and discards the rest
// while still reporting full writes, so the child never blocks on a pipe.
type limitWriter struct {
	buf       strings.Builder
	max       int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	room := w.max - w.buf.Len()
	if room <= 0 {
		w.truncated = len(p) > 0 || w.truncated
		return len(p), nil
	}
	if len(p) > room {
		w.buf.Write(p[:room])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

func (w *limitWriter) String() string {
	if w.truncated {
		return w.buf.String() + "\n[output truncated]"
	}
	return w.buf.String()
}
