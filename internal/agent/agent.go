// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package agent is the host-side half of the queue-and-report protocol: it
// polls the portal for one action at a time, runs it through systemctl and
// reports the outcome.
package agent

import (
	"context"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"

	"github.com/zjgordon/labportal/internal/logging"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/security"
)

// MaxPendingReports bounds the reports kept for retry after a failed send.
const MaxPendingReports = 32

// Portal is the part of Client the loop depends on.
type Portal interface {
	Heartbeat(ctx context.Context) (model.HostSummary, error)
	Pull(ctx context.Context, max int) ([]model.Action, error)
	Report(ctx context.Context, r Report) error
}

// Agent runs the poll loop. It is not safe for concurrent use.
type Agent struct {
	hostID   string
	interval time.Duration
	portal   Portal
	exec     *Executor
	pending  []Report
	log      *clog.Logger
}

// New returns an Agent for cfg.
func New(cfg Config, portal Portal, exec *Executor) *Agent {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Agent{
		hostID:   cfg.HostID,
		interval: interval,
		portal:   portal,
		exec:     exec,
		log:      logging.With("agent"),
	}
}

// Run polls until ctx is cancelled. It runs one cycle immediately and then
// one per poll interval.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent started", "host", a.hostID, "interval", a.interval)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		a.Cycle(ctx)
		select {
		case <-ctx.Done():
			a.log.Info("agent stopping", "pendingReports", len(a.pending))
			return nil
		case <-ticker.C:
		}
	}
}

// Pending returns the number of reports waiting to be resent.
func (a *Agent) Pending() int { return len(a.pending) }

// Cycle performs one poll: resend pending reports, heartbeat, pull at most
// one action, execute it and report the result.
func (a *Agent) Cycle(ctx context.Context) {
	a.flushPending(ctx)

	hs, err := a.portal.Heartbeat(ctx)
	if err != nil {
		a.log.Warn("heartbeat failed", "err", err)
		return
	}
	if hs.ID != "" && hs.ID != a.hostID {
		a.log.Error("agent token belongs to another host, not pulling", "configured", a.hostID, "token", hs.ID)
		return
	}

	actions, err := a.portal.Pull(ctx, 1)
	if err != nil {
		a.log.Warn("queue pull failed", "err", err)
		return
	}
	for _, act := range actions {
		a.handle(ctx, act)
	}
}

func (a *Agent) handle(ctx context.Context, act model.Action) {
	log := a.log.With("action", act.ID, "unit", act.UnitName, "kind", act.Kind)
	if act.HostID != "" && act.HostID != a.hostID {
		log.Warn("refusing action addressed to another host", "actionHost", act.HostID)
		a.send(ctx, failedReport(act.ID, "action addressed to host "+act.HostID+", agent runs as "+a.hostID))
		return
	}

	log.Info("executing")
	res := a.exec.Execute(ctx, act.Kind, act.UnitName)
	status := string(model.StatusFailed)
	if res.Success {
		status = string(model.StatusSucceeded)
	}
	code := res.ExitCode
	log.Info("executed", "success", res.Success, "exit", code, "took", res.Duration)
	a.send(ctx, Report{
		ActionID: act.ID,
		Status:   status,
		ExitCode: &code,
		Message:  reportMessage(res),
	})
}

func (a *Agent) send(ctx context.Context, r Report) {
	err := a.portal.Report(ctx, r)
	if err == nil {
		return
	}
	if !Retryable(err) {
		a.log.Error("report rejected", "action", r.ActionID, "err", err)
		return
	}
	a.log.Warn("report failed, will retry next cycle", "action", r.ActionID, "err", err)
	a.enqueuePending(r)
}

func (a *Agent) enqueuePending(r Report) {
	if len(a.pending) >= MaxPendingReports {
		dropped := a.pending[0]
		a.pending = a.pending[1:]
		a.log.Error("pending report buffer full, dropping oldest", "action", dropped.ActionID)
	}
	a.pending = append(a.pending, r)
}

func (a *Agent) flushPending(ctx context.Context) {
	if len(a.pending) == 0 {
		return
	}
	queue := a.pending
	a.pending = nil
	for i, r := range queue {
		err := a.portal.Report(ctx, r)
		switch {
		case err == nil:
			a.log.Info("pending report delivered", "action", r.ActionID)
		case Retryable(err):
			// The portal is still unreachable; keep the rest for later.
			a.pending = append(a.pending, queue[i:]...)
			return
		default:
			a.log.Error("pending report rejected", "action", r.ActionID, "err", err)
		}
	}
}

func failedReport(actionID, message string) Report {
	code := -1
	return Report{ActionID: actionID, Status: string(model.StatusFailed), ExitCode: &code, Message: message}
}

func reportMessage(res Result) string {
	var b strings.Builder
	b.WriteString(res.Message)
	if s := strings.TrimSpace(res.Stdout); s != "" {
		b.WriteString("\nstdout:\n")
		b.WriteString(s)
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(s)
	}
	return security.Clip(b.String(), model.MaxMessageLen)
}
