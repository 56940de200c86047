// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/zjgordon/labportal/internal/control"
	"github.com/zjgordon/labportal/internal/model"
)

// QueueResponse is the body of GET /api/agent/queue.
type QueueResponse struct {
	Actions []model.Action `json:"actions"`
}

// ReportRequest is the body of POST /api/agent/report.
type ReportRequest struct {
	ActionID string `json:"actionId"`
	Status   string `json:"status"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	hostID, err := agentHost(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	hs, err := h.dispatcher.Heartbeat(r.Context(), hostID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, hs)
}

func (h *Handler) queue(w http.ResponseWriter, r *http.Request) {
	hostID, err := agentHost(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	max, err := queryInt(r, "max")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	actions, err := h.dispatcher.PullQueued(r.Context(), hostID, max)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, QueueResponse{Actions: actions})
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	hostID, err := agentHost(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req ReportRequest
	if err := parseJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	a, err := h.dispatcher.ReportResult(r.Context(), control.Report{
		ActionID: req.ActionID,
		HostID:   hostID,
		Status:   req.Status,
		ExitCode: req.ExitCode,
		Message:  req.Message,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, a)
}
