// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zjgordon/labportal/internal/control"
	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/pruner"
)

func (h *Handler) listHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.dispatcher.ListHosts(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, map[string]any{"hosts": hosts})
}

func (h *Handler) createHost(w http.ResponseWriter, r *http.Request) {
	var req control.CreateHostRequest
	if err := parseJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	created, err := h.dispatcher.CreateHost(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.created(w, created)
}

func (h *Handler) getHost(w http.ResponseWriter, r *http.Request) {
	hs, err := h.dispatcher.GetHost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, hs)
}

func (h *Handler) deleteHost(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.DeleteHost(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	h.noContent(w)
}

func (h *Handler) rotateHostToken(w http.ResponseWriter, r *http.Request) {
	rotated, err := h.dispatcher.RotateHostToken(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, rotated)
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	svcs, err := h.dispatcher.ListServices(r.Context(), r.URL.Query().Get("hostId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, map[string]any{"services": svcs})
}

func (h *Handler) createService(w http.ResponseWriter, r *http.Request) {
	var req control.CreateServiceRequest
	if err := parseJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	svc, err := h.dispatcher.CreateService(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.created(w, svc)
}

func (h *Handler) updateService(w http.ResponseWriter, r *http.Request) {
	var patch control.PermissionPatch
	if err := parseJSON(r, &patch); err != nil {
		WriteError(w, r, err)
		return
	}
	svc, err := h.dispatcher.UpdateServicePermissions(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, svc)
}

func (h *Handler) deleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.DeleteService(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	h.noContent(w)
}

func (h *Handler) listActions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	actions, err := h.dispatcher.ListActions(r.Context(), db.ActionFilter{
		HostID:    q.Get("hostId"),
		ServiceID: q.Get("serviceId"),
		Status:    model.ActionStatus(q.Get("status")),
		Limit:     limit,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, map[string]any{"actions": actions})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	admin, err := adminID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req control.EnqueueRequest
	if err := parseJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	req.RequestedBy = admin
	a, err := h.dispatcher.Enqueue(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.created(w, a)
}

func (h *Handler) getAction(w http.ResponseWriter, r *http.Request) {
	a, err := h.dispatcher.GetAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, a)
}

func (h *Handler) deleteAction(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.DeleteAction(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	h.noContent(w)
}

func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	diag, err := h.dispatcher.Diagnostics(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, diag)
}

func (h *Handler) prune(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "retentionDays")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	batch, err := queryInt(r, "batchSize")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	dry, err := queryBool(r, "dryRun")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.pruner.Prune(r.Context(), pruner.Options{RetentionDays: days, BatchSize: batch, DryRun: dry})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.ok(w, res)
}
