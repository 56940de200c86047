// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	clog "github.com/charmbracelet/log"

	"github.com/zjgordon/labportal/internal/auth"
	"github.com/zjgordon/labportal/internal/control"
	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/pruner"
)

const maxBodyBytes = 1 << 20

// Handler serves the agent and admin endpoints.
type Handler struct {
	dispatcher *control.Dispatcher
	pruner     *pruner.Pruner
	log        *clog.Logger
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.log.Error("failed to encode JSON response", "err", err)
		}
	}
}

func (h *Handler) ok(w http.ResponseWriter, data any)      { h.json(w, http.StatusOK, data) }
func (h *Handler) created(w http.ResponseWriter, data any) { h.json(w, http.StatusCreated, data) }
func (h *Handler) noContent(w http.ResponseWriter)         { w.WriteHeader(http.StatusNoContent) }

// parseJSON decodes a bounded request body into v. Unknown fields are
// rejected so typos do not silently fall back to defaults.
func parseJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errs.New(errs.Validation, "request body is empty")
	}
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.New(errs.Validation, "request body is empty")
		}
		return errs.Wrap(errs.Validation, err, "invalid JSON body")
	}
	return nil
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errs.New(errs.Validation, "%s must be a non-negative integer", name)
	}
	return n, nil
}

// queryBool reads an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errs.New(errs.Validation, "%s must be true or false", name)
	}
	return b, nil
}

// agentHost returns the host the calling agent acts for.
func agentHost(r *http.Request) (string, error) {
	p, _ := auth.PrincipalFrom(r.Context())
	switch v := p.(type) {
	case auth.AgentPrincipal:
		return v.HostID, nil
	case auth.AdminPrincipal:
		return "", errs.New(errs.Forbidden, "agent route called with admin credential")
	default:
		return "", errs.New(errs.Unauthorized, "not authenticated")
	}
}

// adminID returns the identity of the calling admin.
func adminID(r *http.Request) (string, error) {
	p, _ := auth.PrincipalFrom(r.Context())
	switch v := p.(type) {
	case auth.AdminPrincipal:
		return v.ID, nil
	case auth.AgentPrincipal:
		return "", errs.New(errs.Forbidden, "agent tokens cannot access admin routes")
	default:
		return "", errs.New(errs.Unauthorized, "not authenticated")
	}
}
