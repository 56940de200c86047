// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package control

import (
	"context"
	"strings"

	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/liveness"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/security"
	"github.com/zjgordon/labportal/internal/validate"
)

// CreateHostRequest registers a managed host.
type CreateHostRequest struct {
	Name    string `json:"name" validate:"required,max=128"`
	Address string `json:"address,omitempty" validate:"omitempty,max=255"`
}

// HostWithToken carries the plaintext agent token. It is returned only by
// CreateHost and RotateHostToken; the token is never stored.
type HostWithToken struct {
	model.Host
	AgentToken string `json:"agentToken"`
}

// CreateHost registers a host and issues its first agent token.
func (d *Dispatcher) CreateHost(ctx context.Context, req CreateHostRequest) (HostWithToken, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return HostWithToken{}, err
	}
	id, err := newID()
	if err != nil {
		return HostWithToken{}, err
	}
	token, err := security.GenerateAgentToken()
	if err != nil {
		return HostWithToken{}, errs.Wrap(errs.Internal, err, "issue agent token")
	}
	now := d.clock()
	h := model.Host{
		ID:               id,
		Name:             req.Name,
		Address:          strings.TrimSpace(req.Address),
		AgentTokenHash:   security.HashToken(token),
		AgentTokenPrefix: security.TokenDisplayPrefix(token),
		TokenRotatedAt:   now,
		CreatedAt:        now,
	}
	if err := d.store.CreateHost(ctx, h); err != nil {
		return HostWithToken{}, storeErr(err, "host "+req.Name)
	}
	d.log.Info("host registered", "host", h.ID, "name", h.Name)
	return HostWithToken{Host: h, AgentToken: token}, nil
}

// ListHosts returns every host with its liveness.
func (d *Dispatcher) ListHosts(ctx context.Context) ([]model.HostSummary, error) {
	hosts, err := d.store.ListHosts(ctx)
	if err != nil {
		return nil, storeErr(err, "host")
	}
	return liveness.SummarizeAll(hosts, d.clock()), nil
}

// GetHost returns one host with its liveness.
func (d *Dispatcher) GetHost(ctx context.Context, id string) (model.HostSummary, error) {
	h, err := d.store.GetHost(ctx, id)
	if err != nil {
		return model.HostSummary{}, storeErr(err, "host")
	}
	return liveness.Summarize(h, d.clock()), nil
}

// RotateHostToken replaces a host's agent token. The previous token stops
// authenticating immediately.
func (d *Dispatcher) RotateHostToken(ctx context.Context, id string) (HostWithToken, error) {
	h, err := d.store.GetHost(ctx, id)
	if err != nil {
		return HostWithToken{}, storeErr(err, "host")
	}
	token, err := security.GenerateAgentToken()
	if err != nil {
		return HostWithToken{}, errs.Wrap(errs.Internal, err, "issue agent token")
	}
	now := d.clock()
	h.AgentTokenHash = security.HashToken(token)
	h.AgentTokenPrefix = security.TokenDisplayPrefix(token)
	h.TokenRotatedAt = now
	if err := d.store.UpdateHostToken(ctx, id, h.AgentTokenHash, h.AgentTokenPrefix, now); err != nil {
		return HostWithToken{}, storeErr(err, "host")
	}
	d.log.Info("agent token rotated", "host", h.ID, "prefix", h.AgentTokenPrefix)
	return HostWithToken{Host: h, AgentToken: token}, nil
}

// DeleteHost removes a host that has no services or actions left.
func (d *Dispatcher) DeleteHost(ctx context.Context, id string) error {
	if err := d.store.DeleteHost(ctx, id); err != nil {
		return storeErr(err, "host")
	}
	d.log.Info("host deleted", "host", id)
	return nil
}

// CreateServiceRequest registers a systemd unit on a host.
type CreateServiceRequest struct {
	HostID       string `json:"hostId" validate:"required,max=64"`
	UnitName     string `json:"unitName" validate:"required,max=256,unitname"`
	DisplayName  string `json:"displayName,omitempty" validate:"max=255"`
	CardID       string `json:"cardId,omitempty" validate:"omitempty,max=64"`
	AllowStart   bool   `json:"allowStart"`
	AllowStop    bool   `json:"allowStop"`
	AllowRestart bool   `json:"allowRestart"`
}

// CreateService registers a managed service. Only .service units may be
// registered and each unit at most once per host.
func (d *Dispatcher) CreateService(ctx context.Context, req CreateServiceRequest) (model.ManagedService, error) {
	if err := validate.Struct(req); err != nil {
		return model.ManagedService{}, err
	}
	if err := validate.ServiceUnit(req.UnitName); err != nil {
		return model.ManagedService{}, err
	}
	if _, err := d.store.GetHost(ctx, req.HostID); err != nil {
		return model.ManagedService{}, storeErr(err, "host")
	}
	id, err := newID()
	if err != nil {
		return model.ManagedService{}, err
	}
	display := strings.TrimSpace(req.DisplayName)
	if display == "" {
		display = req.UnitName
	}
	svc := model.ManagedService{
		ID:           id,
		HostID:       req.HostID,
		UnitName:     req.UnitName,
		DisplayName:  display,
		CardID:       req.CardID,
		AllowStart:   req.AllowStart,
		AllowStop:    req.AllowStop,
		AllowRestart: req.AllowRestart,
		CreatedAt:    d.clock(),
	}
	if err := d.store.CreateService(ctx, svc); err != nil {
		return model.ManagedService{}, storeErr(err, "service "+req.UnitName)
	}
	d.log.Info("service registered", "service", svc.ID, "host", svc.HostID, "unit", svc.UnitName)
	return svc, nil
}

// ListServices returns the services of hostID, or all when it is empty.
func (d *Dispatcher) ListServices(ctx context.Context, hostID string) ([]model.ManagedService, error) {
	svcs, err := d.store.ListServices(ctx, hostID)
	if err != nil {
		return nil, storeErr(err, "service")
	}
	return svcs, nil
}

// GetService loads a managed service.
func (d *Dispatcher) GetService(ctx context.Context, id string) (model.ManagedService, error) {
	svc, err := d.store.GetService(ctx, id)
	if err != nil {
		return model.ManagedService{}, storeErr(err, "service")
	}
	return svc, nil
}

// PermissionPatch changes the flags it sets and leaves nil ones alone.
type PermissionPatch struct {
	AllowStart   *bool `json:"allowStart,omitempty"`
	AllowStop    *bool `json:"allowStop,omitempty"`
	AllowRestart *bool `json:"allowRestart,omitempty"`
}

// UpdateServicePermissions applies patch to a service's permission flags.
func (d *Dispatcher) UpdateServicePermissions(ctx context.Context, id string, patch PermissionPatch) (model.ManagedService, error) {
	svc, err := d.store.GetService(ctx, id)
	if err != nil {
		return model.ManagedService{}, storeErr(err, "service")
	}
	if patch.AllowStart != nil {
		svc.AllowStart = *patch.AllowStart
	}
	if patch.AllowStop != nil {
		svc.AllowStop = *patch.AllowStop
	}
	if patch.AllowRestart != nil {
		svc.AllowRestart = *patch.AllowRestart
	}
	if err := d.store.UpdateServicePermissions(ctx, id, svc.AllowStart, svc.AllowStop, svc.AllowRestart); err != nil {
		return model.ManagedService{}, storeErr(err, "service")
	}
	return svc, nil
}

// DeleteService removes a service and its finished action history. It is
// refused while actions for it are queued or running.
func (d *Dispatcher) DeleteService(ctx context.Context, id string) error {
	if err := d.store.DeleteService(ctx, id); err != nil {
		return storeErr(err, "service")
	}
	d.log.Info("service deleted", "service", id)
	return nil
}

// ListActions returns actions matching f, newest first.
func (d *Dispatcher) ListActions(ctx context.Context, f db.ActionFilter) ([]model.Action, error) {
	if f.Status != "" {
		s, ok := model.ParseStatus(string(f.Status))
		if !ok {
			return nil, errs.New(errs.Validation, "unknown status %q", f.Status)
		}
		f.Status = s
	}
	if f.Limit < 0 {
		return nil, errs.New(errs.Validation, "limit must not be negative")
	}
	actions, err := d.store.ListActions(ctx, f)
	if err != nil {
		return nil, storeErr(err, "action")
	}
	return actions, nil
}

// GetAction returns one action.
func (d *Dispatcher) GetAction(ctx context.Context, id string) (model.Action, error) {
	a, err := d.store.GetAction(ctx, id)
	if err != nil {
		return model.Action{}, storeErr(err, "action")
	}
	return a, nil
}

// DeleteAction removes a finished action. Queued and running actions are
// refused with CONFLICT.
func (d *Dispatcher) DeleteAction(ctx context.Context, id string) error {
	a, err := d.store.GetAction(ctx, id)
	if err != nil {
		return storeErr(err, "action")
	}
	if !a.Status.Terminal() {
		return errs.New(errs.Conflict, "action %s is %s; only finished actions can be deleted", a.ID, a.Status)
	}
	ok, err := d.store.DeleteTerminalAction(ctx, id)
	if err != nil {
		return storeErr(err, "action")
	}
	if !ok {
		return errs.New(errs.NotFound, "action not found")
	}
	return nil
}

// Diagnostics summarises action counts, host liveness and recent failures.
func (d *Dispatcher) Diagnostics(ctx context.Context) (model.Diagnostics, error) {
	counts, err := d.store.CountActionsByStatus(ctx)
	if err != nil {
		return model.Diagnostics{}, storeErr(err, "action")
	}
	hosts, err := d.ListHosts(ctx)
	if err != nil {
		return model.Diagnostics{}, err
	}
	failures, err := d.store.RecentFailures(ctx, recentFailureLimit)
	if err != nil {
		return model.Diagnostics{}, storeErr(err, "action")
	}
	return model.Diagnostics{
		Queued:         counts[model.StatusQueued],
		Running:        counts[model.StatusRunning],
		Succeeded:      counts[model.StatusSucceeded],
		Failed:         counts[model.StatusFailed],
		Hosts:          hosts,
		RecentFailures: failures,
		GeneratedAt:    d.clock(),
	}, nil
}
