// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"time"

	"github.com/uptrace/bun"
	"github.com/zjgordon/labportal/internal/model"
)

// HostModel maps the hosts table.
type HostModel struct {
	bun.BaseModel    `bun:"table:hosts"`
	ID               string     `bun:"id,pk"`
	Name             string     `bun:"name,notnull"`
	Address          string     `bun:"address,nullzero"`
	AgentTokenHash   string     `bun:"agent_token_hash,notnull"`
	AgentTokenPrefix string     `bun:"agent_token_prefix,notnull"`
	TokenRotatedAt   time.Time  `bun:"token_rotated_at,notnull"`
	LastSeenAt       *time.Time `bun:"last_seen_at"`
	CreatedAt        time.Time  `bun:"created_at,notnull"`
}

// ServiceModel maps the managed_services table.
type ServiceModel struct {
	bun.BaseModel `bun:"table:managed_services"`
	ID            string    `bun:"id,pk"`
	HostID        string    `bun:"host_id,notnull"`
	UnitName      string    `bun:"unit_name,notnull"`
	DisplayName   string    `bun:"display_name,notnull"`
	CardID        string    `bun:"card_id,nullzero"`
	AllowStart    bool      `bun:"allow_start,notnull"`
	AllowStop     bool      `bun:"allow_stop,notnull"`
	AllowRestart  bool      `bun:"allow_restart,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

// ActionModel maps the actions table.
type ActionModel struct {
	bun.BaseModel  `bun:"table:actions"`
	ID             string     `bun:"id,pk"`
	HostID         string     `bun:"host_id,notnull"`
	ServiceID      string     `bun:"service_id,notnull"`
	UnitName       string     `bun:"unit_name,notnull"`
	Kind           string     `bun:"kind,notnull"`
	Status         string     `bun:"status,notnull"`
	RequestedAt    time.Time  `bun:"requested_at,notnull"`
	StartedAt      *time.Time `bun:"started_at"`
	FinishedAt     *time.Time `bun:"finished_at"`
	ExitCode       *int       `bun:"exit_code"`
	Message        string     `bun:"message,nullzero"`
	RequestedBy    string     `bun:"requested_by,notnull"`
	IdempotencyKey string     `bun:"idempotency_key,nullzero"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func hostFromModel(m HostModel) model.Host {
	return model.Host{
		ID:               m.ID,
		Name:             m.Name,
		Address:          m.Address,
		AgentTokenHash:   m.AgentTokenHash,
		AgentTokenPrefix: m.AgentTokenPrefix,
		TokenRotatedAt:   m.TokenRotatedAt.UTC(),
		LastSeenAt:       utcPtr(m.LastSeenAt),
		CreatedAt:        m.CreatedAt.UTC(),
	}
}

func hostToModel(h model.Host) *HostModel {
	return &HostModel{
		ID:               h.ID,
		Name:             h.Name,
		Address:          h.Address,
		AgentTokenHash:   h.AgentTokenHash,
		AgentTokenPrefix: h.AgentTokenPrefix,
		TokenRotatedAt:   h.TokenRotatedAt.UTC(),
		LastSeenAt:       utcPtr(h.LastSeenAt),
		CreatedAt:        h.CreatedAt.UTC(),
	}
}

func serviceFromModel(m ServiceModel) model.ManagedService {
	return model.ManagedService{
		ID:           m.ID,
		HostID:       m.HostID,
		UnitName:     m.UnitName,
		DisplayName:  m.DisplayName,
		CardID:       m.CardID,
		AllowStart:   m.AllowStart,
		AllowStop:    m.AllowStop,
		AllowRestart: m.AllowRestart,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func serviceToModel(s model.ManagedService) *ServiceModel {
	return &ServiceModel{
		ID:           s.ID,
		HostID:       s.HostID,
		UnitName:     s.UnitName,
		DisplayName:  s.DisplayName,
		CardID:       s.CardID,
		AllowStart:   s.AllowStart,
		AllowStop:    s.AllowStop,
		AllowRestart: s.AllowRestart,
		CreatedAt:    s.CreatedAt.UTC(),
	}
}

func actionFromModel(m ActionModel) model.Action {
	return model.Action{
		ID:             m.ID,
		HostID:         m.HostID,
		ServiceID:      m.ServiceID,
		UnitName:       m.UnitName,
		Kind:           model.ActionKind(m.Kind),
		Status:         model.ActionStatus(m.Status),
		RequestedAt:    m.RequestedAt.UTC(),
		StartedAt:      utcPtr(m.StartedAt),
		FinishedAt:     utcPtr(m.FinishedAt),
		ExitCode:       m.ExitCode,
		Message:        m.Message,
		RequestedBy:    m.RequestedBy,
		IdempotencyKey: m.IdempotencyKey,
	}
}

func actionToModel(a model.Action) *ActionModel {
	return &ActionModel{
		ID:             a.ID,
		HostID:         a.HostID,
		ServiceID:      a.ServiceID,
		UnitName:       a.UnitName,
		Kind:           string(a.Kind),
		Status:         string(a.Status),
		RequestedAt:    a.RequestedAt.UTC(),
		StartedAt:      utcPtr(a.StartedAt),
		FinishedAt:     utcPtr(a.FinishedAt),
		ExitCode:       a.ExitCode,
		Message:        a.Message,
		RequestedBy:    a.RequestedBy,
		IdempotencyKey: a.IdempotencyKey,
	}
}

func actionsFromModels(ms []ActionModel) []model.Action {
	out := make([]model.Action, 0, len(ms))
	for _, m := range ms {
		out = append(out, actionFromModel(m))
	}
	return out
}
