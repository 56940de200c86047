// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the control-plane domain types shared by the store,
// the dispatcher, the HTTP surface and the agent.
package model

import (
	"fmt"
	"time"
)

// ActionKind is the service-control verb an action carries.
type ActionKind string

const (
	KindStart   ActionKind = "start"
	KindStop    ActionKind = "stop"
	KindRestart ActionKind = "restart"
	KindStatus  ActionKind = "status"
)

// ActionKinds lists every accepted kind in a stable order.
var ActionKinds = []ActionKind{KindStart, KindStop, KindRestart, KindStatus}

// Valid reports whether k is one of the four accepted literals.
func (k ActionKind) Valid() bool {
	switch k {
	case KindStart, KindStop, KindRestart, KindStatus:
		return true
	}
	return false
}

// ActionStatus is the lifecycle state of an action.
type ActionStatus string

const (
	StatusQueued    ActionStatus = "queued"
	StatusRunning   ActionStatus = "running"
	StatusSucceeded ActionStatus = "succeeded"
	StatusFailed    ActionStatus = "failed"
)

// Terminal reports whether no further transition may leave s.
func (s ActionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ParseStatus parses a reported status. "completed" is accepted as an alias
// of succeeded since older agents report it that way.
func ParseStatus(s string) (ActionStatus, bool) {
	switch s {
	case "queued":
		return StatusQueued, true
	case "running":
		return StatusRunning, true
	case "succeeded", "completed":
		return StatusSucceeded, true
	case "failed":
		return StatusFailed, true
	}
	return "", false
}

// Host is a managed machine running an agent. The agent token is only ever
// stored as a hash; AgentTokenPrefix is kept so operators can tell tokens
// apart.
type Host struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Address          string     `json:"address,omitempty"`
	AgentTokenHash   string     `json:"-"`
	AgentTokenPrefix string     `json:"agentTokenPrefix"`
	TokenRotatedAt   time.Time  `json:"tokenRotatedAt"`
	LastSeenAt       *time.Time `json:"lastSeenAt"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// String returns the host name and id.
func (h Host) String() string {
	return fmt.Sprintf("%s (%s)", h.Name, h.ID)
}

// HostSummary is a host with its derived liveness.
type HostSummary struct {
	Host
	Online bool `json:"online"`
}

// ManagedService is a systemd unit on a host that the portal may control.
type ManagedService struct {
	ID           string    `json:"id"`
	HostID       string    `json:"hostId"`
	UnitName     string    `json:"unitName"`
	DisplayName  string    `json:"displayName"`
	CardID       string    `json:"cardId,omitempty"`
	AllowStart   bool      `json:"allowStart"`
	AllowStop    bool      `json:"allowStop"`
	AllowRestart bool      `json:"allowRestart"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Allows reports whether the service's permission flags allow kind. Status
// queries carry no flag and never change unit state, so they are always
// allowed.
func (s ManagedService) Allows(kind ActionKind) bool {
	switch kind {
	case KindStart:
		return s.AllowStart
	case KindStop:
		return s.AllowStop
	case KindRestart:
		return s.AllowRestart
	case KindStatus:
		return true
	}
	return false
}

// MaxMessageLen bounds the message stored with an action, in bytes.
const MaxMessageLen = 8192

// Action is one control-plane request.
type Action struct {
	ID             string       `json:"id"`
	HostID         string       `json:"hostId"`
	ServiceID      string       `json:"serviceId"`
	UnitName       string       `json:"unitName,omitempty"`
	Kind           ActionKind   `json:"kind"`
	Status         ActionStatus `json:"status"`
	RequestedAt    time.Time    `json:"requestedAt"`
	StartedAt      *time.Time   `json:"startedAt"`
	FinishedAt     *time.Time   `json:"finishedAt"`
	ExitCode       *int         `json:"exitCode"`
	Message        string       `json:"message,omitempty"`
	RequestedBy    string       `json:"requestedBy"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
}

// Diagnostics summarises the control plane for operators.
type Diagnostics struct {
	Queued         int           `json:"queued"`
	Running        int           `json:"running"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Hosts          []HostSummary `json:"hosts"`
	RecentFailures []Action      `json:"recentFailures"`
	GeneratedAt    time.Time     `json:"generatedAt"`
}
