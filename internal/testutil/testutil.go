// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/security"
)

// NewStore opens a migrated SQLite store in the test's temp directory and
// closes it when the test ends.
func NewStore(t testing.TB) *db.BunStore {
	t.Helper()
	s, err := db.Open("sqlite", filepath.Join(t.TempDir(), "labportal.db"))
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewID returns a fresh UUIDv7 string.
func NewID(t testing.TB) string {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid.NewV7: %v", err)
	}
	return id.String()
}

// SeedHost inserts a host named name and returns it with the plaintext agent
// token that authenticates it.
func SeedHost(t testing.TB, s db.Store, name string) (model.Host, string) {
	t.Helper()
	token, err := security.GenerateAgentToken()
	if err != nil {
		t.Fatalf("GenerateAgentToken: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	h := model.Host{
		ID:               NewID(t),
		Name:             name,
		AgentTokenHash:   security.HashToken(token),
		AgentTokenPrefix: security.TokenDisplayPrefix(token),
		TokenRotatedAt:   now,
		CreatedAt:        now,
	}
	if err := s.CreateHost(context.Background(), h); err != nil {
		t.Fatalf("CreateHost(%s): %v", name, err)
	}
	return h, token
}

// SeedService registers unit on host with every permission flag set to allow.
func SeedService(t testing.TB, s db.Store, hostID, unit string, allow bool) model.ManagedService {
	t.Helper()
	svc := model.ManagedService{
		ID:           NewID(t),
		HostID:       hostID,
		UnitName:     unit,
		DisplayName:  unit,
		AllowStart:   allow,
		AllowStop:    allow,
		AllowRestart: allow,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.CreateService(context.Background(), svc); err != nil {
		t.Fatalf("CreateService(%s): %v", unit, err)
	}
	return svc
}

// SeedAction inserts an action for svc in the given status, requested at
// requestedAt. Terminal actions get matching start and finish times.
func SeedAction(t testing.TB, s db.Store, svc model.ManagedService, status model.ActionStatus, requestedAt time.Time) model.Action {
	t.Helper()
	requestedAt = requestedAt.UTC().Truncate(time.Microsecond)
	a := model.Action{
		ID:          NewID(t),
		HostID:      svc.HostID,
		ServiceID:   svc.ID,
		UnitName:    svc.UnitName,
		Kind:        model.KindRestart,
		Status:      status,
		RequestedAt: requestedAt,
		RequestedBy: "admin",
	}
	if status != model.StatusQueued {
		started := requestedAt
		a.StartedAt = &started
	}
	if status.Terminal() {
		finished := requestedAt
		code := 0
		if status == model.StatusFailed {
			code = 1
		}
		a.FinishedAt = &finished
		a.ExitCode = &code
	}
	if err := s.InsertAction(context.Background(), a); err != nil {
		t.Fatalf("InsertAction: %v", err)
	}
	return a
}
