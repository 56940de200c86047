// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"github.com/zjgordon/labportal/internal/model"
)

// ActionFilter narrows ListActions. Zero values match everything.
type ActionFilter struct {
	HostID    string
	ServiceID string
	Status    model.ActionStatus
	Limit     int
}

// DefaultListLimit bounds ListActions when the filter sets no limit.
const DefaultListLimit = 100

// Store defines every persistence operation the control plane performs.
// Conditional updates report whether they changed a row so callers can
// tell a lost race from success.
type Store interface {
	// Host methods
	CreateHost(ctx context.Context, h model.Host) error
	GetHost(ctx context.Context, id string) (model.Host, error)
	GetHostByTokenHash(ctx context.Context, hash string) (model.Host, error)
	ListHosts(ctx context.Context) ([]model.Host, error)
	UpdateHostToken(ctx context.Context, id, hash, prefix string, rotatedAt time.Time) error
	TouchHost(ctx context.Context, id string, seenAt time.Time) error
	DeleteHost(ctx context.Context, id string) error

	// Managed service methods
	CreateService(ctx context.Context, s model.ManagedService) error
	GetService(ctx context.Context, id string) (model.ManagedService, error)
	ListServices(ctx context.Context, hostID string) ([]model.ManagedService, error)
	UpdateServicePermissions(ctx context.Context, id string, allowStart, allowStop, allowRestart bool) error
	DeleteService(ctx context.Context, id string) error

	// Action methods
	InsertAction(ctx context.Context, a model.Action) error
	GetAction(ctx context.Context, id string) (model.Action, error)
	FindActionByIdempotencyKey(ctx context.Context, hostID, key string) (model.Action, error)
	ListActions(ctx context.Context, f ActionFilter) ([]model.Action, error)
	QueuedCandidates(ctx context.Context, hostID string, limit int) ([]model.Action, error)
	ClaimAction(ctx context.Context, id string, startedAt time.Time) (bool, error)
	UpdateRunningMessage(ctx context.Context, id, message string) (bool, error)
	CompleteAction(ctx context.Context, id string, status model.ActionStatus, finishedAt time.Time, exitCode *int, message string) (bool, error)
	DeleteTerminalAction(ctx context.Context, id string) (bool, error)
	CountActionsByStatus(ctx context.Context) (map[model.ActionStatus]int, error)
	RecentFailures(ctx context.Context, limit int) ([]model.Action, error)
	ReclaimStale(ctx context.Context, startedBefore, finishedAt time.Time, message string) (int64, error)

	// Retention methods
	CountActions(ctx context.Context) (int, error)
	CountPrunable(ctx context.Context, cutoff time.Time) (int, error)
	PrunableBatch(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]model.Action, error)
	DeleteActionsByID(ctx context.Context, ids []string, cutoff time.Time) (int64, error)

	Close() error
}

// BunStore implements Store on top of a *bun.DB for every supported dialect.
type BunStore struct {
	bun    *bun.DB
	dbType string
}

var _ Store = (*BunStore)(nil)

// BunDB exposes the underlying *bun.DB.
func (s *BunStore) BunDB() *bun.DB { return s.bun }

// DBType returns the database type the store was opened with.
func (s *BunStore) DBType() string { return s.dbType }

// Close closes the underlying database.
func (s *BunStore) Close() error { return s.bun.Close() }

// AppliedMigrations lists the recorded schema migration versions in order.
func (s *BunStore) AppliedMigrations(ctx context.Context) ([]string, error) {
	var versions []string
	if err := QueryRawInto(ctx, s.bun, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, MapDBError(err)
	}
	return versions, nil
}

var terminalStatuses = []string{string(model.StatusSucceeded), string(model.StatusFailed)}
