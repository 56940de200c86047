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

// InsertAction stores a new action. A reused idempotency key on the same
// host yields ErrDuplicate.
func (s *BunStore) InsertAction(ctx context.Context, a model.Action) error {
	_, err := s.bun.NewInsert().Model(actionToModel(a)).Exec(ctx)
	return MapDBError(err)
}

// GetAction loads an action by id.
func (s *BunStore) GetAction(ctx context.Context, id string) (model.Action, error) {
	var m ActionModel
	if err := s.bun.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return model.Action{}, MapDBError(err)
	}
	return actionFromModel(m), nil
}

// FindActionByIdempotencyKey loads the action a host enqueued under key.
func (s *BunStore) FindActionByIdempotencyKey(ctx context.Context, hostID, key string) (model.Action, error) {
	var m ActionModel
	err := s.bun.NewSelect().Model(&m).
		Where("host_id = ?", hostID).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return model.Action{}, MapDBError(err)
	}
	return actionFromModel(m), nil
}

// ListActions returns actions matching f, newest first.
func (s *BunStore) ListActions(ctx context.Context, f ActionFilter) ([]model.Action, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var ms []ActionModel
	q := s.bun.NewSelect().Model(&ms)
	if f.HostID != "" {
		q = q.Where("host_id = ?", f.HostID)
	}
	if f.ServiceID != "" {
		q = q.Where("service_id = ?", f.ServiceID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if err := q.OrderExpr("requested_at DESC, id DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return actionsFromModels(ms), nil
}

// QueuedCandidates returns up to limit queued actions of a host in FIFO
// order. The rows are not claimed; see ClaimAction.
func (s *BunStore) QueuedCandidates(ctx context.Context, hostID string, limit int) ([]model.Action, error) {
	var ms []ActionModel
	err := s.bun.NewSelect().Model(&ms).
		Where("host_id = ?", hostID).
		Where("status = ?", string(model.StatusQueued)).
		OrderExpr("requested_at ASC, id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return actionsFromModels(ms), nil
}

// ClaimAction moves a queued action to running. It reports false when
// another caller claimed it first or the action is no longer queued.
func (s *BunStore) ClaimAction(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := ExecRaw(ctx, s.bun,
		"UPDATE actions SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		string(model.StatusRunning), startedAt.UTC(), id, string(model.StatusQueued))
	if err != nil {
		return false, MapDBError(err)
	}
	return affectedOne(res)
}

// UpdateRunningMessage replaces the progress message of a running action.
func (s *BunStore) UpdateRunningMessage(ctx context.Context, id, message string) (bool, error) {
	var msg any
	if message != "" {
		msg = message
	}
	res, err := ExecRaw(ctx, s.bun,
		"UPDATE actions SET message = ? WHERE id = ? AND status = ?",
		msg, id, string(model.StatusRunning))
	if err != nil {
		return false, MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// MySQL reports zero affected rows when the message is unchanged.
	a, err := s.GetAction(ctx, id)
	if err != nil {
		return false, err
	}
	return a.Status == model.StatusRunning, nil
}

// CompleteAction moves a running action to a terminal status. It reports
// false when the action was not running.
func (s *BunStore) CompleteAction(ctx context.Context, id string, status model.ActionStatus, finishedAt time.Time, exitCode *int, message string) (bool, error) {
	var msg any
	if message != "" {
		msg = message
	}
	var code any
	if exitCode != nil {
		code = *exitCode
	}
	res, err := ExecRaw(ctx, s.bun,
		"UPDATE actions SET status = ?, finished_at = ?, exit_code = ?, message = ? WHERE id = ? AND status = ?",
		string(status), finishedAt.UTC(), code, msg, id, string(model.StatusRunning))
	if err != nil {
		return false, MapDBError(err)
	}
	return affectedOne(res)
}

// DeleteTerminalAction deletes an action only if it has finished.
func (s *BunStore) DeleteTerminalAction(ctx context.Context, id string) (bool, error) {
	res, err := s.bun.NewDelete().Model((*ActionModel)(nil)).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(terminalStatuses)).
		Exec(ctx)
	if err != nil {
		return false, MapDBError(err)
	}
	return affectedOne(res)
}

type statusCount struct {
	Status string `bun:"status"`
	N      int    `bun:"n"`
}

// CountActionsByStatus returns the number of actions in each status.
// Statuses with no actions are present with a zero count.
func (s *BunStore) CountActionsByStatus(ctx context.Context) (map[model.ActionStatus]int, error) {
	var rows []statusCount
	err := s.bun.NewSelect().Model((*ActionModel)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS n").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, MapDBError(err)
	}
	out := map[model.ActionStatus]int{
		model.StatusQueued:    0,
		model.StatusRunning:   0,
		model.StatusSucceeded: 0,
		model.StatusFailed:    0,
	}
	for _, r := range rows {
		out[model.ActionStatus(r.Status)] = r.N
	}
	return out, nil
}

// RecentFailures returns the most recently finished failed actions.
func (s *BunStore) RecentFailures(ctx context.Context, limit int) ([]model.Action, error) {
	var ms []ActionModel
	err := s.bun.NewSelect().Model(&ms).
		Where("status = ?", string(model.StatusFailed)).
		OrderExpr("finished_at DESC, id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return actionsFromModels(ms), nil
}

// ReclaimStale fails every running action started before startedBefore.
func (s *BunStore) ReclaimStale(ctx context.Context, startedBefore, finishedAt time.Time, message string) (int64, error) {
	res, err := ExecRaw(ctx, s.bun,
		"UPDATE actions SET status = ?, finished_at = ?, exit_code = ?, message = ? WHERE status = ? AND started_at < ?",
		string(model.StatusFailed), finishedAt.UTC(), -1, message, string(model.StatusRunning), startedBefore.UTC())
	if err != nil {
		return 0, MapDBError(err)
	}
	return res.RowsAffected()
}
