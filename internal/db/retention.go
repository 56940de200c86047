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

// CountActions returns the total number of stored actions.
func (s *BunStore) CountActions(ctx context.Context) (int, error) {
	n, err := s.bun.NewSelect().Model((*ActionModel)(nil)).Count(ctx)
	return n, MapDBError(err)
}

// CountPrunable counts terminal actions requested before cutoff.
func (s *BunStore) CountPrunable(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.bun.NewSelect().Model((*ActionModel)(nil)).
		Where("status IN (?)", bun.In(terminalStatuses)).
		Where("requested_at < ?", cutoff.UTC()).
		Count(ctx)
	return n, MapDBError(err)
}

// PrunableBatch returns up to limit terminal actions requested before
// cutoff whose id sorts after afterID, ordered by id.
func (s *BunStore) PrunableBatch(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]model.Action, error) {
	var ms []ActionModel
	q := s.bun.NewSelect().Model(&ms).
		Where("status IN (?)", bun.In(terminalStatuses)).
		Where("requested_at < ?", cutoff.UTC())
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	if err := q.OrderExpr("id ASC").Limit(limit).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return actionsFromModels(ms), nil
}

// DeleteActionsByID deletes the given actions. The terminal and cutoff
// conditions are re-checked so a row that changed since it was read is kept.
func (s *BunStore) DeleteActionsByID(ctx context.Context, ids []string, cutoff time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.bun.NewDelete().Model((*ActionModel)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Where("status IN (?)", bun.In(terminalStatuses)).
		Where("requested_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, MapDBError(err)
	}
	return res.RowsAffected()
}
