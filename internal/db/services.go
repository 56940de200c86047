// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/zjgordon/labportal/internal/model"
)

// CreateService inserts svc. Registering the same unit twice on a host
// yields ErrDuplicate.
func (s *BunStore) CreateService(ctx context.Context, svc model.ManagedService) error {
	_, err := s.bun.NewInsert().Model(serviceToModel(svc)).Exec(ctx)
	return MapDBError(err)
}

// GetService loads a managed service by id.
func (s *BunStore) GetService(ctx context.Context, id string) (model.ManagedService, error) {
	var m ServiceModel
	if err := s.bun.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return model.ManagedService{}, MapDBError(err)
	}
	return serviceFromModel(m), nil
}

// ListServices returns the services of hostID, or of every host when hostID
// is empty.
func (s *BunStore) ListServices(ctx context.Context, hostID string) ([]model.ManagedService, error) {
	var ms []ServiceModel
	q := s.bun.NewSelect().Model(&ms)
	if hostID != "" {
		q = q.Where("host_id = ?", hostID)
	}
	if err := q.OrderExpr("host_id ASC, unit_name ASC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	out := make([]model.ManagedService, 0, len(ms))
	for _, m := range ms {
		out = append(out, serviceFromModel(m))
	}
	return out, nil
}

// UpdateServicePermissions overwrites the three permission flags.
func (s *BunStore) UpdateServicePermissions(ctx context.Context, id string, allowStart, allowStop, allowRestart bool) error {
	res, err := s.bun.NewUpdate().Model((*ServiceModel)(nil)).
		Set("allow_start = ?", allowStart).
		Set("allow_stop = ?", allowStop).
		Set("allow_restart = ?", allowRestart).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		// MySQL reports zero affected rows when nothing changed.
		if _, gerr := s.GetService(ctx, id); gerr != nil {
			return gerr
		}
	}
	return nil
}

// DeleteService removes a service with no queued or running actions. Its
// terminal action history is removed with it.
func (s *BunStore) DeleteService(ctx context.Context, id string) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		open, err := tx.NewSelect().Model((*ActionModel)(nil)).
			Where("service_id = ?", id).
			Where("status IN (?)", bun.In([]string{string(model.StatusQueued), string(model.StatusRunning)})).
			Count(ctx)
		if err != nil {
			return MapDBError(err)
		}
		if open > 0 {
			return ErrInUse
		}
		if _, err := tx.NewDelete().Model((*ActionModel)(nil)).Where("service_id = ?", id).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		res, err := tx.NewDelete().Model((*ServiceModel)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return MapDBError(err)
		}
		ok, err := affectedOne(res)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
}
