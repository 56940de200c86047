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

// CreateHost inserts h. A taken name or token hash yields ErrDuplicate.
func (s *BunStore) CreateHost(ctx context.Context, h model.Host) error {
	_, err := s.bun.NewInsert().Model(hostToModel(h)).Exec(ctx)
	return MapDBError(err)
}

// GetHost loads a host by id.
func (s *BunStore) GetHost(ctx context.Context, id string) (model.Host, error) {
	var m HostModel
	if err := s.bun.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return model.Host{}, MapDBError(err)
	}
	return hostFromModel(m), nil
}

// GetHostByTokenHash loads the host whose agent token hashes to hash.
func (s *BunStore) GetHostByTokenHash(ctx context.Context, hash string) (model.Host, error) {
	var m HostModel
	if err := s.bun.NewSelect().Model(&m).Where("agent_token_hash = ?", hash).Limit(1).Scan(ctx); err != nil {
		return model.Host{}, MapDBError(err)
	}
	return hostFromModel(m), nil
}

// ListHosts returns every host ordered by name.
func (s *BunStore) ListHosts(ctx context.Context) ([]model.Host, error) {
	var ms []HostModel
	if err := s.bun.NewSelect().Model(&ms).OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	out := make([]model.Host, 0, len(ms))
	for _, m := range ms {
		out = append(out, hostFromModel(m))
	}
	return out, nil
}

// UpdateHostToken replaces the stored agent token hash of a host.
func (s *BunStore) UpdateHostToken(ctx context.Context, id, hash, prefix string, rotatedAt time.Time) error {
	res, err := ExecRaw(ctx, s.bun,
		"UPDATE hosts SET agent_token_hash = ?, agent_token_prefix = ?, token_rotated_at = ? WHERE id = ?",
		hash, prefix, rotatedAt.UTC(), id)
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
}

// TouchHost records that the host's agent was seen at seenAt. The stored
// value only ever moves forward.
func (s *BunStore) TouchHost(ctx context.Context, id string, seenAt time.Time) error {
	_, err := ExecRaw(ctx, s.bun,
		"UPDATE hosts SET last_seen_at = ? WHERE id = ? AND (last_seen_at IS NULL OR last_seen_at < ?)",
		seenAt.UTC(), id, seenAt.UTC())
	return MapDBError(err)
}

// DeleteHost removes a host that no service or action references.
func (s *BunStore) DeleteHost(ctx context.Context, id string) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		services, err := tx.NewSelect().Model((*ServiceModel)(nil)).Where("host_id = ?", id).Count(ctx)
		if err != nil {
			return MapDBError(err)
		}
		actions, err := tx.NewSelect().Model((*ActionModel)(nil)).Where("host_id = ?", id).Count(ctx)
		if err != nil {
			return MapDBError(err)
		}
		if services > 0 || actions > 0 {
			return ErrInUse
		}
		res, err := tx.NewDelete().Model((*HostModel)(nil)).Where("id = ?", id).Exec(ctx)
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
