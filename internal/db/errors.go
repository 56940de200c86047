// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"errors"
	"strings"
)

var (
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInUse is returned when a row cannot be deleted because other rows
	// still reference it.
	ErrInUse = errors.New("record is still referenced")
)

// MapDBError maps driver errors to the package sentinels. The mapping is
// string based so this file does not depend on any SQL driver package.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	le := strings.ToLower(err.Error())
	// MySQL duplicate entry (1062), Postgres unique violation (23505), SQLite unique constraint
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") || strings.Contains(le, "1062") {
		return ErrDuplicate
	}
	// Postgres FK violation (23503), MySQL (1451), SQLite FOREIGN KEY constraint
	if strings.Contains(le, "foreign key") || strings.Contains(le, "23503") || strings.Contains(le, "1451") {
		return ErrInUse
	}
	return err
}
