// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"errors"
	"strings"
)

var (
	// ErrDuplicate is returned when a record with the same id already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("record not found")
)

// MapDBError maps driver-specific constraint violations to ErrDuplicate.
// The match is string based so no driver package is needed here.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	le := strings.ToLower(err.Error())
	// MySQL duplicate entry, Postgres unique violation (23505), SQLite unique constraint
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") || strings.Contains(le, "1062") {
		return ErrDuplicate
	}
	return err
}
