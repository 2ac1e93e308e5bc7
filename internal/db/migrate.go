// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/toeirei/iscsictl/internal/logging"
)

//go:embed migrations
var embeddedMigrations embed.FS

// RunMigrations applies every embedded migration for dbType that is not yet
// recorded in schema_migrations. Each migration runs in its own transaction.
func RunMigrations(db *sql.DB, dbType string) error {
	start := time.Now()
	migrationsPath := "migrations/" + dbType

	entries, err := fs.ReadDir(embeddedMigrations, migrationsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no migrations for database type %s", dbType)
		}
		return fmt.Errorf("failed to read embedded migrations (%s): %w", migrationsPath, err)
	}
	var ups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	sort.Strings(ups)

	versionType := "TEXT"
	if dbType == "mysql" {
		// MySQL cannot index TEXT without a prefix length.
		versionType = "VARCHAR(191)"
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version ` + versionType + ` PRIMARY KEY, applied_at TIMESTAMP)`); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	placeholder := func(n int) string {
		if dbType == "postgres" {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}

	for _, fname := range ups {
		version := strings.TrimSuffix(fname, ".up.sql")

		var exists int
		err := db.QueryRow("SELECT 1 FROM schema_migrations WHERE version = "+placeholder(1), version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check migration version %s: %w", version, err)
		}

		data, err := embeddedMigrations.ReadFile(path.Join(migrationsPath, fname))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", fname, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", version, err)
		}
		for _, stmt := range splitStatements(string(data)) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("failed to execute migration %s: %w", version, err)
			}
		}
		insert := "INSERT INTO schema_migrations(version, applied_at) VALUES(" + placeholder(1) + ", " + placeholder(2) + ")"
		if _, err := tx.Exec(insert, version, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}
		logging.Debugf("db: applied migration %s", version)
	}
	logging.Debugf("db: migrations for %s completed in %s", dbType, time.Since(start))
	return nil
}

// splitStatements cuts a migration file at semicolons. Migrations must not
// contain semicolons inside string literals.
func splitStatements(sqlText string) []string {
	var out []string
	for _, s := range strings.Split(sqlText, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
