package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// The schema lives in embedded .sql files applied in lexical order.
// 0001_init.sql creates the accounts table (credential hash, root path,
// storage counters) and the device_sessions table backing refresh token
// rotation. Applied migrations are recorded under name:sha256, so editing
// a shipped file shows up as a new migration instead of being skipped.

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	name string
	id   string
	sql  string
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  id TEXT PRIMARY KEY,
  applied_at INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}

	ms, err := loadMigrations()
	if err != nil {
		return err
	}
	for _, m := range ms {
		done, err := migrationApplied(ctx, db, m.id)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if err := runMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migrate schema (%s): %w", m.name, err)
		}
	}
	return nil
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var ms []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(body)
		ms = append(ms, migration{
			name: e.Name(),
			id:   e.Name() + ":" + hex.EncodeToString(sum[:]),
			sql:  string(body),
		})
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].name < ms[j].name })
	return ms, nil
}

func migrationApplied(ctx context.Context, db *sql.DB, id string) (bool, error) {
	var v string
	err := db.QueryRowContext(ctx, "SELECT id FROM schema_migrations WHERE id = ?", id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// runMigration applies one file and records it in the same transaction,
// so a failed statement leaves the ledger untouched.
func runMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations(id, applied_at) VALUES(?, strftime('%s','now'))", m.id); err != nil {
		return err
	}
	return tx.Commit()
}
