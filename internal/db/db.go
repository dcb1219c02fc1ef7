// Package db persists accounts and device sessions in a single SQLite
// file through database/sql and the modernc driver.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL handle; query helpers hang off it so callers never
// touch database/sql directly.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the database at path, applies pragmas,
// and runs pending schema migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}

	// busy_timeout covers the brief write lock held during WAL checkpoints.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One connection serializes writers so the atomic storage_used updates
	// never race each other inside the driver; WAL lets listing reads
	// proceed while an upload commits its delta.
	s.SetMaxOpenConns(1)
	s.SetMaxIdleConns(1)
	s.SetConnMaxLifetime(0)

	db := &DB{sql: s}
	if err := db.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) init(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := d.sql.PingContext(pingCtx); err != nil {
		return err
	}
	if _, err := d.sql.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return err
	}
	if _, err := d.sql.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return err
	}
	return Migrate(ctx, d.sql)
}

func (d *DB) Close() error {
	return d.sql.Close()
}
