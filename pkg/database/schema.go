package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is valid for both Postgres and SQLite
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		store_hash TEXT NOT NULL UNIQUE,
		access_token TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		admin_user_id TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS store_users (
		store_id TEXT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (store_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_store_users_user_id ON store_users(user_id)`,
}

// Execer is satisfied by *sql.DB, *sql.Tx and their sqlx wrappers
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Apply creates the tenancy tables if they do not exist
func Apply(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
