// Package sqlstore implements the catalog CatalogRepository against a
// SQLite database, reached through sqlx and migrated with goose (spec §6).
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"

	"github.com/ragsync/engine/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens the catalog database at dsn and applies any pending
// migrations. dsn is a modernc.org/sqlite data source, e.g. a file path
// or ":memory:".
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening database: %w", err)
	}

	if dsn == ":memory:" {
		// A fresh in-memory database is created per connection; without
		// this, pooled connections beyond the first would see an empty
		// schema. Pin the pool to a single connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: pinging database: %w", err)
	}

	if err := runMigrations(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("sqlstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration %s (%dms)", r.Source.Path, r.Duration.Milliseconds())
	}

	return nil
}
