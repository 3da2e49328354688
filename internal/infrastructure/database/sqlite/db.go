// Package sqlite is the default single-file workflow.Repository. Sessions are
// stored as JSON documents next to the columns List orders by.
package sqlite

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Open connects to the database file at path and applies pending migrations.
// The pool is limited to one connection; SQLite serializes writers anyway.
func Open(ctx context.Context, path string, log logging.Logger) (*sqlx.DB, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	applied, err := migrate(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info("session database ready", logging.String("path", path), logging.Int("migrations_applied", applied))
	return db, nil
}

func migrate(ctx context.Context, db *sqlx.DB) (int, error) {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("loading migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, fsys)
	if err != nil {
		return 0, fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("applying migrations: %w", err)
	}
	return len(results), nil
}
