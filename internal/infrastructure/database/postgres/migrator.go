package postgres

import (
	"embed"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

func (c *Connection) newMigrator() (*migrate.Migrate, error) {
	src, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(c.db.DB, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending migration. No pending migrations is
// not an error.
func (c *Connection) RunMigrations() error {
	m, err := c.newMigrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		version, _, _ := m.Version()
		return fmt.Errorf("failed to run migrations (current version: %d): %w", version, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
		c.logger.Warn("failed to read migration version", logging.Err(err))
	}
	c.logger.Info("database migrations completed",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// MigrationStatus returns the applied version and whether a previous
// migration failed halfway. A database with no migrations reports 0.
func (c *Connection) MigrationStatus() (uint, bool, error) {
	m, err := c.newMigrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// RollbackMigration reverts the given number of migration steps.
func (c *Connection) RollbackMigration(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be greater than 0, got %d", steps)
	}
	m, err := c.newMigrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("no migrations to roll back")
		}
		return fmt.Errorf("failed to rollback %d step(s): %w", steps, err)
	}
	return nil
}
