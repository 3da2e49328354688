// Package postgres is the shared-database workflow.Repository, for
// deployments where several engine processes serve the same sessions.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// sqlOpen is a variable to allow mocking in tests.
var sqlOpen = func(driverName, dataSourceName string) (*sql.DB, error) {
	return sql.Open(driverName, dataSourceName)
}

// Config holds the database configuration.
type Config struct {
	Host             string
	Port             int
	Database         string
	Username         string
	Password         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
}

// Connection manages the PostgreSQL connection pool.
type Connection struct {
	db     *sqlx.DB
	logger logging.Logger
	once   sync.Once
}

// NewConnection opens the pool through the pgx driver and pings it.
func NewConnection(cfg Config, log logging.Logger) (*Connection, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	db, err := sqlOpen("pgx", buildDSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to open database connection")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "database connection failed")
	}

	log.Info("connected to postgres",
		logging.String("host", cfg.Host),
		logging.Int("port", cfg.Port),
		logging.String("database", cfg.Database),
	)
	return NewConnectionWithDB(db, log), nil
}

// NewConnectionWithDB wraps an existing pool.
func NewConnectionWithDB(db *sql.DB, log logging.Logger) *Connection {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Connection{db: sqlx.NewDb(db, "pgx"), logger: log}
}

func (c *Connection) DB() *sqlx.DB { return c.db }

// HealthCheck pings the database and warns when the pool is nearly
// exhausted.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "database health check failed")
	}
	stats := c.db.Stats()
	if stats.MaxOpenConnections > 0 {
		usage := float64(stats.InUse) / float64(stats.MaxOpenConnections)
		if usage > 0.8 {
			c.logger.Warn("high database connection pool usage",
				logging.Int("in_use", stats.InUse),
				logging.Int("max_open", stats.MaxOpenConnections),
				logging.Float64("usage", usage),
			)
		}
	}
	return nil
}

func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		err = c.db.Close()
		if err != nil {
			c.logger.Error("failed to close postgres connection", logging.Err(err))
		}
	})
	return err
}

func buildDSN(cfg Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.Database,
	}
	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	} else {
		q.Set("sslmode", "disable")
	}
	if cfg.StatementTimeout > 0 {
		q.Set("statement_timeout", fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds()))
	} else {
		q.Set("statement_timeout", "30000")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
