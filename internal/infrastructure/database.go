// Package infrastructure provides database and connection pool setup.
//
// On PostgreSQL one pgxpool is shared by the repository (through
// stdlib.OpenDBFromPool) and River, so audit appends and job inserts draw
// from the same connection budget. SQLite runs without River.
package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
	"datahub.migas.id/clearinghouse/internal/repository"
)

// DatabaseClients contains all database-related clients.
type DatabaseClients struct {
	// Pool is the shared PostgreSQL pool; nil on SQLite.
	Pool *pgxpool.Pool

	// DB is the database/sql handle behind Store.
	DB *sql.DB

	// Store is the audit and license repository.
	Store *repository.Store

	// RiverClient is the job queue client; nil until InitRiverClient and on SQLite.
	RiverClient *river.Client[pgx.Tx]

	driver string
}

// NewDatabaseClients opens the configured database.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return newSQLiteClients(ctx, cfg)
	case config.DriverPostgres, "":
		return newPostgresClients(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newPostgresClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute

	// Audit timestamps are compared as UTC.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)

	logger.Info("Database connection pool created",
		zap.String("driver", config.DriverPostgres),
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)

	return &DatabaseClients{
		Pool:   pool,
		DB:     db,
		Store:  repository.NewStore(db, repository.DialectPostgres),
		driver: config.DriverPostgres,
	}, nil
}

func newSQLiteClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	db, err := repository.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	logger.Info("SQLite database opened",
		zap.String("driver", config.DriverSQLite),
		zap.String("path", cfg.SQLitePath),
	)

	return &DatabaseClients{
		DB:     db,
		Store:  repository.NewStore(db, repository.DialectSQLite),
		driver: config.DriverSQLite,
	}, nil
}

// Driver returns the configured driver name.
func (c *DatabaseClients) Driver() string { return c.driver }

// SupportsRiver reports whether the job queue can run on this database.
func (c *DatabaseClients) SupportsRiver() bool { return c.Pool != nil }

// AutoMigrate applies the audit schema and, on PostgreSQL, River's tables.
func (c *DatabaseClients) AutoMigrate(ctx context.Context) error {
	logger.Info("Applying audit schema...", zap.String("driver", c.driver))
	if err := c.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("schema migrate: %w", err)
	}
	logger.Info("Audit schema up-to-date")

	if !c.SupportsRiver() {
		return nil
	}

	logger.Info("Running River migration...")
	migrator, err := rivermigrate.New(riverpgxv5.New(c.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed",
			zap.Int("versions_applied", len(res.Versions)),
		)
	} else {
		logger.Info("River migration: already up-to-date")
	}

	return nil
}

// InitRiverClient creates a River client with registered workers and
// periodic jobs. It is an error on SQLite.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, periodic []*river.PeriodicJob, cfg config.RiverConfig) error {
	if !c.SupportsRiver() {
		return fmt.Errorf("river requires the %s driver, have %s", config.DriverPostgres, c.driver)
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers:                     workers,
		PeriodicJobs:                periodic,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized",
		zap.Int("max_workers", maxWorkers),
		zap.Int("periodic_jobs", len(periodic)),
	)
	return nil
}

// Ping checks the database.
func (c *DatabaseClients) Ping(ctx context.Context) error {
	return c.Store.Ping(ctx)
}

// Close closes the database handles.
func (c *DatabaseClients) Close() {
	if c.DB != nil {
		_ = c.DB.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
