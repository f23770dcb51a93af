package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyxpay/lib-offers/offers/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultMaxConns        = 25
	defaultConnectTimeout  = 10 * time.Second
	defaultHealthCheckTime = time.Minute
)

// Connection manages a pgx connection pool and schema migrations.
type Connection struct {
	pool   *pgxpool.Pool
	dsn    string
	logger log.Logger
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets a structured logger for the connection.
func WithLogger(logger log.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Connect creates a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Connection, error) {
	conn := &Connection{dsn: dsn, logger: log.NewNop()}

	for _, opt := range opts {
		opt(conn)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	if cfg.MaxConns == 0 {
		cfg.MaxConns = defaultMaxConns
	}

	cfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	cfg.HealthCheckPeriod = defaultHealthCheckTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	conn.pool = pool
	conn.logger.Log(ctx, log.LevelInfo, "postgres connected")

	return conn, nil
}

// Pool returns the underlying connection pool.
func (c *Connection) Pool() *pgxpool.Pool {
	return c.pool
}

// Migrate applies all pending schema migrations embedded in the package.
func (c *Connection) Migrate(ctx context.Context) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	migrator, err := migrate.NewWithSourceInstance("iofs", source, migrateDSN(c.dsn))
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	defer func() {
		sourceErr, dbErr := migrator.Close()
		if sourceErr != nil || dbErr != nil {
			c.logger.Log(ctx, log.LevelWarn, "close migrator failed",
				log.Any("source_error", sourceErr), log.Any("db_error", dbErr))
		}
	}()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	c.logger.Log(ctx, log.LevelInfo, "postgres migrations applied")

	return nil
}

// migrateDSN rewrites a postgres:// DSN to the scheme expected by the
// migrate pgx/v5 database driver.
func migrateDSN(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"):
		return "pgx5://" + strings.TrimPrefix(dsn, "postgres://")
	case strings.HasPrefix(dsn, "postgresql://"):
		return "pgx5://" + strings.TrimPrefix(dsn, "postgresql://")
	default:
		return dsn
	}
}

// Close releases the connection pool.
func (c *Connection) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
