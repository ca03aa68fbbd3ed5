// Package postgres provides the PostgreSQL case store, checkpoint store and
// similarity record store, plus the connection pool and migration runner.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/pressly/goose/v3"

	"github.com/Strob0t/ModGuard/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewPool opens the pool and pings it once so a bad DSN fails at startup.
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// migrate opens a database/sql handle on dsn and runs fn with a goose
// provider over the embedded migrations.
func migrate(dsn string, fn func(p *goose.Provider) error) error {
	dir, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()

	p, err := goose.NewProvider(goose.DialectPostgres, db, dir)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	return fn(p)
}

// RunMigrations applies every pending migration.
func RunMigrations(ctx context.Context, dsn string) error {
	return migrate(dsn, func(p *goose.Provider) error {
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		for _, r := range results {
			slog.InfoContext(ctx, "migration applied", "version", r.Source.Version, "duration", r.Duration)
		}
		return nil
	})
}

// RollbackMigrations rolls back the last steps migrations.
func RollbackMigrations(ctx context.Context, dsn string, steps int) error {
	return migrate(dsn, func(p *goose.Provider) error {
		for range steps {
			r, err := p.Down(ctx)
			if err != nil {
				return fmt.Errorf("rollback: %w", err)
			}
			slog.InfoContext(ctx, "migration rolled back", "version", r.Source.Version)
		}
		return nil
	})
}

// MigrationVersion returns the version of the last applied migration.
func MigrationVersion(ctx context.Context, dsn string) (int64, error) {
	var version int64
	err := migrate(dsn, func(p *goose.Provider) error {
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("get version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}
