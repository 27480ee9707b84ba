// Package db stores the route manifest in Postgres via pgx.
package db

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// PoolParams tunes the connection pool. Zero values use the defaults.
type PoolParams struct {
	MaxConns int32
	MinConns int32
}

// NewPool creates a new pgx connection pool from the given database URL and
// verifies connectivity.
func NewPool(ctx context.Context, databaseURL string, params ...PoolParams) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	// The route store is read on startup and reload only.
	config.MaxConns = 4
	config.MinConns = 1
	for _, p := range params {
		if p.MaxConns > 0 {
			config.MaxConns = p.MaxConns
		}
		if p.MinConns > 0 {
			config.MinConns = p.MinConns
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// RunMigrations applies SQL migrations in order. Every migration is written to
// be re-runnable.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrations)))

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", logPrefix, m.Name, err)
		}
		slog.Debug(fmt.Sprintf("%s - Applied %s", logPrefix, m.Name))
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// SchemaPresent reports whether the route tables exist.
func SchemaPresent(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'routes')`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s - failed to check schema: %w", logPrefix, err)
	}
	return exists, nil
}

// MigrationStatus writes whether the schema is present and how many migration
// files are available.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string, w io.Writer) error {
	exists, err := SchemaPresent(ctx, pool)
	if err != nil {
		return err
	}
	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return err
	}

	if exists {
		fmt.Fprintf(w, "Migration status: applied (schema present, %d migration files in %s)\n", len(files), migrationPath)
	} else {
		fmt.Fprintf(w, "Migration status: not applied (run 'approuter migrate up'). %d migration files in %s\n", len(files), migrationPath)
	}
	return nil
}
