package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearRoutes removes every app, route and service declaration. The schema is
// kept and the store revision is bumped so running servers pick up the change
// on their next reload.
func ClearRoutes(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing route tables", clearLogPrefix))

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE TABLE routes, route_apps, route_services RESTART IDENTITY CASCADE`); err != nil {
			return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
		}
		return bumpRevision(ctx, tx)
	})
	if err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Route tables cleared", clearLogPrefix))
	return nil
}
