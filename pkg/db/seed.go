package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/approuter/pkg/manifest"
)

const seedLogPrefix = "db:seed"

// SeedResult summarizes a seed run.
type SeedResult struct {
	Apps     int
	Routes   int
	Services int
}

// SeedManifest writes every app and service of m in one transaction. Apps in
// m replace their stored routes; apps not in m are left alone. Seeding the
// same manifest twice leaves the store unchanged apart from the revision.
func SeedManifest(ctx context.Context, pool *pgxpool.Pool, m *manifest.Manifest) (SeedResult, error) {
	var res SeedResult
	if m == nil {
		return res, nil
	}
	if err := m.Validate(); err != nil {
		return res, fmt.Errorf("%s - %w", seedLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Seeding manifest %q (%d apps, %d services)", seedLogPrefix, m.Name, len(m.Apps), len(m.Services)))

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, app := range m.Apps {
			if err := replaceApp(ctx, tx, app); err != nil {
				return err
			}
			res.Apps++
			res.Routes += len(app.Routes)
		}
		for _, s := range m.Services {
			if err := upsertService(ctx, tx, s); err != nil {
				return err
			}
			res.Services++
		}
		return bumpRevision(ctx, tx)
	})
	if err != nil {
		return SeedResult{}, err
	}

	slog.Info(fmt.Sprintf("%s - Seeded %d apps, %d routes, %d services", seedLogPrefix, res.Apps, res.Routes, res.Services))
	return res, nil
}

// SeedFile loads the manifest at path and seeds it.
func SeedFile(ctx context.Context, pool *pgxpool.Pool, path string) (SeedResult, error) {
	m, found, err := manifest.Load(path)
	if err != nil {
		return SeedResult{}, fmt.Errorf("%s - load manifest: %w", seedLogPrefix, err)
	}
	if found == "" {
		return SeedResult{}, fmt.Errorf("%s - no manifest found at %q", seedLogPrefix, path)
	}
	return SeedManifest(ctx, pool, m)
}
