package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/approuter/pkg/manifest"
)

const repoLogPrefix = "db:repository"

// Repository provides database access for the route manifest store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =========================================================================
// READ OPERATIONS
// =========================================================================

// Revision returns the store revision. It increases on every write.
func (r *Repository) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := r.pool.QueryRow(ctx, `SELECT revision FROM route_state WHERE id = 1`).Scan(&rev)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s - Revision failed: %w", repoLogPrefix, err)
	}
	return rev, nil
}

// ListApps returns all apps ordered by id.
func (r *Repository) ListApps(ctx context.Context) ([]AppRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT app_id, revision, created, modified
		 FROM route_apps
		 ORDER BY app_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListApps failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var apps []AppRow
	for rows.Next() {
		var a AppRow
		if err := rows.Scan(&a.AppID, &a.Revision, &a.Created, &a.Modified); err != nil {
			return nil, fmt.Errorf("%s - ListApps scan failed: %w", repoLogPrefix, err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// ListRoutes returns routes in declaration order, optionally for one app.
func (r *Repository) ListRoutes(ctx context.Context, appID string) ([]RouteRow, error) {
	slog.Debug(fmt.Sprintf("%s - ListRoutes app=%s", repoLogPrefix, appID))

	query := `SELECT id, app_id, position, path, render_mode, policies, data
	          FROM routes`
	var args []any
	if appID != "" {
		query += ` WHERE app_id = $1`
		args = append(args, appID)
	}
	query += ` ORDER BY app_id ASC, position ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - ListRoutes query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []RouteRow
	for rows.Next() {
		var rr RouteRow
		if err := rows.Scan(&rr.ID, &rr.AppID, &rr.Position, &rr.Path, &rr.RenderMode, &rr.Policies, &rr.Data); err != nil {
			return nil, fmt.Errorf("%s - ListRoutes scan failed: %w", repoLogPrefix, err)
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// ListServices returns all declared remote services ordered by name and version.
func (r *Repository) ListServices(ctx context.Context) ([]ServiceRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, version, description, subject, nats_url, url, methods, modified
		 FROM route_services
		 ORDER BY name ASC, version ASC`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListServices failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []ServiceRow
	for rows.Next() {
		var s ServiceRow
		if err := rows.Scan(&s.Name, &s.Version, &s.Description, &s.Subject, &s.NatsURL, &s.URL, &s.Methods, &s.Modified); err != nil {
			return nil, fmt.Errorf("%s - ListServices scan failed: %w", repoLogPrefix, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadManifest assembles the stored apps, routes and services into a
// validated manifest, together with the revision it was read at.
func (r *Repository) LoadManifest(ctx context.Context) (*manifest.Manifest, int64, error) {
	rev, err := r.Revision(ctx)
	if err != nil {
		return nil, 0, err
	}
	apps, err := r.ListApps(ctx)
	if err != nil {
		return nil, 0, err
	}
	routes, err := r.ListRoutes(ctx, "")
	if err != nil {
		return nil, 0, err
	}
	services, err := r.ListServices(ctx)
	if err != nil {
		return nil, 0, err
	}

	m := &manifest.Manifest{Name: "db", Version: fmt.Sprintf("%d", rev)}
	idx := make(map[string]int, len(apps))
	for _, a := range apps {
		idx[a.AppID] = len(m.Apps)
		m.Apps = append(m.Apps, manifest.App{ID: a.AppID})
	}
	for _, rr := range routes {
		i, ok := idx[rr.AppID]
		if !ok {
			continue
		}
		spec, err := rr.toSpec()
		if err != nil {
			return nil, 0, err
		}
		m.Apps[i].Routes = append(m.Apps[i].Routes, spec)
	}
	for _, s := range services {
		m.Services = append(m.Services, s.toSpec())
	}

	if err := m.Validate(); err != nil {
		return nil, 0, fmt.Errorf("%s - stored manifest is invalid: %w", repoLogPrefix, err)
	}
	return m, rev, nil
}

// =========================================================================
// WRITE OPERATIONS
// =========================================================================

// ReplaceApp stores app, replacing every route it had before.
func (r *Repository) ReplaceApp(ctx context.Context, app manifest.App) error {
	slog.Info(fmt.Sprintf("%s - ReplaceApp app=%s routes=%d", repoLogPrefix, app.ID, len(app.Routes)))

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := replaceApp(ctx, tx, app); err != nil {
			return err
		}
		return bumpRevision(ctx, tx)
	})
}

// DeleteApp removes an app and its routes. It reports whether the app existed.
func (r *Repository) DeleteApp(ctx context.Context, appID string) (bool, error) {
	slog.Info(fmt.Sprintf("%s - DeleteApp app=%s", repoLogPrefix, appID))

	var deleted bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM route_apps WHERE app_id = $1`, appID)
		if err != nil {
			return fmt.Errorf("%s - DeleteApp failed: %w", repoLogPrefix, err)
		}
		deleted = tag.RowsAffected() > 0
		if !deleted {
			return nil
		}
		return bumpRevision(ctx, tx)
	})
	return deleted, err
}

// UpsertService creates or replaces a remote service declaration.
func (r *Repository) UpsertService(ctx context.Context, s manifest.ServiceSpec) error {
	slog.Info(fmt.Sprintf("%s - UpsertService %s", repoLogPrefix, serviceKey(s)))

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := upsertService(ctx, tx, s); err != nil {
			return err
		}
		return bumpRevision(ctx, tx)
	})
}

func replaceApp(ctx context.Context, tx pgx.Tx, app manifest.App) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO route_apps (app_id) VALUES ($1)
		 ON CONFLICT (app_id) DO UPDATE SET
		   revision = route_apps.revision + 1,
		   modified = NOW()`, app.ID)
	if err != nil {
		return fmt.Errorf("%s - upsert app %s: %w", repoLogPrefix, app.ID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM routes WHERE app_id = $1`, app.ID); err != nil {
		return fmt.Errorf("%s - clear routes of %s: %w", repoLogPrefix, app.ID, err)
	}

	batch := &pgx.Batch{}
	for i, rs := range app.Routes {
		data, err := encodeData(rs.Data)
		if err != nil {
			return fmt.Errorf("%s - app %s route %s: %w", repoLogPrefix, app.ID, rs.Path, err)
		}
		mode := rs.RenderMode
		if mode == "" {
			mode = "ssr"
		}
		policies := rs.Policies
		if policies == nil {
			policies = []string{}
		}
		batch.Queue(
			`INSERT INTO routes (app_id, position, path, render_mode, policies, data)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			app.ID, i, rs.Path, mode, policies, data)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s - insert routes of %s: %w", repoLogPrefix, app.ID, err)
	}
	return nil
}

func upsertService(ctx context.Context, tx pgx.Tx, s manifest.ServiceSpec) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO route_services (name, version, description, subject, nats_url, url, methods)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name, version) DO UPDATE SET
		   description = EXCLUDED.description,
		   subject = EXCLUDED.subject,
		   nats_url = EXCLUDED.nats_url,
		   url = EXCLUDED.url,
		   methods = EXCLUDED.methods,
		   modified = NOW()`,
		s.Name, s.Version, nullable(s.Description), nullable(s.Subject), nullable(s.NatsURL), nullable(s.URL), s.Methods)
	if err != nil {
		return fmt.Errorf("%s - upsert service %s: %w", repoLogPrefix, serviceKey(s), err)
	}
	return nil
}

func bumpRevision(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO route_state (id, revision) VALUES (1, 1)
		 ON CONFLICT (id) DO UPDATE SET revision = route_state.revision + 1, modified = NOW()`)
	if err != nil {
		return fmt.Errorf("%s - bump revision: %w", repoLogPrefix, err)
	}
	return nil
}

// =========================================================================
// ROW CONVERSION
// =========================================================================

func encodeData(d *manifest.DataSpec) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func (rr RouteRow) toSpec() (manifest.RouteSpec, error) {
	spec := manifest.RouteSpec{
		Path:       rr.Path,
		RenderMode: rr.RenderMode,
		Policies:   rr.Policies,
	}
	if len(rr.Policies) == 0 {
		spec.Policies = nil
	}
	if len(rr.Data) > 0 && string(rr.Data) != "null" {
		var d manifest.DataSpec
		if err := json.Unmarshal(rr.Data, &d); err != nil {
			return spec, fmt.Errorf("%s - route %d has invalid data: %w", repoLogPrefix, rr.ID, err)
		}
		spec.Data = &d
	}
	return spec, nil
}

func (s ServiceRow) toSpec() manifest.ServiceSpec {
	return manifest.ServiceSpec{
		Name:        s.Name,
		Version:     s.Version,
		Description: deref(s.Description),
		Subject:     deref(s.Subject),
		NatsURL:     deref(s.NatsURL),
		URL:         deref(s.URL),
		Methods:     s.Methods,
	}
}

func serviceKey(s manifest.ServiceSpec) string {
	if s.Version == "" {
		return s.Name
	}
	return s.Name + "@" + s.Version
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
