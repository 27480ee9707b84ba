// Package main is the entrypoint for approuter.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/morezero/approuter/internal/config"
	"github.com/morezero/approuter/internal/server"
	"github.com/morezero/approuter/pkg/db"
	"github.com/morezero/approuter/pkg/manifest"
	"github.com/morezero/approuter/pkg/reqctx"
	"github.com/morezero/approuter/pkg/route"
)

const defaultTestDatabase = "approuter_test"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "approuter",
		Short: "Route resolution and service dispatch for apps",
		Long: `approuter matches request paths against the route manifest, runs each
route's data handler and dispatches service calls in process, over COMMS or HTTP.

Environment: ROUTES_SOURCE (file|db), ROUTES_FILE, DATABASE_URL, MIGRATION_PATH,
COMMS_URL, COMMS_ENABLED, HTTP_ADDR, REQUEST_TIMEOUT, LOG_LEVEL. See README.`,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return server.Run(server.Options{})
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the router (default)",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return server.Run(server.Options{})
			},
		},
		newRoutesCmd(),
		newMigrateCmd(),
		&cobra.Command{
			Use:   "seed [file]",
			Short: "Load a route manifest into Postgres",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				file := ""
				if len(args) > 0 {
					file = args[0]
				}
				return runSeed(cmd.Context(), cmd.OutOrStdout(), file)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove all stored routes and services; schema is preserved",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
					return db.ClearRoutes(ctx, pool)
				})
			},
		},
		&cobra.Command{
			Use:   "ensure-db [name]",
			Short: "Create a database on the DATABASE_URL host if missing (default " + defaultTestDatabase + ")",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name := defaultTestDatabase
				if len(args) > 0 && args[0] != "" {
					name = args[0]
				}
				return runEnsureDB(cmd.Context(), cmd.OutOrStdout(), name)
			},
		},
	)
	return root
}

func newRoutesCmd() *cobra.Command {
	var file, path string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the route table in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoutes(cmd.OutOrStdout(), file, path)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "manifest file (default: ROUTES_FILE, then config/routes.yaml)")
	cmd.Flags().StringVar(&path, "path", "", "show every route matching this path")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the route store schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run database migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
					migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
					if err != nil {
						return fmt.Errorf("load migrations: %w", err)
					}
					return db.RunMigrations(ctx, pool, migrations)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				out := cmd.OutOrStdout()
				return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
					return db.MigrationStatus(ctx, pool, cfg.MigrationPath, out)
				})
			},
		},
	)
	return cmd
}

// withPool loads config, connects to DATABASE_URL and runs fn.
func withPool(ctx context.Context, fn func(context.Context, *config.Config, *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runSeed(ctx context.Context, out io.Writer, file string) error {
	return withPool(ctx, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		if file == "" {
			file = cfg.RoutesFile
		}
		res, err := db.SeedFile(ctx, pool, file)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Seeded %d apps, %d routes, %d services.\n", res.Apps, res.Routes, res.Services)
		return nil
	})
}

func runEnsureDB(ctx context.Context, out io.Writer, name string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	target, err := db.WithDatabaseName(cfg.DatabaseURL, name)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := db.EnsureDatabase(ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %q is ready.\n", name)
	return nil
}

// runRoutes builds the table from a manifest file without starting anything.
// Named data handlers live in code, so they are stood in for.
func runRoutes(out io.Writer, file, path string) error {
	m, found, err := manifest.Load(file)
	if err != nil {
		return err
	}
	if found == "" {
		return fmt.Errorf("no route manifest found")
	}
	routes, err := m.Routes(placeholderHandlers(m))
	if err != nil {
		return err
	}
	table, err := route.NewTable(routes)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s (%s)\n\n", found, m.Name)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tAPP\tPATH\tMODE\tPOLICIES")
	for _, mt := range table.Matchers() {
		mode := mt.Route.Attributes.RenderMode
		if mode == "" {
			mode = route.RenderSSR
		}
		fmt.Fprintf(tw, "%.1f\t%s\t%s\t%s\t%v\n", mt.Score, mt.Route.AppID, mt.Route.Path, mode, mt.Route.Attributes.Policies)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	stats := table.Stats()
	apps := make([]string, 0, len(stats.ByApp))
	for app := range stats.ByApp {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	fmt.Fprintf(out, "\n%d routes, mean score %.2f\n", stats.Total, stats.MeanScore)
	for _, app := range apps {
		fmt.Fprintf(out, "  %s: %d\n", app, stats.ByApp[app])
	}

	if path != "" {
		hits := table.MatchAll(path)
		fmt.Fprintf(out, "\n%s: %d match(es)\n", path, len(hits))
		for i, h := range hits {
			fmt.Fprintf(out, "  %d. %s [%s] score %.1f params %v\n", i+1, h.Route.Path, h.Route.AppID, h.Score, map[string]string(h.Params))
		}
	}
	return nil
}

func placeholderHandlers(m *manifest.Manifest) map[string]route.DataHandler {
	handlers := map[string]route.DataHandler{}
	for _, app := range m.Apps {
		for _, r := range app.Routes {
			if r.Data == nil || r.Data.Handler == "" {
				continue
			}
			name := r.Data.Handler
			handlers[name] = func(context.Context, route.Params, *reqctx.RequestContext) (route.Result, error) {
				return route.Result{}, fmt.Errorf("data handler %q is only available in the server", name)
			}
		}
	}
	return handlers
}
