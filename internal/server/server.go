// Package server orchestrates all components: COMMS client, route source,
// service registry, dispatch pipeline, reload and the HTTP front end.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/approuter/internal/config"
	"github.com/morezero/approuter/pkg/commsutil"
	"github.com/morezero/approuter/pkg/db"
	"github.com/morezero/approuter/pkg/dispatcher"
	"github.com/morezero/approuter/pkg/events"
	"github.com/morezero/approuter/pkg/manifest"
	"github.com/morezero/approuter/pkg/route"
	"github.com/morezero/approuter/pkg/service"
)

const logPrefix = "server:server"

// Server is the approuter orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	conns      *service.ConnPool
	holder     *TableHolder
	registry   *service.Registry
	pipeline   *dispatcher.Pipeline
	reloader   *Reloader
	httpServer *http.Server
	subs       []*comms.Subscription
}

// Options lets an embedding program contribute code-defined pieces.
type Options struct {
	// Handlers are data handlers that manifest routes reference by name.
	Handlers map[string]route.DataHandler
	// Services registers in-process services before the registry is frozen.
	Services func(b *service.Builder) error
	// Conn is used instead of dialing COMMS_URL when set. The server drains
	// it on shutdown.
	Conn *comms.Conn
}

// Run loads config, starts the server, blocks until SIGINT/SIGTERM, then
// cleans up. SIGHUP reloads the route table.
func Run(opts Options) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.SetDefault(cfg.NewLogger(os.Stdout))

	slog.Info(fmt.Sprintf("%s - Starting approuter", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	if err := s.ListenAndServe(); err != nil {
		s.Close()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			slog.Info(fmt.Sprintf("%s - Received SIGHUP, reloading routes", logPrefix))
			_, _ = s.reloader.Reload(ctx)
			continue
		}
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
		break
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	s.Shutdown(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// New wires every component and installs the first route table. It does not
// start listening for HTTP. Close releases what New acquired.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	s := &Server{cfg: cfg, holder: &TableHolder{}}
	if err := s.wire(ctx, opts); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) wire(ctx context.Context, opts Options) error {
	cfg := s.cfg

	// Step 1: Connect to COMMS
	switch {
	case opts.Conn != nil:
		s.nc = opts.Conn
	case cfg.COMMSEnabled:
		nc, err := commsutil.Connect(commsutil.ConnectParams{URL: cfg.COMMSURL, Name: cfg.COMMSName})
		if err != nil {
			return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
	default:
		slog.Info(fmt.Sprintf("%s - COMMS disabled; remote services and reload events are off", logPrefix))
	}
	if s.nc != nil {
		s.conns = service.NewConnPool(cfg.COMMSName, s.nc)
	}

	// Step 2: Route source (and database when routes live there)
	var source Source
	if cfg.RoutesSource == config.SourceDB {
		if err := s.openDatabase(ctx); err != nil {
			return err
		}
		source = &DBSource{Repo: db.NewRepository(s.pool)}
	} else {
		source = &FileSource{Path: cfg.RoutesFile}
	}

	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if s.nc != nil {
		publisher = events.NewCommsPublisher(s.nc, &events.CommsPublisherOpts{GlobalChangeSubject: cfg.ChangeEventSubject})
	}
	s.reloader = NewReloader(NewReloaderParams{
		Source:    source,
		Holder:    s.holder,
		Handlers:  opts.Handlers,
		Publisher: publisher,
	})

	// Step 3: First table. A broken source at startup is fatal.
	if _, err := s.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("%s - failed to load routes: %w", logPrefix, err)
	}

	// Step 4: Service registry
	if err := s.buildRegistry(opts); err != nil {
		return err
	}

	// Step 5: Pipeline
	s.pipeline = dispatcher.NewPipeline(dispatcher.NewPipelineParams{
		Routes:         s.holder,
		Registry:       s.registry,
		DefaultTimeout: cfg.RequestTimeout,
	})

	// Step 6: COMMS subscriptions
	if s.nc != nil {
		if err := s.subscribe(ctx); err != nil {
			return err
		}
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (s *Server) openDatabase(ctx context.Context) error {
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(s.cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	return nil
}

func (s *Server) buildRegistry(opts Options) error {
	b := service.NewBuilder()

	reload := func(ctx context.Context) (map[string]any, error) {
		event, err := s.reloader.Reload(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"total": event.Total, "byApp": event.ByApp, "revision": event.Revision}, nil
	}
	if err := b.Add(RouterService, routerMethods(s.holder, reload)); err != nil {
		return fmt.Errorf("%s - failed to add %s service: %w", logPrefix, RouterService, err)
	}

	if opts.Services != nil {
		if err := opts.Services(b); err != nil {
			return fmt.Errorf("%s - failed to register services: %w", logPrefix, err)
		}
	}

	if m := s.holder.manifest(); m != nil && len(m.Services) > 0 {
		err := m.RegisterServices(manifest.RegisterParams{
			Builder:       b,
			Pool:          s.conns,
			HTTPClient:    &http.Client{Timeout: 30 * time.Second},
			SubjectPrefix: s.cfg.ServiceSubjectPrefix,
		})
		if err != nil {
			return fmt.Errorf("%s - failed to register manifest services: %w", logPrefix, err)
		}
	}

	reg, err := b.Register()
	if err != nil {
		return fmt.Errorf("%s - failed to freeze registry: %w", logPrefix, err)
	}
	s.registry = reg

	var names []string
	for _, info := range reg.Services() {
		names = append(names, info.Name)
	}
	slog.Info(fmt.Sprintf("%s - Registered services: %v", logPrefix, names))
	return nil
}

// ListenAndServe starts the HTTP server in the background.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, s.httpServer.Addr, err)
	}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, ln.Addr()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()
	slog.Info(fmt.Sprintf("%s - approuter is ready", logPrefix))
	return nil
}

// Shutdown stops HTTP, unsubscribes, drains COMMS and closes the database.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
	}
	s.Close()
}

// Close releases connections without waiting for in-flight HTTP requests.
func (s *Server) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	if s.conns != nil {
		s.conns.CloseAll()
	}
	if s.nc != nil && !s.nc.IsClosed() {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}

// HealthOutput is the /health body.
type HealthOutput struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Routes    int               `json:"routes"`
	Revision  int64             `json:"revision"`
	Timestamp string            `json:"timestamp"`
}

// Health checks the route table, COMMS and the database.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{
		Status:    "healthy",
		Checks:    map[string]string{},
		Routes:    s.holder.Table().Len(),
		Revision:  s.holder.Revision(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	fail := func(name, state string) {
		h.Checks[name] = state
		h.Status = "unhealthy"
	}

	if s.holder.Loaded() {
		h.Checks["routes"] = "ok"
	} else {
		fail("routes", "not loaded")
	}

	switch {
	case s.nc == nil:
		h.Checks["comms"] = "disabled"
	case s.nc.IsConnected():
		h.Checks["comms"] = "ok"
	default:
		fail("comms", s.nc.Status().String())
	}

	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			fail("database", err.Error())
		} else {
			h.Checks["database"] = "ok"
		}
	}
	return h
}
