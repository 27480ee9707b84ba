package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/morezero/approuter/pkg/apperr"
	"github.com/morezero/approuter/pkg/reqctx"
)

const httpLogPrefix = "server:http"

// Request headers.
const (
	HeaderTraceID   = "X-Trace-Id"
	HeaderTimeoutMs = "X-Request-Timeout-Ms"
)

var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{8,64}$`)

type traceKey struct{}

// Handler returns the HTTP handler: health, route diagnostics and data
// resolution for every other GET path.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.Use(traceMiddleware)
	r.Use(accessLog)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/_routes", func(r chi.Router) {
		r.Get("/", s.handleRoutes)
		r.Get("/match", s.handleMatch)
		r.Post("/reload", s.handleReload)
	})

	r.Get("/*", s.handleResolve)
	return r
}

// traceMiddleware accepts a well-formed X-Trace-Id or generates one, and
// echoes it on the response.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace := r.Header.Get(HeaderTraceID)
		if !traceIDPattern.MatchString(trace) {
			trace = uuid.NewString()
		}
		w.Header().Set(HeaderTraceID, trace)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceKey{}, trace)))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug(fmt.Sprintf("%s - %s %s %d %s", httpLogPrefix, r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond)),
			slog.String("traceId", traceFrom(r.Context())))
	})
}

func traceFrom(ctx context.Context) string {
	trace, _ := ctx.Value(traceKey{}).(string)
	return trace
}

// requestContext builds the per-request context handed to data handlers.
func (s *Server) requestContext(r *http.Request) *reqctx.RequestContext {
	trace := traceFrom(r.Context())
	return &reqctx.RequestContext{
		TraceID: trace,
		Headers: r.Header.Clone(),
		Logger: slog.Default().With(
			slog.String("traceId", trace),
			slog.String("method", r.Method),
			slog.String("url", r.URL.RequestURI()),
		),
		Timeout: requestTimeout(s.cfg.RequestTimeout, r.Header.Get(HeaderTimeoutMs)),
	}
}

// requestTimeout lets a caller shorten, never extend, the configured budget.
// A configured zero is unbounded.
func requestTimeout(configured time.Duration, header string) time.Duration {
	ms, err := strconv.Atoi(header)
	if err != nil || ms <= 0 {
		return configured
	}
	asked := time.Duration(ms) * time.Millisecond
	if configured > 0 && configured < asked {
		return configured
	}
	return asked
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	rc := s.requestContext(r)
	data, err := s.pipeline.Resolve(r.Context(), r.URL.EscapedPath(), rc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()

	h := s.Health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.holder.Loaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "revision": s.holder.Revision()})
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	matchers := s.holder.Table().Matchers()
	routes := make([]map[string]any, 0, len(matchers))
	for _, m := range matchers {
		routes = append(routes, matcherInfo(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": statsInfo(s.holder), "routes": routes})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apperr.New(apperr.KindValidation, "path query parameter is required").WithCode("INVALID_ARGUMENT"))
		return
	}
	hits := s.holder.Table().MatchAll(path)
	candidates := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		candidates = append(candidates, matchedInfo(h))
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "matched": len(hits) > 0, "candidates": candidates})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeError(w, apperr.New(apperr.KindInfra, "reload is not available"))
		return
	}
	event, err := s.reloader.Reload(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// writeError writes the external form of a failure: status plus {error, code}.
func writeError(w http.ResponseWriter, err error) {
	e := apperr.Classify(err)
	writeJSON(w, e.Status, e.Body())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug(fmt.Sprintf("%s - failed to write response: %v", httpLogPrefix, err))
	}
}
