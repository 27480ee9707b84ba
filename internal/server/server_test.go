package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/morezero/approuter/internal/config"
	"github.com/morezero/approuter/pkg/reqctx"
	"github.com/morezero/approuter/pkg/route"
	"github.com/morezero/approuter/pkg/service"
)

const serverTestPrefix = "server:server_test"

const testRoutes = `name: test
apps:
  - id: shop
    routes:
      - path: /products/featured
        data:
          static:
            featured: true
      - path: /users/:id
        policies: [auth]
        data:
          service: users
          method: get
      - path: /slow
        data:
          service: users
          method: slow
      - path: /boom
        data:
          handler: boom
  - id: marketing
    routes:
      - path: /about
`

func writeRoutes(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("%s - failed to write routes: %v", serverTestPrefix, err)
	}
}

func testOptions() Options {
	return Options{
		Handlers: map[string]route.DataHandler{
			"boom": func(context.Context, route.Params, *reqctx.RequestContext) (route.Result, error) {
				panic("kaboom")
			},
		},
		Services: func(b *service.Builder) error {
			return b.Add("users", service.Methods{
				"get": {Handler: func(_ context.Context, params map[string]any, rc *reqctx.RequestContext) (map[string]any, error) {
					return map[string]any{"id": params["id"], "trace": rc.Trace()}, nil
				}},
				"slow": {Handler: func(ctx context.Context, _ map[string]any, _ *reqctx.RequestContext) (map[string]any, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				}},
			})
		},
	}
}

// newTestServer builds a Server over a temporary routes file with COMMS off.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	routesFile := filepath.Join(t.TempDir(), "routes.yaml")
	writeRoutes(t, routesFile, testRoutes)

	cfg := &config.Config{
		RoutesSource:       config.SourceFile,
		RoutesFile:         routesFile,
		HealthCheckTimeout: 5 * time.Second,
		ShutdownTimeout:    time.Second,
		HTTPAddr:           "127.0.0.1:0",
	}
	s, err := New(context.Background(), cfg, testOptions())
	if err != nil {
		t.Fatalf("%s - New failed: %v", serverTestPrefix, err)
	}
	t.Cleanup(s.Close)
	return s, routesFile
}

func doGet(t *testing.T, h http.Handler, target string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s - %s: response is not JSON: %q", serverTestPrefix, target, rec.Body.String())
	}
	return rec, body
}

func TestResolve(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name       string
		target     string
		headers    map[string]string
		wantStatus int
		wantBody   map[string]any
	}{
		{"static data", "/products/featured", nil, http.StatusOK, map[string]any{"featured": true}},
		{"service call", "/users/7", map[string]string{HeaderTraceID: "trace-0000-0001"}, http.StatusOK,
			map[string]any{"id": "7", "trace": "trace-0000-0001"}},
		{"unknown path", "/nope", nil, http.StatusNotFound, map[string]any{"error": "route_not_found"}},
		{"route without data", "/about", nil, http.StatusNotFound, map[string]any{"error": "no_data_handler"}},
		{"handler panic", "/boom", nil, http.StatusInternalServerError, map[string]any{"error": "internal error"}},
		{"caller timeout", "/slow", map[string]string{HeaderTimeoutMs: "20"}, http.StatusGatewayTimeout,
			map[string]any{"error": "internal error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doGet(t, h, tt.target, tt.headers)
			if rec.Code != tt.wantStatus {
				t.Fatalf("%s - status = %d, want %d (body %v)", serverTestPrefix, rec.Code, tt.wantStatus, body)
			}
			for k, want := range tt.wantBody {
				if body[k] != want {
					t.Errorf("%s - body[%q] = %v, want %v", serverTestPrefix, k, body[k], want)
				}
			}
		})
	}
}

func TestTraceHeader(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, _ := doGet(t, h, "/products/featured", map[string]string{HeaderTraceID: "abcd1234-ef"})
	if got := rec.Header().Get(HeaderTraceID); got != "abcd1234-ef" {
		t.Errorf("%s - valid trace id not echoed, got %q", serverTestPrefix, got)
	}

	rec, _ = doGet(t, h, "/products/featured", map[string]string{HeaderTraceID: "bad id!"})
	got := rec.Header().Get(HeaderTraceID)
	if got == "bad id!" || len(got) != 36 {
		t.Errorf("%s - invalid trace id should be replaced by a uuid, got %q", serverTestPrefix, got)
	}
}

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		name       string
		configured time.Duration
		header     string
		want       time.Duration
	}{
		{"no header", time.Second, "", time.Second},
		{"unbounded config", 0, "250", 250 * time.Millisecond},
		{"header shortens", time.Second, "100", 100 * time.Millisecond},
		{"header cannot extend", time.Second, "5000", time.Second},
		{"garbage header", time.Second, "soon", time.Second},
		{"negative header", 0, "-5", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestTimeout(tt.configured, tt.header); got != tt.want {
				t.Errorf("%s - requestTimeout = %v, want %v", serverTestPrefix, got, tt.want)
			}
		})
	}
}

func TestDiagnostics(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, body := doGet(t, h, "/_routes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - /_routes status = %d", serverTestPrefix, rec.Code)
	}
	stats := body["stats"].(map[string]any)
	if stats["total"] != float64(5) {
		t.Errorf("%s - total = %v, want 5", serverTestPrefix, stats["total"])
	}
	routes := body["routes"].([]any)
	first := routes[0].(map[string]any)
	if first["path"] != "/products/featured" {
		t.Errorf("%s - highest scoring route = %v", serverTestPrefix, first["path"])
	}

	_, body = doGet(t, h, "/_routes/match?path=/users/42", nil)
	if body["matched"] != true {
		t.Fatalf("%s - expected match, got %v", serverTestPrefix, body)
	}
	best := body["candidates"].([]any)[0].(map[string]any)
	if best["path"] != "/users/:id" || best["params"].(map[string]any)["id"] != "42" {
		t.Errorf("%s - unexpected best candidate %v", serverTestPrefix, best)
	}

	rec, body = doGet(t, h, "/_routes/match", nil)
	if rec.Code != http.StatusBadRequest || body["code"] != "INVALID_ARGUMENT" {
		t.Errorf("%s - missing path: status %d body %v", serverTestPrefix, rec.Code, body)
	}
}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, body := doGet(t, h, "/health", nil)
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("%s - health: status %d body %v", serverTestPrefix, rec.Code, body)
	}
	checks := body["checks"].(map[string]any)
	if checks["comms"] != "disabled" || checks["routes"] != "ok" {
		t.Errorf("%s - unexpected checks %v", serverTestPrefix, checks)
	}

	rec, body = doGet(t, h, "/ready", nil)
	if rec.Code != http.StatusOK || body["status"] != "ready" {
		t.Errorf("%s - ready: status %d body %v", serverTestPrefix, rec.Code, body)
	}

	empty := &Server{cfg: s.cfg, holder: &TableHolder{}}
	rec, _ = doGet(t, empty.Handler(), "/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - ready before load: status %d", serverTestPrefix, rec.Code)
	}
}

func TestReloadOverHTTP(t *testing.T) {
	s, routesFile := newTestServer(t)
	h := s.Handler()
	startRev := s.holder.Revision()

	post := func() (*httptest.ResponseRecorder, map[string]any) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_routes/reload", nil))
		body := map[string]any{}
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		return rec, body
	}

	writeRoutes(t, routesFile, testRoutes+`      - path: /press
        data:
          static:
            press: true
`)
	rec, body := post()
	if rec.Code != http.StatusOK || body["total"] != float64(6) {
		t.Fatalf("%s - reload: status %d body %v", serverTestPrefix, rec.Code, body)
	}
	if s.holder.Revision() <= startRev {
		t.Errorf("%s - revision did not advance", serverTestPrefix)
	}
	if rec, _ := doGet(t, h, "/press", nil); rec.Code != http.StatusOK {
		t.Errorf("%s - new route not served: %d", serverTestPrefix, rec.Code)
	}

	// A broken manifest keeps the previous table.
	writeRoutes(t, routesFile, "apps:\n  - id: shop\n    routes:\n      - path: no-slash\n")
	rec, body = post()
	if rec.Code != http.StatusBadRequest || body["code"] != "RELOAD_FAILED" {
		t.Errorf("%s - broken reload: status %d body %v", serverTestPrefix, rec.Code, body)
	}
	if rec, _ := doGet(t, h, "/press", nil); rec.Code != http.StatusOK {
		t.Errorf("%s - previous table should stay active, got %d", serverTestPrefix, rec.Code)
	}
}

func TestNew_FailsOnBrokenRoutes(t *testing.T) {
	routesFile := filepath.Join(t.TempDir(), "routes.yaml")
	writeRoutes(t, routesFile, "apps:\n  - id: shop\n    routes:\n      - path: /x\n        data:\n          handler: missing\n")

	cfg := &config.Config{RoutesSource: config.SourceFile, RoutesFile: routesFile, HealthCheckTimeout: time.Second}
	_, err := New(context.Background(), cfg, Options{})
	if err == nil || !strings.Contains(err.Error(), "unknown data handler") {
		t.Errorf("%s - expected unknown handler error, got %v", serverTestPrefix, err)
	}
}

func TestReloadOverHTTP_SourceFailureIsNotExposed(t *testing.T) {
	holder := &TableHolder{}
	src := &stubSource{m: staticManifest("/a")}
	s := &Server{
		cfg:      &config.Config{HealthCheckTimeout: time.Second},
		holder:   holder,
		reloader: NewReloader(NewReloaderParams{Source: src, Holder: holder}),
	}
	if _, err := s.reloader.Reload(context.Background()); err != nil {
		t.Fatalf("%s - initial reload failed: %v", serverTestPrefix, err)
	}

	src.err = errors.New(`failed to connect to host=10.1.2.3 user=router database=routes: dial tcp: connection refused`)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_routes/reload", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("%s - status = %d, want 500", serverTestPrefix, rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"internal error"`) {
		t.Errorf("%s - body should carry the generic message, got %s", serverTestPrefix, body)
	}
	for _, leak := range []string{"10.1.2.3", "database=routes", "dial tcp"} {
		if strings.Contains(body, leak) {
			t.Errorf("%s - body leaks %q: %s", serverTestPrefix, leak, body)
		}
	}
}
