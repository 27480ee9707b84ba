// Package dispatcher resolves request paths to data: it matches the route,
// runs its data handler under a time budget, follows service calls into the
// registry and classifies every failure. It also serves the registry over COMMS.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/approuter/pkg/apperr"
	"github.com/morezero/approuter/pkg/deadline"
	"github.com/morezero/approuter/pkg/reqctx"
	"github.com/morezero/approuter/pkg/route"
	"github.com/morezero/approuter/pkg/service"
)

const pipelineLogPrefix = "dispatcher:pipeline"

// Failure messages.
const (
	MsgRouteNotFound = "route_not_found"
	MsgNoDataHandler = "no_data_handler"
	MsgInvalidResult = "dataHandler must return a plain object or a ServiceDescriptor"
)

// TableSource supplies the route table in effect. Implementations may swap
// tables between calls.
type TableSource interface {
	Table() *route.Table
}

type staticSource struct{ t *route.Table }

func (s staticSource) Table() *route.Table { return s.t }

// StaticSource wraps a fixed table.
func StaticSource(t *route.Table) TableSource {
	return staticSource{t: t}
}

// Pipeline is the data-loading entry point for the HTTP layer.
type Pipeline struct {
	routes         TableSource
	registry       *service.Registry
	defaultTimeout time.Duration
}

// NewPipelineParams holds parameters for NewPipeline.
type NewPipelineParams struct {
	Routes   TableSource
	Registry *service.Registry
	// DefaultTimeout applies when the request context sets none. Zero is unbounded.
	DefaultTimeout time.Duration
}

// NewPipeline creates a Pipeline.
func NewPipeline(params NewPipelineParams) *Pipeline {
	routes := params.Routes
	if routes == nil {
		routes = StaticSource(nil)
	}
	return &Pipeline{
		routes:         routes,
		registry:       params.Registry,
		defaultTimeout: params.DefaultTimeout,
	}
}

// Resolve matches path, runs the route's data handler and returns its data.
// Every failure is classified, logged once and returned as *apperr.Error.
func (p *Pipeline) Resolve(ctx context.Context, path string, rc *reqctx.RequestContext) (map[string]any, error) {
	m, ok := p.routes.Table().Match(path)
	if !ok {
		return nil, p.fail(rc, apperr.New(apperr.KindDomain, MsgRouteNotFound).
			WithDetails(map[string]any{"path": path}), nil)
	}

	handler := m.Route.Attributes.DataHandler
	if handler == nil {
		return nil, p.fail(rc, apperr.New(apperr.KindDomain, MsgNoDataHandler).
			WithDetails(map[string]any{"path": path, "ownerId": m.Route.AppID}), m.Params)
	}

	if rc != nil && rc.Cancel != nil {
		var cancelJoin context.CancelFunc
		ctx, cancelJoin = deadline.Join(ctx, rc.Cancel)
		defer cancelJoin()
	}
	ctx, cancel := deadline.Compose(ctx, p.timeout(rc))
	defer cancel()
	ctx = reqctx.With(ctx, rc)

	data, err := deadline.Run(ctx, func(ctx context.Context) (map[string]any, error) {
		res, err := handler(ctx, m.Params, rc)
		if err != nil {
			return nil, err
		}
		if d, ok := res.Data(); ok {
			return d, nil
		}
		if call, ok := res.Call(); ok {
			return p.call(ctx, call, rc)
		}
		return nil, apperr.New(apperr.KindValidation, MsgInvalidResult)
	})
	if err != nil {
		return nil, p.fail(rc, err, m.Params)
	}
	return data, nil
}

// Match exposes the active table for diagnostics.
func (p *Pipeline) Match(path string) (*route.Matched, bool) {
	return p.routes.Table().Match(path)
}

func (p *Pipeline) call(ctx context.Context, call route.ServiceDescriptor, rc *reqctx.RequestContext) (map[string]any, error) {
	if p.registry == nil {
		return nil, apperr.Newf(apperr.KindInfra, "no service registry for %s.%s", call.ServiceName, call.MethodName)
	}
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	return p.registry.Call(ctx, call.ServiceName, call.MethodName, args, rc)
}

func (p *Pipeline) timeout(rc *reqctx.RequestContext) time.Duration {
	if rc != nil && rc.Timeout > 0 {
		return rc.Timeout
	}
	return p.defaultTimeout
}

// fail classifies err and logs it once at a level matching its kind.
func (p *Pipeline) fail(rc *reqctx.RequestContext, err error, params route.Params) *apperr.Error {
	e := apperr.Classify(err)

	attrs := []any{
		slog.String("component", "dispatch"),
		slog.String("kind", string(e.Kind)),
		slog.Int("status", e.Status),
	}
	if rc == nil || rc.Logger == nil {
		attrs = append(attrs, slog.String("traceId", rc.Trace()))
	}
	if e.Code != "" {
		attrs = append(attrs, slog.String("code", e.Code))
	}
	if e.Details != nil {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	if e.Hint != "" {
		attrs = append(attrs, slog.String("hint", e.Hint))
	}
	if len(params) > 0 {
		attrs = append(attrs, slog.Any("params", params))
	}
	if c := e.Cause(); c != nil && !e.Kind.Exposes() {
		attrs = append(attrs, slog.Any("error", apperr.Serialize(c)))
	}

	msg := fmt.Sprintf("%s - %s", pipelineLogPrefix, e.Message)
	if e.Kind.Warn() {
		rc.Log().Warn(msg, attrs...)
	} else {
		rc.Log().Error(msg, attrs...)
	}
	return e
}
