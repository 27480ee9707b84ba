package server

import (
	"context"
	"time"

	"github.com/morezero/approuter/pkg/apperr"
	"github.com/morezero/approuter/pkg/reqctx"
	"github.com/morezero/approuter/pkg/route"
	"github.com/morezero/approuter/pkg/service"
)

// RouterService is the name of the built-in service exposing the route table.
const RouterService = "router"

// routerMethods builds the built-in router service over the holder. reload
// may be nil when the process cannot reload.
func routerMethods(holder *TableHolder, reload func(context.Context) (map[string]any, error)) service.Methods {
	methods := service.Methods{
		"stats": {
			Description: "Route table statistics",
			Handler: func(context.Context, map[string]any, *reqctx.RequestContext) (map[string]any, error) {
				return statsInfo(holder), nil
			},
		},
		"routes": {
			Description: "Routes in match order",
			Handler: func(context.Context, map[string]any, *reqctx.RequestContext) (map[string]any, error) {
				matchers := holder.Table().Matchers()
				out := make([]map[string]any, 0, len(matchers))
				for _, m := range matchers {
					out = append(out, matcherInfo(m))
				}
				return map[string]any{"routes": out, "revision": holder.Revision()}, nil
			},
		},
		"match": {
			Description:     "Match a path against the active table",
			ParamsValidator: requirePath,
			Handler: func(_ context.Context, params map[string]any, _ *reqctx.RequestContext) (map[string]any, error) {
				path := params["path"].(string)
				hits := holder.Table().MatchAll(path)
				out := make([]map[string]any, 0, len(hits))
				for _, h := range hits {
					out = append(out, matchedInfo(h))
				}
				res := map[string]any{"path": path, "matched": len(hits) > 0, "candidates": out}
				if len(hits) > 0 {
					res["best"] = out[0]
				}
				return res, nil
			},
		},
	}
	if reload != nil {
		methods["reload"] = service.MethodDef{
			Description: "Reload the route table from its source",
			Handler: func(ctx context.Context, _ map[string]any, _ *reqctx.RequestContext) (map[string]any, error) {
				return reload(ctx)
			},
		}
	}
	return methods
}

func requirePath(_ context.Context, params map[string]any) (map[string]any, error) {
	path, ok := params["path"].(string)
	if !ok || path == "" {
		return nil, apperr.New(apperr.KindValidation, "path is required").WithCode("INVALID_ARGUMENT")
	}
	return params, nil
}

func statsInfo(holder *TableHolder) map[string]any {
	table := holder.Table()
	stats := table.Stats()
	info := map[string]any{
		"total":        stats.Total,
		"meanScore":    stats.MeanScore,
		"byApp":        stats.ByApp,
		"byPolicy":     stats.ByPolicy,
		"byRenderMode": stats.ByRenderMode,
		"revision":     holder.Revision(),
	}
	if built := table.BuiltAt(); !built.IsZero() {
		info["builtAt"] = built.UTC().Format(time.RFC3339)
	}
	return info
}

func matcherInfo(m *route.Matcher) map[string]any {
	mode := m.Route.Attributes.RenderMode
	if mode == "" {
		mode = route.RenderSSR
	}
	policies := m.Route.Attributes.Policies
	if policies == nil {
		policies = []string{}
	}
	return map[string]any{
		"path":       m.Route.Path,
		"appId":      m.Route.AppID,
		"score":      m.Score,
		"renderMode": string(mode),
		"policies":   policies,
		"hasData":    m.Route.Attributes.DataHandler != nil,
	}
}

func matchedInfo(h *route.Matched) map[string]any {
	info := map[string]any{
		"path":   h.Route.Path,
		"appId":  h.Route.AppID,
		"score":  h.Score,
		"params": map[string]string(h.Params),
	}
	if h.Params == nil {
		info["params"] = map[string]string{}
	}
	return info
}
