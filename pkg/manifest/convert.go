package manifest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/morezero/approuter/pkg/commsutil"
	"github.com/morezero/approuter/pkg/reqctx"
	"github.com/morezero/approuter/pkg/route"
	"github.com/morezero/approuter/pkg/semver"
	"github.com/morezero/approuter/pkg/service"
)

const convertLogPrefix = "manifest:convert"

// Routes converts the manifest into routes in declaration order. Handler
// names in data specs are looked up in handlers.
func (m *Manifest) Routes(handlers map[string]route.DataHandler) ([]route.Route, error) {
	out := make([]route.Route, 0, m.RouteCount())
	for _, app := range m.Apps {
		for _, r := range app.Routes {
			h, err := dataHandler(r.Data, handlers)
			if err != nil {
				return nil, fmt.Errorf("app %q route %q: %w", app.ID, r.Path, err)
			}
			mode := route.RenderMode(r.RenderMode)
			if mode == "" {
				mode = route.RenderSSR
			}
			out = append(out, route.Route{
				Path:  r.Path,
				AppID: app.ID,
				Attributes: route.Attributes{
					RenderMode:  mode,
					DataHandler: h,
					Policies:    append([]string(nil), r.Policies...),
				},
			})
		}
	}
	return out, nil
}

func dataHandler(d *DataSpec, handlers map[string]route.DataHandler) (route.DataHandler, error) {
	switch {
	case d == nil:
		return nil, nil
	case d.Handler != "":
		h, ok := handlers[d.Handler]
		if !ok || h == nil {
			return nil, fmt.Errorf("unknown data handler %q", d.Handler)
		}
		return h, nil
	case d.Service != "":
		return serviceHandler(d.Service, d.Method, d.Args), nil
	case d.Static != nil:
		return staticHandler(d.Static), nil
	}
	return nil, nil
}

func staticHandler(data map[string]any) route.DataHandler {
	return func(context.Context, route.Params, *reqctx.RequestContext) (route.Result, error) {
		out := make(map[string]any, len(data))
		for k, v := range data {
			out[k] = v
		}
		return route.Data(out), nil
	}
}

// serviceHandler passes path params as call args; configured args win.
func serviceHandler(svc, method string, args map[string]any) route.DataHandler {
	return func(_ context.Context, params route.Params, _ *reqctx.RequestContext) (route.Result, error) {
		merged := make(map[string]any, len(params)+len(args))
		for k, v := range params {
			merged[k] = v
		}
		for k, v := range args {
			merged[k] = v
		}
		return route.ServiceCall(svc, method, merged), nil
	}
}

// RegisterParams holds parameters for RegisterServices.
type RegisterParams struct {
	Builder *service.Builder
	// Pool provides COMMS connections; required when any service uses a subject.
	Pool       *service.ConnPool
	HTTPClient *http.Client
	// SubjectPrefix is used to derive subjects for services that declare none.
	SubjectPrefix string
}

// RegisterServices adds every declared remote service to the builder.
func (m *Manifest) RegisterServices(params RegisterParams) error {
	for _, s := range m.Services {
		methods, err := remoteMethods(s, params)
		if err != nil {
			return fmt.Errorf("%s - service %s: %w", convertLogPrefix, s.Name, err)
		}
		if err := params.Builder.AddVersion(s.Name, s.Version, methods); err != nil {
			return err
		}
	}
	return nil
}

func remoteMethods(s ServiceSpec, params RegisterParams) (service.Methods, error) {
	if s.URL != "" {
		return service.HTTP(service.HTTPParams{Client: params.HTTPClient, BaseURL: s.URL, Methods: s.Methods}), nil
	}
	if params.Pool == nil {
		return nil, fmt.Errorf("COMMS is not available")
	}
	nc, err := params.Pool.Get(s.NatsURL)
	if err != nil {
		return nil, err
	}
	return service.Remote(service.RemoteParams{
		Conn:    nc,
		Subject: ServiceSubject(s, params.SubjectPrefix),
		Service: s.Name,
		Methods: s.Methods,
	}), nil
}

// ServiceSubject returns the declared subject or derives one from the name
// and major version.
func ServiceSubject(s ServiceSpec, prefix string) string {
	if s.Subject != "" {
		return s.Subject
	}
	major := -1
	if s.Version != "" {
		if majors := semver.GetUniqueMajors([]string{s.Version}); len(majors) == 1 {
			major = majors[0]
		}
	}
	return commsutil.BuildServiceSubject(prefix, s.Name, major)
}
