package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/approuter/pkg/apperr"
	"github.com/morezero/approuter/pkg/deadline"
	"github.com/morezero/approuter/pkg/reqctx"
	"github.com/morezero/approuter/pkg/semver"
)

const logPrefix = "service:registry"

type entry struct {
	name    string
	version string
	methods Methods
}

type versions struct {
	plain  *entry
	byVer  map[string]*entry
	sorted []string
}

// Builder collects services until Register freezes them into a Registry.
// It is safe for concurrent use.
type Builder struct {
	mu       sync.Mutex
	frozen   bool
	services map[string]*versions
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{services: map[string]*versions{}}
}

// Add registers an unversioned service.
func (b *Builder) Add(name string, methods Methods) error {
	return b.AddVersion(name, "", methods)
}

// AddVersion registers one version of a service. An empty version registers
// the unversioned service.
func (b *Builder) AddVersion(name, version string, methods Methods) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return fmt.Errorf("%s - add %q: %w", logPrefix, name, ErrFrozen)
	}
	if !semver.ValidateServiceName(name) {
		return fmt.Errorf("%s - invalid service name %q", logPrefix, name)
	}
	if len(methods) == 0 {
		return fmt.Errorf("%s - service %q has no methods", logPrefix, name)
	}
	for m, def := range methods {
		if def.Handler == nil {
			return fmt.Errorf("%s - %s.%s has no handler", logPrefix, name, m)
		}
	}

	if version != "" {
		v, err := semver.NormalizeVersion(version)
		if err != nil {
			return fmt.Errorf("%s - service %q: %w", logPrefix, name, err)
		}
		version = v
	}

	vs, ok := b.services[name]
	if !ok {
		vs = &versions{byVer: map[string]*entry{}}
		b.services[name] = vs
	}

	e := &entry{name: name, version: version, methods: copyMethods(methods)}
	if version == "" {
		if vs.plain != nil {
			return fmt.Errorf("%s - service %q already registered", logPrefix, name)
		}
		vs.plain = e
		return nil
	}
	if _, dup := vs.byVer[version]; dup {
		return fmt.Errorf("%s - service %s@%s already registered", logPrefix, name, version)
	}
	vs.byVer[version] = e
	return nil
}

// Register freezes the builder and returns the immutable Registry. Calling it
// twice returns ErrFrozen.
func (b *Builder) Register() (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return nil, fmt.Errorf("%s - register: %w", logPrefix, ErrFrozen)
	}
	b.frozen = true

	services := make(map[string]*versions, len(b.services))
	for name, vs := range b.services {
		keys := make([]string, 0, len(vs.byVer))
		for v := range vs.byVer {
			keys = append(keys, v)
		}
		services[name] = &versions{plain: vs.plain, byVer: vs.byVer, sorted: semver.SortVersionsDesc(keys)}
	}

	slog.Info(fmt.Sprintf("%s - Registered %d services", logPrefix, len(services)))
	return &Registry{services: services}, nil
}

// Frozen reports whether Register has been called.
func (b *Builder) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// Registry is the frozen service table. It has no mutators.
type Registry struct {
	services map[string]*versions
}

// Has reports whether ref resolves to a registered service.
func (r *Registry) Has(ref string) bool {
	_, ok := r.resolve(ref)
	return ok
}

// Lookup describes the service ref resolves to.
func (r *Registry) Lookup(ref string) (ServiceInfo, bool) {
	e, ok := r.resolve(ref)
	if !ok {
		return ServiceInfo{}, false
	}
	info := ServiceInfo{Name: e.name, Methods: methodNames(e.methods)}
	if e.version != "" {
		info.Versions = []string{e.version}
	}
	return info, true
}

// Services lists every registered service, sorted by name. The result is a copy.
func (r *Registry) Services() []ServiceInfo {
	out := make([]ServiceInfo, 0, len(r.services))
	for name, vs := range r.services {
		info := ServiceInfo{Name: name, Versions: append([]string(nil), vs.sorted...)}
		seen := map[string]bool{}
		if vs.plain != nil {
			for m := range vs.plain.methods {
				seen[m] = true
			}
		}
		for _, e := range vs.byVer {
			for m := range e.methods {
				seen[m] = true
			}
		}
		for m := range seen {
			info.Methods = append(info.Methods, m)
		}
		sort.Strings(info.Methods)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call invokes service.method with params.
//
// Unknown services and methods are domain failures. A ctx that has already
// fired fails as canceled without invoking the handler. Params and results pass through
// the method's validators, and a nil result is an infra failure. Handler
// failures are logged and returned unchanged.
func (r *Registry) Call(ctx context.Context, service, method string, params map[string]any, rc *reqctx.RequestContext) (map[string]any, error) {
	e, ok := r.resolve(service)
	if !ok {
		return nil, apperr.Newf(apperr.KindDomain, "Unknown service: %s", service).
			WithDetails(map[string]any{"service": service})
	}
	def, ok := e.methods[method]
	if !ok {
		return nil, apperr.Newf(apperr.KindDomain, "Unknown method: %s.%s", service, method).
			WithDetails(map[string]any{"service": service, "method": method})
	}

	// The caller gave up before dispatch, whether by cancel or by deadline.
	if deadline.Fired(ctx) {
		return nil, apperr.Wrap(apperr.KindCanceled, deadline.Err(ctx), "call canceled before dispatch")
	}

	if params == nil {
		params = map[string]any{}
	}

	if def.ParamsValidator != nil {
		validated, err := def.ParamsValidator(ctx, params)
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return nil, err
			}
			return nil, apperr.Wrap(apperr.KindValidation, err, err.Error())
		}
		if validated != nil {
			params = validated
		}
	}

	result, err := invoke(ctx, def.Handler, params, rc)
	if err != nil {
		attrs := []any{
			slog.String("service", service),
			slog.String("method", method),
			slog.Any("params", params),
			slog.Any("error", apperr.Serialize(err)),
		}
		if rc == nil || rc.Logger == nil {
			attrs = append(attrs, slog.String("traceId", rc.Trace()))
		}
		rc.Log().Error(fmt.Sprintf("%s - %s.%s failed", logPrefix, service, method), attrs...)
		return nil, err
	}

	if result == nil {
		return nil, apperr.Newf(apperr.KindInfra, "Non-object result from %s.%s", service, method)
	}

	if def.ResultValidator != nil {
		validated, err := def.ResultValidator(ctx, result)
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return nil, err
			}
			return nil, apperr.Wrap(apperr.KindInfra, err, err.Error()).WithCode("invalid_result")
		}
		if validated != nil {
			result = validated
		}
	}
	return result, nil
}

// invoke runs the handler, turning a panic into an infra failure.
func invoke(ctx context.Context, h HandlerFunc, params map[string]any, rc *reqctx.RequestContext) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = apperr.Wrap(apperr.KindInfra, &deadline.PanicError{Value: r}, fmt.Sprint(r))
		}
	}()
	return h(ctx, params, rc)
}

// resolve finds the entry for a plain or versioned reference. A plain name
// prefers the unversioned registration, then the highest stable version.
func (r *Registry) resolve(ref string) (*entry, bool) {
	parsed, err := semver.ParseServiceRef(ref)
	if err != nil {
		return nil, false
	}
	vs, ok := r.services[parsed.Name]
	if !ok {
		return nil, false
	}
	if !parsed.Versioned() && vs.plain != nil {
		return vs.plain, true
	}
	v, ok := semver.ResolveVersion(semver.ResolveVersionParams{Versions: vs.sorted, Range: parsed.Range})
	if !ok {
		return nil, false
	}
	return vs.byVer[v], true
}

func copyMethods(m Methods) Methods {
	out := make(Methods, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func methodNames(m Methods) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
