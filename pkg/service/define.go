package service

import (
	"context"
	"fmt"

	"github.com/morezero/approuter/pkg/reqctx"
)

const defineLogPrefix = "service:define"

// Define normalizes a loose method table. Each value may be a HandlerFunc, a
// plain function with the HandlerFunc signature, or a MethodDef.
func Define(specs map[string]any) (Methods, error) {
	out := make(Methods, len(specs))
	for name, spec := range specs {
		def, err := toMethodDef(spec)
		if err != nil {
			return nil, fmt.Errorf("%s - method %q: %w", defineLogPrefix, name, err)
		}
		out[name] = def
	}
	return out, nil
}

// MustDefine is Define for static tables; it panics on error.
func MustDefine(specs map[string]any) Methods {
	m, err := Define(specs)
	if err != nil {
		panic(err)
	}
	return m
}

func toMethodDef(spec any) (MethodDef, error) {
	switch s := spec.(type) {
	case MethodDef:
		if s.Handler == nil {
			return MethodDef{}, fmt.Errorf("method definition has no handler")
		}
		return s, nil
	case *MethodDef:
		if s == nil || s.Handler == nil {
			return MethodDef{}, fmt.Errorf("method definition has no handler")
		}
		return *s, nil
	case HandlerFunc:
		if s == nil {
			return MethodDef{}, fmt.Errorf("nil handler")
		}
		return MethodDef{Handler: s}, nil
	case func(context.Context, map[string]any, *reqctx.RequestContext) (map[string]any, error):
		if s == nil {
			return MethodDef{}, fmt.Errorf("nil handler")
		}
		return MethodDef{Handler: s}, nil
	}
	return MethodDef{}, fmt.Errorf("unsupported method spec %T", spec)
}
