// Package service holds the build-once registry of backend methods that route
// data handlers call by name.
package service

import (
	"context"
	"errors"

	"github.com/morezero/approuter/pkg/reqctx"
)

// HandlerFunc implements one registry method.
type HandlerFunc func(ctx context.Context, params map[string]any, rc *reqctx.RequestContext) (map[string]any, error)

// Validator checks and optionally normalizes a params or result object.
type Validator func(ctx context.Context, v map[string]any) (map[string]any, error)

// MethodDef is a method plus its optional validators.
type MethodDef struct {
	Handler         HandlerFunc
	ParamsValidator Validator
	ResultValidator Validator
	Description     string
}

// Methods maps method names to their definitions.
type Methods map[string]MethodDef

// ServiceInfo describes a registered service.
type ServiceInfo struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions,omitempty"`
	Methods  []string `json:"methods"`
}

// ErrFrozen is returned by any Builder mutation after Register.
var ErrFrozen = errors.New("service registry is frozen")
