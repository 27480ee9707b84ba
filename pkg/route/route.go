// Package route resolves request paths to the routes contributed by apps.
//
// Routes are compiled once into an immutable, score-ordered matcher list.
// Matching is a linear scan where the first structural match wins, so more
// specific patterns (more literal segments) always shadow generic ones.
package route

import (
	"context"

	"github.com/morezero/approuter/pkg/reqctx"
)

// RenderMode selects how the page for a route is rendered.
type RenderMode string

const (
	RenderSSR       RenderMode = "ssr"
	RenderStreaming RenderMode = "streaming"
)

// Params holds path parameters captured by a match, already percent-decoded.
type Params map[string]string

// DataHandler loads the data for a matched route. It either returns data
// directly or names a registry method to call.
type DataHandler func(ctx context.Context, params Params, rc *reqctx.RequestContext) (Result, error)

// Attributes are the per-route settings declared by the owning app.
type Attributes struct {
	RenderMode  RenderMode
	DataHandler DataHandler
	Policies    []string
}

// Route is one path pattern contributed by an app.
type Route struct {
	Path       string
	AppID      string
	Attributes Attributes
}

// ServiceDescriptor names a registry method and the arguments to call it with.
type ServiceDescriptor struct {
	ServiceName string         `json:"serviceName"`
	MethodName  string         `json:"methodName"`
	Args        map[string]any `json:"args,omitempty"`
}

type resultKind uint8

const (
	resultInvalid resultKind = iota
	resultData
	resultCall
)

// Result is what a DataHandler produces: plain data or a service call.
// The zero Result is invalid.
type Result struct {
	kind resultKind
	data map[string]any
	call ServiceDescriptor
}

// Data wraps a plain object. A nil map yields an invalid Result.
func Data(data map[string]any) Result {
	if data == nil {
		return Result{}
	}
	return Result{kind: resultData, data: data}
}

// ServiceCall asks the pipeline to invoke service.method with args.
func ServiceCall(service, method string, args map[string]any) Result {
	if service == "" || method == "" {
		return Result{}
	}
	return Result{kind: resultCall, call: ServiceDescriptor{ServiceName: service, MethodName: method, Args: args}}
}

// Call returns a Result for an existing descriptor.
func Call(desc ServiceDescriptor) Result {
	return ServiceCall(desc.ServiceName, desc.MethodName, desc.Args)
}

// Data returns the plain object carried by r.
func (r Result) Data() (map[string]any, bool) {
	return r.data, r.kind == resultData
}

// Call returns the service descriptor carried by r.
func (r Result) Call() (ServiceDescriptor, bool) {
	return r.call, r.kind == resultCall
}

// Valid reports whether r is one of the two accepted shapes.
func (r Result) Valid() bool {
	return r.kind != resultInvalid
}
