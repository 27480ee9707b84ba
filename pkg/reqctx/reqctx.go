// Package reqctx carries per-request metadata through data handlers and
// registry methods.
package reqctx

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// RequestContext is created fresh for every inbound request.
type RequestContext struct {
	TraceID string
	Headers http.Header
	// Logger is expected to carry the trace id already.
	Logger *slog.Logger
	// Cancel is an optional extra cancellation signal combined with the
	// context passed to Resolve.
	Cancel context.Context
	// Timeout bounds the whole data-loading step. Zero means unbounded.
	Timeout time.Duration
}

// Log returns the request logger, falling back to the default logger.
func (rc *RequestContext) Log() *slog.Logger {
	if rc == nil || rc.Logger == nil {
		return slog.Default()
	}
	return rc.Logger
}

// Header returns the first value of the named request header.
func (rc *RequestContext) Header(name string) string {
	if rc == nil || rc.Headers == nil {
		return ""
	}
	return rc.Headers.Get(name)
}

// Trace returns the trace id, or "" for a nil context.
func (rc *RequestContext) Trace() string {
	if rc == nil {
		return ""
	}
	return rc.TraceID
}

type contextKey struct{}

// With stores rc in ctx.
func With(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// From returns the RequestContext stored in ctx, or nil.
func From(ctx context.Context) *RequestContext {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rc
}
