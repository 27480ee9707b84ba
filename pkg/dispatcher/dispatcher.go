package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/morezero/approuter/pkg/apperr"
	"github.com/morezero/approuter/pkg/commsutil"
	"github.com/morezero/approuter/pkg/deadline"
	"github.com/morezero/approuter/pkg/reqctx"
	"github.com/morezero/approuter/pkg/service"
)

const logPrefix = "dispatcher:dispatch"

// Envelope request types.
const (
	TypeInvoke   = commsutil.TypeInvoke
	TypeDescribe = "describe"
	TypePing     = "ping"
)

// Dispatcher exposes a frozen service registry to other processes over COMMS.
type Dispatcher struct {
	registry *service.Registry
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(reg *service.Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// Dispatch routes an envelope to the registry and returns the response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *commsutil.ServiceRequest) *commsutil.ServiceResponse {
	slog.Debug(fmt.Sprintf("%s - type=%s service=%s method=%s id=%s", logPrefix, req.Type, req.Service, req.Method, req.ID))

	switch req.Type {
	case TypeInvoke, "":
		return d.handleInvoke(ctx, req)
	case TypeDescribe:
		return d.handleDescribe(req)
	case TypePing:
		return &commsutil.ServiceResponse{ID: req.ID, Ok: true, Result: map[string]any{"status": "ok"}}
	default:
		return errorResponse(req.ID, "INVALID_REQUEST", fmt.Sprintf("Unknown request type: %s", req.Type))
	}
}

func (d *Dispatcher) handleInvoke(ctx context.Context, req *commsutil.ServiceRequest) *commsutil.ServiceResponse {
	if d.registry == nil {
		return errorFromErr(req.ID, apperr.New(apperr.KindInfra, "service registry not configured"))
	}
	if req.Service == "" || req.Method == "" {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "service and method are required")
	}

	params, err := commsutil.DecodeParams(req.Params)
	if err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse params")
	}

	rc := requestContext(req)
	result, err := deadline.Run(ctx, func(ctx context.Context) (map[string]any, error) {
		return d.registry.Call(ctx, req.Service, req.Method, params, rc)
	})
	if err != nil {
		return errorFromErr(req.ID, err)
	}
	return &commsutil.ServiceResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleDescribe(req *commsutil.ServiceRequest) *commsutil.ServiceResponse {
	if d.registry == nil {
		return &commsutil.ServiceResponse{ID: req.ID, Ok: true, Result: map[string]any{"services": []service.ServiceInfo{}}}
	}
	if req.Service != "" {
		info, ok := d.registry.Lookup(req.Service)
		if !ok {
			return errorFromErr(req.ID, apperr.Newf(apperr.KindDomain, "Unknown service: %s", req.Service))
		}
		return &commsutil.ServiceResponse{ID: req.ID, Ok: true, Result: map[string]any{"service": info}}
	}
	return &commsutil.ServiceResponse{ID: req.ID, Ok: true, Result: map[string]any{"services": d.registry.Services()}}
}

// --- helpers ---

func requestContext(req *commsutil.ServiceRequest) *reqctx.RequestContext {
	rc := &reqctx.RequestContext{Headers: http.Header{}}
	if req.Ctx != nil {
		rc.TraceID = req.Ctx.TraceID
		if rc.TraceID == "" {
			rc.TraceID = req.Ctx.RequestID
		}
		for k, v := range req.Ctx.Headers {
			rc.Headers.Set(k, v)
		}
	}
	rc.Logger = slog.Default().With(
		slog.String("traceId", rc.TraceID),
		slog.String("service", req.Service),
		slog.String("method", req.Method),
	)
	return rc
}

func errorResponse(id, code, message string) *commsutil.ServiceResponse {
	return &commsutil.ServiceResponse{
		ID: id,
		Ok: false,
		Error: &commsutil.ErrorDetail{
			Code:      code,
			Kind:      string(apperr.KindValidation),
			Message:   message,
			Retryable: false,
		},
	}
}

func errorFromErr(id string, err error) *commsutil.ServiceResponse {
	return &commsutil.ServiceResponse{ID: id, Ok: false, Error: commsutil.DetailFromError(err)}
}
