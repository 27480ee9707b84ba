package commsutil

import (
	"encoding/json"
	"time"

	"github.com/morezero/approuter/pkg/apperr"
)

// Envelope types.
const (
	TypeInvoke = "invoke"
)

// ServiceRequest is the JSON envelope for a registry method call over COMMS.
type ServiceRequest struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Service string             `json:"service"`
	Method  string             `json:"method"`
	Params  json.RawMessage    `json:"params,omitempty"`
	Ctx     *InvocationContext `json:"ctx,omitempty"`
}

// ServiceResponse is the JSON envelope returned for a ServiceRequest.
type ServiceResponse struct {
	ID     string         `json:"id"`
	Ok     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Kind      string      `json:"kind"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	TraceID       string            `json:"traceId,omitempty"`
	RequestID     string            `json:"requestId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	TenantID      string            `json:"tenantId,omitempty"`
	UserID        string            `json:"userId,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	DeadlineMs    int64             `json:"deadlineMs,omitempty"`
	TimeoutMs     int               `json:"timeoutMs,omitempty"`
}

// Budget returns the time the caller is still willing to wait, or 0 when
// it set no bound. DeadlineMs is an absolute unix-millisecond deadline and
// wins over TimeoutMs.
func (c *InvocationContext) Budget(now time.Time) time.Duration {
	if c == nil {
		return 0
	}
	if c.DeadlineMs > 0 {
		left := time.UnixMilli(c.DeadlineMs).Sub(now)
		if left <= 0 {
			return time.Nanosecond
		}
		return left
	}
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return 0
}

// DetailFromError maps a classified failure onto the wire. Messages of kinds
// that are not exposed are replaced with the generic internal message.
func DetailFromError(err error) *ErrorDetail {
	e := apperr.Classify(err)
	if e == nil {
		return nil
	}
	code := e.Code
	if code == "" {
		code = string(e.Kind)
	}
	return &ErrorDetail{
		Code:      code,
		Kind:      string(e.Kind),
		Message:   e.SafeMessage(),
		Details:   exposedDetails(e),
		Retryable: e.Kind.Retryable(),
	}
}

// ErrorFromDetail rebuilds a classified failure from the wire. Unknown kinds
// become upstream failures.
func ErrorFromDetail(d *ErrorDetail) *apperr.Error {
	if d == nil {
		return apperr.New(apperr.KindUpstream, "remote call failed without error detail")
	}
	kind, ok := apperr.ParseKind(d.Kind)
	if !ok {
		kind = apperr.KindUpstream
	}
	e := apperr.New(kind, d.Message)
	if d.Code != "" && d.Code != string(kind) {
		e = e.WithCode(d.Code)
	}
	if d.Details != nil {
		e = e.WithDetails(d.Details)
	}
	return e
}

func exposedDetails(e *apperr.Error) interface{} {
	if !e.Kind.Exposes() {
		return nil
	}
	return e.Details
}
