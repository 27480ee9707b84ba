// Package apperr defines the closed failure taxonomy shared by route resolution,
// the dispatch pipeline and the service registry.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the closed set of failure kinds.
type Kind string

const (
	KindInfra      Kind = "infra"
	KindUpstream   Kind = "upstream"
	KindDomain     Kind = "domain"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindCanceled   Kind = "canceled"
	KindTimeout    Kind = "timeout"
)

// StatusClientClosedRequest is the non-standard status used for canceled calls.
const StatusClientClosedRequest = 499

// InternalMessage replaces the message of every kind that may not cross a trust boundary.
const InternalMessage = "internal error"

// HTMLHint is attached to infra failures caused by an HTML body where JSON was expected.
const HTMLHint = "upstream endpoint returned HTML instead of JSON; check the service URL"

var kindStatus = map[Kind]int{
	KindDomain:     http.StatusNotFound,
	KindValidation: http.StatusBadRequest,
	KindAuth:       http.StatusForbidden,
	KindCanceled:   StatusClientClosedRequest,
	KindTimeout:    http.StatusGatewayTimeout,
	KindUpstream:   http.StatusBadGateway,
	KindInfra:      http.StatusInternalServerError,
}

// Kinds returns every kind in the taxonomy.
func Kinds() []Kind {
	return []Kind{KindDomain, KindValidation, KindAuth, KindCanceled, KindTimeout, KindUpstream, KindInfra}
}

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	_, ok := kindStatus[k]
	return k, ok
}

// Status returns the default external status code of the kind.
func (k Kind) Status() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Exposes reports whether the original message of this kind is safe to return to callers.
func (k Kind) Exposes() bool {
	return k == KindDomain || k == KindValidation || k == KindAuth
}

// Retryable reports whether a caller may reasonably retry a failure of this kind.
func (k Kind) Retryable() bool {
	return k == KindInfra || k == KindUpstream || k == KindTimeout
}

// Warn reports whether failures of this kind are logged at warn rather than error.
func (k Kind) Warn() bool {
	return k.Exposes()
}

// Error is a classified failure. It is immutable once created; the With* methods return copies.
type Error struct {
	Kind    Kind        `json:"kind"`
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Hint    string      `json:"hint,omitempty"`
	cause   error
}

// New creates a classified error with the kind's default status.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Status: kind.Status(), Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies cause. The cause gets a stack trace attached if it has none.
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	if cause != nil {
		if _, ok := cause.(stackTracer); !ok {
			cause = pkgerrors.WithStack(cause)
		}
		e.cause = cause
	}
	return e
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg
}

// Unwrap exposes the original cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause returns the original failure, or nil.
func (e *Error) Cause() error {
	return e.cause
}

// SafeMessage returns the message that may be shown outside the process.
func (e *Error) SafeMessage() string {
	if e.Kind.Exposes() {
		return e.Message
	}
	return InternalMessage
}

// WithCode returns a copy carrying code.
func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

// WithDetails returns a copy carrying details.
func (e *Error) WithDetails(details interface{}) *Error {
	c := *e
	c.Details = details
	return &c
}

// WithHint returns a copy carrying a diagnostic hint.
func (e *Error) WithHint(hint string) *Error {
	c := *e
	c.Hint = hint
	return &c
}

// WithStatus returns a copy with an explicit external status.
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.Status = status
	return &c
}

// Body is the JSON body an HTTP collaborator writes for a failure.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Body returns the external representation of the failure.
func (e *Error) Body() Body {
	return Body{Error: e.SafeMessage(), Code: e.Code}
}

// As returns the classified error inside err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind err would be classified as.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// Classify maps any error onto the taxonomy. A classified error passes through
// unchanged unless its cause is an HTML payload, context errors become canceled
// or timeout, and everything else is infra.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		if !e.Kind.Exposes() && e.Hint == "" && isHTMLCause(e.cause) {
			c := *e
			c.Kind = KindInfra
			c.Status = KindInfra.Status()
			c.Hint = HTMLHint
			return &c
		}
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, err, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return Wrap(KindCanceled, err, "call canceled")
	case isHTMLCause(err):
		return Wrap(KindInfra, err, err.Error()).WithHint(HTMLHint)
	}
	return Wrap(KindInfra, err, err.Error())
}

func isHTMLCause(err error) bool {
	if err == nil {
		return false
	}
	var h *HTMLResponseError
	if errors.As(err, &h) {
		return true
	}
	return LooksLikeHTML(err.Error())
}

var htmlMarkers = []string{
	"<!doctype",
	"<html",
	"unexpected token <",
	"unexpected token in json",
	"invalid character '<' looking for beginning of value",
}

// LooksLikeHTML reports whether msg carries an HTML document or the decode error
// produced by feeding one to a JSON parser.
func LooksLikeHTML(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range htmlMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// HTMLResponseError is returned by remote transports when a JSON endpoint answered with HTML.
type HTMLResponseError struct {
	ContentType string
	Snippet     string
}

func (e *HTMLResponseError) Error() string {
	return fmt.Sprintf("expected JSON response, got %q: %s", e.ContentType, e.Snippet)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}
