package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

const apperrTestPrefix = "apperr:apperr_test"

func TestKind_Status(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindDomain, http.StatusNotFound},
		{KindValidation, http.StatusBadRequest},
		{KindAuth, http.StatusForbidden},
		{KindCanceled, 499},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindUpstream, http.StatusBadGateway},
		{KindInfra, http.StatusInternalServerError},
		{Kind("bogus"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Status(); got != tt.want {
				t.Errorf("%s - Status() = %d, want %d", apperrTestPrefix, got, tt.want)
			}
		})
	}
}

func TestSafeMessage(t *testing.T) {
	for _, k := range Kinds() {
		e := New(k, "secret detail")
		got := e.SafeMessage()
		if k.Exposes() {
			if got != "secret detail" {
				t.Errorf("%s - %s SafeMessage = %q, want original", apperrTestPrefix, k, got)
			}
			continue
		}
		if got != InternalMessage {
			t.Errorf("%s - %s SafeMessage = %q, want %q", apperrTestPrefix, k, got, InternalMessage)
		}
	}
}

func TestWithMethods_DoNotMutate(t *testing.T) {
	base := New(KindDomain, "route_not_found")
	withCode := base.WithCode("ROUTE").WithDetails(map[string]string{"path": "/x"})

	if base.Code != "" || base.Details != nil {
		t.Errorf("%s - With* mutated the receiver: %+v", apperrTestPrefix, base)
	}
	if withCode.Code != "ROUTE" {
		t.Errorf("%s - Code = %q, want ROUTE", apperrTestPrefix, withCode.Code)
	}
	if withCode.Body().Code != "ROUTE" || withCode.Body().Error != "route_not_found" {
		t.Errorf("%s - unexpected body %+v", apperrTestPrefix, withCode.Body())
	}
}

func TestClassify(t *testing.T) {
	domain := New(KindAuth, "nope")

	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantHint bool
	}{
		{"classified passes through", domain, KindAuth, false},
		{"wrapped classified passes through", fmt.Errorf("outer: %w", domain), KindAuth, false},
		{"canceled", context.Canceled, KindCanceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout, false},
		{"plain", errors.New("boom"), KindInfra, false},
		{"html doctype", errors.New("<!DOCTYPE html><html>"), KindInfra, true},
		{"json decode of html", errors.New("invalid character '<' looking for beginning of value"), KindInfra, true},
		{"unexpected token", errors.New("Unexpected token < in JSON at position 0"), KindInfra, true},
		{"html response error", &HTMLResponseError{ContentType: "text/html"}, KindInfra, true},
		{"upstream with html cause", Wrap(KindUpstream, errors.New("<html>502</html>"), "bad gateway"), KindInfra, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.wantKind {
				t.Errorf("%s - Kind = %s, want %s", apperrTestPrefix, got.Kind, tt.wantKind)
			}
			if got.Status != tt.wantKind.Status() {
				t.Errorf("%s - Status = %d, want %d", apperrTestPrefix, got.Status, tt.wantKind.Status())
			}
			if (got.Hint == HTMLHint) != tt.wantHint {
				t.Errorf("%s - Hint = %q, wantHint %v", apperrTestPrefix, got.Hint, tt.wantHint)
			}
		})
	}

	if Classify(nil) != nil {
		t.Errorf("%s - Classify(nil) should be nil", apperrTestPrefix)
	}
}

func TestClassify_PreservesCause(t *testing.T) {
	cause := errors.New("db down")
	got := Classify(cause)
	if !errors.Is(got, cause) {
		t.Errorf("%s - classified error should unwrap to its cause", apperrTestPrefix)
	}
	if !errors.Is(Classify(context.Canceled), context.Canceled) {
		t.Errorf("%s - canceled should unwrap to context.Canceled", apperrTestPrefix)
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind(" Timeout "); !ok || k != KindTimeout {
		t.Errorf("%s - ParseKind(Timeout) = %s, %v", apperrTestPrefix, k, ok)
	}
	if _, ok := ParseKind("fatal"); ok {
		t.Errorf("%s - ParseKind(fatal) should fail", apperrTestPrefix)
	}
}

type quotaError struct{}

func (*quotaError) Error() string { return "quota exhausted" }

func TestSerialize(t *testing.T) {
	t.Run("error with stack", func(t *testing.T) {
		out := Serialize(pkgerrors.New("kaboom"))
		if out["message"] != "kaboom" {
			t.Errorf("%s - message = %v", apperrTestPrefix, out["message"])
		}
		stack, _ := out["stack"].(string)
		if !strings.Contains(stack, "TestSerialize") {
			t.Errorf("%s - stack should name the test function, got %q", apperrTestPrefix, stack)
		}
	})

	t.Run("classified error", func(t *testing.T) {
		out := Serialize(New(KindDomain, "x").WithCode("C"))
		if out["kind"] != "domain" || out["code"] != "C" {
			t.Errorf("%s - unexpected record %v", apperrTestPrefix, out)
		}
		if out["name"] != "*apperr.Error" {
			t.Errorf("%s - name = %v", apperrTestPrefix, out["name"])
		}
	})

	t.Run("name looks through stack wrappers", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
		}{
			{"cause of a classified error", Wrap(KindInfra, &quotaError{}, "quota").Cause()},
			{"pkg/errors wrap", pkgerrors.Wrap(&quotaError{}, "reserve")},
			{"pkg/errors with stack", pkgerrors.WithStack(&quotaError{})},
		}
		for _, tt := range tests {
			out := Serialize(tt.err)
			if out["name"] != "*apperr.quotaError" {
				t.Errorf("%s - %s: name = %v, want *apperr.quotaError", apperrTestPrefix, tt.name, out["name"])
			}
			if _, ok := out["stack"]; !ok {
				t.Errorf("%s - %s: stack should still be recorded", apperrTestPrefix, tt.name)
			}
		}
	})

	t.Run("non-error value", func(t *testing.T) {
		out := Serialize(42)
		if out["value"] != "42" {
			t.Errorf("%s - value = %v, want 42", apperrTestPrefix, out["value"])
		}
	})
}
