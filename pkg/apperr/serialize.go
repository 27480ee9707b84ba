package apperr

import (
	"fmt"
	"strings"
)

// Serialize turns a failure into a log-friendly record. Errors are destructured
// into name, message and stack (when one was captured); any other value, such as
// a recovered panic, is stringified.
func Serialize(v interface{}) map[string]interface{} {
	err, ok := v.(error)
	if !ok {
		return map[string]interface{}{"value": fmt.Sprint(v)}
	}
	out := map[string]interface{}{
		"name":    errorName(err),
		"message": err.Error(),
	}
	if st := findStack(err); st != nil {
		out["stack"] = strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
	}
	if e, ok := As(err); ok {
		out["kind"] = string(e.Kind)
		if e.Code != "" {
			out["code"] = e.Code
		}
	}
	return out
}

// errorName reports the type of the failure itself, looking through the
// stack and message wrappers that Wrap and pkg/errors put around it.
func errorName(err error) string {
	for {
		if _, ok := err.(*Error); ok {
			break
		}
		c, ok := err.(interface{ Cause() error })
		if !ok || c.Cause() == nil {
			break
		}
		err = c.Cause()
	}
	return fmt.Sprintf("%T", err)
}

func findStack(err error) stackTracer {
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			return st
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}
