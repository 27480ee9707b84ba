package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectServicePrefix = "approuter.svc"
	SubjectRouter        = "approuter.svc.router"
	SubjectReload        = "approuter.routes.reload"
	SubjectChangeEvent   = "approuter.routes.changed"
)

// BuildChangeSubject builds the per-app route change subject.
func BuildChangeSubject(app string) string {
	return fmt.Sprintf("%s.%s", SubjectChangeEvent, subjectToken(app))
}

// BuildServiceSubject builds the COMMS subject a registry service is exposed
// on. A negative major leaves the version suffix off.
func BuildServiceSubject(prefix, service string, major int) string {
	if prefix == "" {
		prefix = SubjectServicePrefix
	}
	subject := fmt.Sprintf("%s.%s", prefix, subjectToken(service))
	if major >= 0 {
		subject = fmt.Sprintf("%s.v%d", subject, major)
	}
	return subject
}

// subjectToken makes s safe to use as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}
