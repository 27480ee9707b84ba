// Package semver parses versioned service references and resolves them
// against the registered versions of a service.
package semver

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:parser"

// ServiceRef is a parsed service reference such as "billing@^2.1".
type ServiceRef struct {
	// Service name without version (e.g., "billing")
	Name string
	// Version range if specified (e.g., "^2.1", "2", ""); empty means any
	Range string
	// Raw input string
	Raw string
}

// Versioned reports whether the reference carried a version range.
func (r ServiceRef) Versioned() bool {
	return r.Range != ""
}

var (
	serviceNameRegex  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseServiceRef parses a service reference.
//
// Supported formats:
//   - users            (any version)
//   - users@2          (major only)
//   - users@2.1.0      (exact version)
//   - users@^2.1       (caret range)
//   - users@~2.1.0     (tilde range)
//   - users@>=2 <4     (comparison range)
func ParseServiceRef(input string) (ServiceRef, error) {
	raw := strings.TrimSpace(input)

	name, rangeStr, versioned := strings.Cut(raw, "@")
	name = strings.TrimSpace(name)
	rangeStr = strings.TrimSpace(rangeStr)

	if !ValidateServiceName(name) {
		return ServiceRef{}, fmt.Errorf("%s - invalid service name: %q", logPrefix, raw)
	}
	if versioned && rangeStr == "" {
		return ServiceRef{}, fmt.Errorf("%s - empty version range: %q", logPrefix, raw)
	}

	return ServiceRef{Name: name, Range: rangeStr, Raw: raw}, nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// BuildServiceRef builds a reference string from a name and optional version.
func BuildServiceRef(name, version string) string {
	if version != "" {
		return name + "@" + version
	}
	return name
}

// ValidateServiceName validates a service name (letters, digits, dots, hyphens, underscores).
func ValidateServiceName(name string) bool {
	return serviceNameRegex.MatchString(name)
}

// NormalizeVersion returns the canonical form of a registered version
// ("2.1" becomes "2.1.0").
func NormalizeVersion(version string) (string, error) {
	v, err := masterminds.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return "", fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	return v.String(), nil
}
