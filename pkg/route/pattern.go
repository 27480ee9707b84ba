package route

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
)

// Parameter modifiers.
const (
	modNone     = 0
	modOptional = '?'
	modZeroMore = '*'
	modOneMore  = '+'
)

// WildcardParam is the param name a bare "*" segment is captured under.
const WildcardParam = "*"

var paramNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type segment struct {
	kind  segmentKind
	value string
	mod   byte
}

func (s segment) repeats() bool {
	return s.kind == segWildcard || s.mod == modZeroMore || s.mod == modOneMore
}

type pattern struct {
	raw  string
	segs []segment
}

// ParseError describes a malformed route pattern.
type ParseError struct {
	Pattern string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid route pattern %q: %s", e.Pattern, e.Reason)
}

func parsePattern(raw string) (pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return pattern{}, &ParseError{Pattern: raw, Reason: "must start with /"}
	}

	parts := splitPath(raw)
	segs := make([]segment, 0, len(parts))
	for i, part := range parts {
		last := i == len(parts)-1
		seg, err := parseSegment(part)
		if err != nil {
			return pattern{}, &ParseError{Pattern: raw, Reason: err.Error()}
		}
		if seg.repeats() && !last {
			return pattern{}, &ParseError{Pattern: raw, Reason: fmt.Sprintf("segment %q must be last", part)}
		}
		segs = append(segs, seg)
	}
	return pattern{raw: raw, segs: segs}, nil
}

func parseSegment(part string) (segment, error) {
	switch {
	case part == "*":
		return segment{kind: segWildcard, value: WildcardParam}, nil
	case strings.HasPrefix(part, "*"):
		return segment{}, fmt.Errorf("wildcard %q must be a whole segment", part)
	case strings.HasPrefix(part, ":"):
		name := part[1:]
		var mod byte
		if n := len(name); n > 0 {
			switch name[n-1] {
			case modOptional, modZeroMore, modOneMore:
				mod = name[n-1]
				name = name[:n-1]
			}
		}
		if name == "" {
			return segment{}, fmt.Errorf("parameter %q has no name", part)
		}
		if !paramNameRegex.MatchString(name) {
			return segment{}, fmt.Errorf("parameter %q has an invalid name or modifier", part)
		}
		return segment{kind: segParam, value: name, mod: mod}, nil
	}
	return segment{kind: segLiteral, value: part}, nil
}

// score ranks a pattern: literal segments weigh most, plain params beat
// modified ones, and wildcards weigh least. Deeper patterns get a small bonus.
func (p pattern) score() float64 {
	var s float64
	for _, seg := range p.segs {
		switch seg.kind {
		case segLiteral:
			s += 10
		case segParam:
			s++
			if seg.mod != modNone {
				s -= 0.5
			}
		case segWildcard:
			s += 0.1
		}
	}
	return s + 0.1*float64(len(p.segs))
}

func (p pattern) match(parts []string) (Params, bool) {
	params := Params{}
	if !matchSegments(p.segs, parts, params) {
		return nil, false
	}
	return params, true
}

func matchSegments(segs []segment, parts []string, params Params) bool {
	if len(segs) == 0 {
		return len(parts) == 0
	}
	seg := segs[0]

	switch seg.kind {
	case segLiteral:
		return len(parts) > 0 && parts[0] == seg.value && matchSegments(segs[1:], parts[1:], params)

	case segWildcard:
		params[seg.value] = decodeRest(parts)
		return true
	}

	switch seg.mod {
	case modZeroMore:
		if len(parts) > 0 {
			params[seg.value] = decodeRest(parts)
		}
		return true

	case modOneMore:
		if len(parts) == 0 {
			return false
		}
		params[seg.value] = decodeRest(parts)
		return true

	case modOptional:
		if len(parts) > 0 {
			params[seg.value] = decode(parts[0])
			if matchSegments(segs[1:], parts[1:], params) {
				return true
			}
			delete(params, seg.value)
		}
		return matchSegments(segs[1:], parts, params)
	}

	if len(parts) == 0 {
		return false
	}
	params[seg.value] = decode(parts[0])
	if matchSegments(segs[1:], parts[1:], params) {
		return true
	}
	delete(params, seg.value)
	return false
}

// decode percent-decodes v, keeping the raw value when it is malformed.
func decode(v string) string {
	d, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return d
}

// segmentEscaper keeps a decoded segment from being mistaken for several.
var segmentEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

// decodeRest decodes a multi-segment capture one segment at a time and joins
// the results with "/". A "/" or "%" that was escaped inside a segment stays
// escaped, so "a/%2Fb" captures as "a/%2Fb" and not "a//b".
func decodeRest(parts []string) string {
	out := make([]string, len(parts))
	for i, part := range parts {
		out[i] = segmentEscaper.Replace(decode(part))
	}
	return strings.Join(out, "/")
}

// normalizePath drops query and fragment and maps "" to "/".
func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	return path
}

func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
